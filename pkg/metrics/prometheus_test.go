package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordTask("train", "ok")
	r.RecordTask("train", "ok")
	r.RecordTask("train", "skipped")
	r.RecordCandidate(true)
	r.RecordCandidate(false)
	r.RecordForecastRows("370", 8)
	r.RecordModelMetric("370", "mse", 4.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.tasksTotal.WithLabelValues("train", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tasksTotal.WithLabelValues("train", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.candidates.WithLabelValues("false")))
	assert.Equal(t, 8.0, testutil.ToFloat64(r.forecastRows.WithLabelValues("370")))
	assert.Equal(t, 4.5, testutil.ToFloat64(r.modelMetric.WithLabelValues("370", "mse")))
}
