package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedDepth struct {
	pending, retrying, dead int64
	err                     error
}

func (f fixedDepth) Depth(context.Context) (int64, int64, int64, error) {
	return f.pending, f.retrying, f.dead, f.err
}

func gather(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "state" {
					out[lp.GetValue()] = m.GetGauge().GetValue()
				}
			}
		}
	}
	return out
}

func TestQueueCollectorReportsDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewQueueCollector("tune", fixedDepth{pending: 3, retrying: 1, dead: 2})
	require.NoError(t, Register(reg, c))
	require.NoError(t, Register(reg, c))

	assert.Equal(t, map[string]float64{"pending": 3, "retrying": 1, "dead": 2}, gather(t, reg))
}

func TestQueueCollectorSkipsOnError(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg, NewQueueCollector("tune", fixedDepth{err: assert.AnError})))

	assert.Empty(t, gather(t, reg))
}
