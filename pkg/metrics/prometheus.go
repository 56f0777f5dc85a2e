package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	tasksTotal   *prometheus.CounterVec
	candidates   *prometheus.CounterVec
	forecastRows *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	modelMetric  *prometheus.GaugeVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder on reg, so tests can use a private registry.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		tasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epicast_tasks_total",
				Help: "Per disease code task outcomes by stage",
			},
			[]string{"stage", "status"},
		),
		candidates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epicast_tuning_candidates_total",
				Help: "Grid candidates evaluated by fit result",
			},
			[]string{"fitted"},
		),
		forecastRows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epicast_forecast_rows_total",
				Help: "Forecast rows appended per disease code",
			},
			[]string{"disease_code"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epicast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "epicast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
		modelMetric: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "epicast_latest_model_metric",
				Help: "Test-window metrics of the most recently trained model",
			},
			[]string{"disease_code", "metric"},
		),
	}
}

// RecordTask counts one task outcome.
func (r *Recorder) RecordTask(stage, status string) {
	r.tasksTotal.WithLabelValues(stage, status).Inc()
}

// RecordCandidate counts one grid candidate.
func (r *Recorder) RecordCandidate(ok bool) {
	r.candidates.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

// RecordForecastRows counts appended forecast rows.
func (r *Recorder) RecordForecastRows(code string, n int) {
	r.forecastRows.WithLabelValues(code).Add(float64(n))
}

// RecordModelMetric sets a gauge for the latest trained model.
func (r *Recorder) RecordModelMetric(code, metric string, value float64) {
	r.modelMetric.WithLabelValues(code, metric).Set(value)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordTask(string, string)                 {}
func (Nop) RecordCandidate(bool)                      {}
func (Nop) RecordForecastRows(string, int)            {}
func (Nop) RecordModelMetric(string, string, float64) {}
func (Nop) RecordError(string)                        {}
func (Nop) RecordLatency(string, float64)             {}
