package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"EpiCast/internal/domain/models"
	"EpiCast/internal/registry"
	"EpiCast/internal/services/sarima"
	"EpiCast/pkg/objstore"
)

var seriesStart = time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC)

// weeklySeries builds n weekly points with a yearly cycle.
func weeklySeries(code string, n int) models.Series {
	s := models.Series{DiseaseCode: code}
	for i := 0; i < n; i++ {
		s.Points = append(s.Points, models.Observation{
			Date:        seriesStart.AddDate(0, 0, 7*i),
			DiseaseCode: code,
			Count:       40 + 15*math.Sin(2*math.Pi*float64(i)/52) + float64(i%3),
		})
	}
	return s
}

type memSeries struct {
	data    map[string]models.Series
	listErr error
	getErr  error
}

func (m *memSeries) GetSeries(_ context.Context, code string, _, _ time.Time) (models.Series, error) {
	if m.getErr != nil {
		return models.Series{DiseaseCode: code}, m.getErr
	}
	s, ok := m.data[code]
	if !ok {
		return models.Series{DiseaseCode: code}, nil
	}
	return s, nil
}

func (m *memSeries) ListDiseaseCodes(context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []string
	for c := range m.data {
		out = append(out, c)
	}
	return out, nil
}

type memForecasts struct {
	mu   sync.Mutex
	rows []models.ForecastRecord
}

func (m *memForecasts) AppendForecasts(_ context.Context, rows []models.ForecastRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rows...)
	return nil
}

// LatestForecasts mirrors the warehouse query: newest (inference, model)
// pair only, one row per date, ascending dates.
func (m *memForecasts) LatestForecasts(_ context.Context, code string, limit int) ([]models.ForecastRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.ForecastRecord
	for i, r := range m.rows {
		if r.DiseaseCode != code {
			continue
		}
		if latest == nil || r.InferenceDate.After(latest.InferenceDate) ||
			(r.InferenceDate.Equal(latest.InferenceDate) && r.ModelID > latest.ModelID) {
			latest = &m.rows[i]
		}
	}
	if latest == nil {
		return nil, nil
	}
	seen := map[time.Time]bool{}
	var out []models.ForecastRecord
	for _, r := range m.rows {
		if r.DiseaseCode != code || r.ModelID != latest.ModelID || !r.InferenceDate.Equal(latest.InferenceDate) || seen[r.Date] {
			continue
		}
		seen[r.Date] = true
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type recordingEvents struct {
	mu        sync.Mutex
	trained   []string
	forecasts map[string]int
}

func (e *recordingEvents) PublishModelTrained(_ context.Context, m *models.TrainedModel) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trained = append(e.trained, m.ModelID)
	return nil
}

func (e *recordingEvents) PublishForecasts(_ context.Context, code string, rows []models.ForecastRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.forecasts == nil {
		e.forecasts = map[string]int{}
	}
	e.forecasts[code] += len(rows)
	return nil
}

// constPredictor forecasts the same value for every step.
type constPredictor struct{ v float64 }

func (p constPredictor) Forecast(steps int) ([]float64, error) {
	out := make([]float64, steps)
	for i := range out {
		out[i] = p.v
	}
	return out, nil
}

func (p constPredictor) MarshalBinary() ([]byte, error) { return []byte(fmt.Sprint(p.v)), nil }

// scriptedEstimator forecasts a per-order constant; unknown orders fail.
type scriptedEstimator struct {
	values map[models.Hyperparameters]float64
	mu     sync.Mutex
	fits   int
}

func (s *scriptedEstimator) Fit(_ []float64, h models.Hyperparameters) (models.Predictor, error) {
	s.mu.Lock()
	s.fits++
	s.mu.Unlock()
	v, ok := s.values[h]
	if !ok {
		return nil, errors.New("singular")
	}
	return constPredictor{v: v}, nil
}

func (s *scriptedEstimator) Decode([]byte) (models.Predictor, error) {
	return nil, errors.New("not supported")
}

func narrowGrid() sarima.Grid {
	return sarima.Grid{
		P:         []int{0, 1},
		D:         []int{1},
		Q:         []int{0, 1},
		SeasonalP: []int{0},
		SeasonalD: []int{0, 1},
		SeasonalQ: []int{0},
		S:         []int{52},
	}
}

type env struct {
	store     objstore.Store
	series    *memSeries
	forecasts *memForecasts
	events    *recordingEvents
	registry  *registry.Registry
	tuner     *Tuner
	trainer   *Trainer
	fc        *Forecaster
	pipeline  *Pipeline
}

func newEnv(t *testing.T, series ...models.Series) *env {
	t.Helper()
	store, err := objstore.NewBadgerStore(objstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	est := sarima.NewEstimator(sarima.Options{})
	reg := registry.New(store, est, registry.DefaultLayout(), nil, nil)

	e := &env{
		store:     store,
		series:    &memSeries{data: map[string]models.Series{}},
		forecasts: &memForecasts{},
		events:    &recordingEvents{},
		registry:  reg,
	}
	for _, s := range series {
		e.series.data[s.DiseaseCode] = s
	}
	retry := RetryPolicy{Attempts: 2, BackoffMin: time.Millisecond, BackoffMax: time.Millisecond}
	e.tuner = NewTuner(e.series, reg, nil, est, TunerConfig{
		Grid:             narrowGrid(),
		ValidationWindow: Window{Months: 3},
		CandidateWorkers: 2,
		Retry:            retry,
	}, nil, nil)
	e.trainer = NewTrainer(TrainerDeps{
		Series:    e.series,
		Tuning:    reg,
		Registry:  reg,
		Snapshots: reg,
		Events:    e.events,
		Estimator: est,
	}, TrainerConfig{TestWindow: Window{Months: 3}, RefitFullSeries: true, SaveSnapshot: true, Retry: retry})
	e.fc = NewForecaster(reg, e.forecasts, e.events, nil, ForecasterConfig{Horizon: 8, StepDays: 7, Retry: retry}, nil, nil)
	e.pipeline = NewPipeline(e.tuner, e.trainer, e.fc, e.series, reg, 2, nil, nil)
	e.pipeline.now = func() time.Time { return time.Date(2024, 3, 1, 10, 37, 12, 0, time.UTC) }
	return e
}
