package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	domsvc "EpiCast/internal/domain/service"
	"EpiCast/internal/registry"
	"EpiCast/internal/services/sarima"
	applogger "EpiCast/pkg/logger"
	"EpiCast/pkg/metrics"
)

// Tuner searches the hyperparameter grid for the order with the lowest
// validation MSE and persists it for the trainer.
type Tuner struct {
	series  domrepo.IncidenceStore
	tuning  domrepo.TuningStore
	runs    domrepo.RunLog
	est     domsvc.Estimator
	grid    sarima.Grid
	window  Window
	workers int
	retry   RetryPolicy
	metrics domrepo.Metrics
	l       *applogger.Logger
	now     func() time.Time
}

// TunerConfig carries the search settings.
type TunerConfig struct {
	Grid             sarima.Grid
	ValidationWindow Window
	CandidateWorkers int
	Retry            RetryPolicy
}

func NewTuner(series domrepo.IncidenceStore, tuning domrepo.TuningStore, runs domrepo.RunLog, est domsvc.Estimator, cfg TunerConfig, m domrepo.Metrics, l *applogger.Logger) *Tuner {
	if m == nil {
		m = metrics.Nop{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	if cfg.CandidateWorkers < 1 {
		cfg.CandidateWorkers = 1
	}
	return &Tuner{
		series:  series,
		tuning:  tuning,
		runs:    runs,
		est:     est,
		grid:    cfg.Grid,
		window:  cfg.ValidationWindow,
		workers: cfg.CandidateWorkers,
		retry:   cfg.Retry,
		metrics: m,
		l:       l,
		now:     time.Now,
	}
}

// SearchResult is the winning candidate of a grid search.
type SearchResult struct {
	Params    models.Hyperparameters
	Metrics   models.EvalMetrics
	Evaluated int
	Failed    int
}

type candidateScore struct {
	metrics models.EvalMetrics
	ok      bool
}

// Search evaluates every grid candidate on the train/validation split.
// The lowest MSE wins; ties keep the earliest candidate in grid order, so
// parallel evaluation selects exactly what a sequential scan would.
func (t *Tuner) Search(ctx context.Context, train, valid []float64) (*SearchResult, error) {
	cands := t.grid.Candidates()
	scores := make([]candidateScore, len(cands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for i, h := range cands {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			scores[i] = t.evaluate(train, valid, h)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := -1
	res := &SearchResult{Evaluated: len(cands)}
	for i, s := range scores {
		if !s.ok {
			res.Failed++
			continue
		}
		if best < 0 || s.metrics.MSE < scores[best].metrics.MSE {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: all %d candidates failed", models.ErrNoViableModel, len(cands))
	}
	res.Params = cands[best]
	res.Metrics = scores[best].metrics
	return res, nil
}

func (t *Tuner) evaluate(train, valid []float64, h models.Hyperparameters) candidateScore {
	model, err := t.est.Fit(train, h)
	if err != nil {
		t.metrics.RecordCandidate(false)
		t.l.Debug("candidate fit failed", applogger.String("order", h.String()), applogger.Error(err))
		return candidateScore{}
	}
	pred, err := model.Forecast(len(valid))
	if err != nil {
		t.metrics.RecordCandidate(false)
		return candidateScore{}
	}
	m, err := sarima.Evaluate(valid, pred)
	if err != nil || math.IsNaN(m.MSE) || math.IsInf(m.MSE, 0) {
		t.metrics.RecordCandidate(false)
		return candidateScore{}
	}
	t.metrics.RecordCandidate(true)
	return candidateScore{metrics: m, ok: true}
}

// Tune runs the search for one disease code and stores the best parameters.
func (t *Tuner) Tune(ctx context.Context, code string) (*models.TuningResult, error) {
	start := time.Now()
	defer func() { t.metrics.RecordLatency("tune", time.Since(start).Seconds()) }()

	series, err := t.series.GetSeries(ctx, code, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	if series.Empty() {
		return nil, fmt.Errorf("%w: no rows for disease code %s", models.ErrDataUnavailable, code)
	}
	train, valid := t.window.validationSplit(series)
	if train.Empty() || valid.Empty() {
		return nil, fmt.Errorf("%w: %d rows do not cover the validation window", models.ErrDataUnavailable, series.Len())
	}

	found, err := t.Search(ctx, train.Values(), valid.Values())
	if err != nil {
		return nil, err
	}

	now := t.now().UTC()
	res := &models.TuningResult{
		DiseaseCode: code,
		ModelID:     registry.TuningID(code, now),
		CreatedAt:   now.Format(time.RFC3339),
		BestParams:  found.Params,
		MSE:         found.Metrics.MSE,
		MAE:         found.Metrics.MAE,
		R2:          found.Metrics.R2,
	}
	if err := withRetry(ctx, t.retry, func(ctx context.Context) error {
		return t.tuning.SaveTuning(ctx, res)
	}); err != nil {
		return nil, err
	}
	if t.runs != nil {
		if err := t.runs.LogTuningRun(ctx, res); err != nil {
			t.metrics.RecordError("tuning_run_log")
			t.l.Warn("tuning run log failed", applogger.String("disease_code", code), applogger.Error(err))
		}
	}

	t.l.Info("tuning finished",
		applogger.String("disease_code", code),
		applogger.String("best", found.Params.String()),
		applogger.Float64("mse", found.Metrics.MSE),
		applogger.Int("candidates", found.Evaluated),
		applogger.Int("failed", found.Failed),
		applogger.Duration("took_ms", time.Since(start)))
	return res, nil
}
