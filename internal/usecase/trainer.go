package usecase

import (
	"context"
	"fmt"
	"time"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	domsvc "EpiCast/internal/domain/service"
	"EpiCast/internal/services/sarima"
	"EpiCast/pkg/cache"
	applogger "EpiCast/pkg/logger"
	"EpiCast/pkg/metrics"
)

// TrainerConfig carries the training settings.
type TrainerConfig struct {
	TestWindow      Window
	RefitFullSeries bool
	SaveSnapshot    bool
	LockTTL         time.Duration
	Retry           RetryPolicy
}

// Trainer fits the tuned order, evaluates it on the test window and
// registers a new immutable model version.
type Trainer struct {
	series    domrepo.IncidenceStore
	tuning    domrepo.TuningStore
	registry  domrepo.ModelRegistry
	runs      domrepo.RunLog
	snapshots domrepo.SnapshotStore
	events    domrepo.EventPublisher
	locker    domrepo.Locker
	cache     cache.Service
	est       domsvc.Estimator
	cfg       TrainerConfig
	metrics   domrepo.Metrics
	l         *applogger.Logger
	now       func() time.Time
}

// TrainerDeps groups the collaborators; RunLog, SnapshotStore, Events,
// Locker and Cache are optional.
type TrainerDeps struct {
	Series    domrepo.IncidenceStore
	Tuning    domrepo.TuningStore
	Registry  domrepo.ModelRegistry
	RunLog    domrepo.RunLog
	Snapshots domrepo.SnapshotStore
	Events    domrepo.EventPublisher
	Locker    domrepo.Locker
	Cache     cache.Service
	Estimator domsvc.Estimator
	Metrics   domrepo.Metrics
	Logger    *applogger.Logger
}

func NewTrainer(d TrainerDeps, cfg TrainerConfig) *Trainer {
	if d.Metrics == nil {
		d.Metrics = metrics.Nop{}
	}
	if d.Logger == nil {
		d.Logger = applogger.Nop()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Trainer{
		series:    d.Series,
		tuning:    d.Tuning,
		registry:  d.Registry,
		runs:      d.RunLog,
		snapshots: d.Snapshots,
		events:    d.Events,
		locker:    d.Locker,
		cache:     d.Cache,
		est:       d.Estimator,
		cfg:       cfg,
		metrics:   d.Metrics,
		l:         d.Logger,
		now:       time.Now,
	}
}

// TrainOutput is a registered model and where its artifact lives.
type TrainOutput struct {
	Model     *models.TrainedModel
	ModelPath string
}

// Train builds and registers a new model version for code.
func (t *Trainer) Train(ctx context.Context, code string) (*TrainOutput, error) {
	start := time.Now()
	defer func() { t.metrics.RecordLatency("train", time.Since(start).Seconds()) }()

	if t.locker != nil {
		key := cache.TrainLockKey(code)
		ok, err := t.locker.TryLock(ctx, key, t.cfg.LockTTL)
		if err != nil {
			// a lock outage degrades to unguarded training
			t.l.Warn("train lock unavailable", applogger.String("disease_code", code), applogger.Error(err))
		} else if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrBusy, key)
		} else {
			defer func() {
				if err := t.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
					t.l.Warn("train unlock failed", applogger.String("disease_code", code), applogger.Error(err))
				}
			}()
		}
	}

	series, err := t.series.GetSeries(ctx, code, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	if series.Empty() {
		return nil, fmt.Errorf("%w: no rows for disease code %s", models.ErrDataUnavailable, code)
	}

	var tuned *models.TuningResult
	if err := withRetry(ctx, t.cfg.Retry, func(ctx context.Context) error {
		var err error
		tuned, err = t.tuning.LoadTuning(ctx, code)
		return err
	}); err != nil {
		return nil, err
	}
	h := tuned.BestParams

	train, test := t.cfg.TestWindow.testSplit(series)
	if train.Empty() || test.Empty() {
		return nil, fmt.Errorf("%w: %d rows do not cover the test window", models.ErrDataUnavailable, series.Len())
	}

	fit, err := t.est.Fit(train.Values(), h)
	if err != nil {
		return nil, fmt.Errorf("%w: %s on %d rows: %v", models.ErrFitFailure, h, train.Len(), err)
	}
	pred, err := fit.Forecast(test.Len())
	if err != nil {
		return nil, fmt.Errorf("%w: forecast test window: %v", models.ErrFitFailure, err)
	}
	evalMetrics, err := sarima.Evaluate(test.Values(), pred)
	if err != nil {
		return nil, fmt.Errorf("%w: evaluate: %v", models.ErrFitFailure, err)
	}

	// the persisted model and its metadata must describe the same data
	final, end, n := fit, train.LastDate(), train.Len()
	if t.cfg.RefitFullSeries {
		final, err = t.est.Fit(series.Values(), h)
		if err != nil {
			return nil, fmt.Errorf("%w: refit %s on %d rows: %v", models.ErrFitFailure, h, series.Len(), err)
		}
		end, n = series.LastDate(), series.Len()
	}

	trained := &models.TrainedModel{
		DiseaseCode:     code,
		Hyperparameters: h,
		Model:           final,
		Metrics:         evalMetrics,
		TrainingEndDate: end,
		NumObservations: n,
		CreatedAt:       t.now().UTC(),
	}
	var path string
	if err := withRetry(ctx, t.cfg.Retry, func(ctx context.Context) error {
		var err error
		path, err = t.registry.Register(ctx, trained)
		return err
	}); err != nil {
		return nil, err
	}

	t.afterRegister(ctx, trained, path, series)
	t.l.Info("model trained",
		applogger.String("disease_code", code),
		applogger.String("model_id", trained.ModelID),
		applogger.String("order", h.String()),
		applogger.Float64("mse", evalMetrics.MSE),
		applogger.Float64("mae", evalMetrics.MAE),
		applogger.Float64("r2", evalMetrics.R2),
		applogger.Int("observations", n),
		applogger.Duration("took_ms", time.Since(start)))
	return &TrainOutput{Model: trained, ModelPath: path}, nil
}

// afterRegister writes the side records of a registered model. None of them
// can undo the registration, so failures are logged and counted only.
func (t *Trainer) afterRegister(ctx context.Context, m *models.TrainedModel, path string, series models.Series) {
	code := m.DiseaseCode
	t.metrics.RecordModelMetric(code, "mse", m.Metrics.MSE)
	t.metrics.RecordModelMetric(code, "mae", m.Metrics.MAE)
	t.metrics.RecordModelMetric(code, "r2", m.Metrics.R2)

	// cached model lists of the code now miss the new version
	if t.cache != nil {
		if err := t.cache.DeleteByPattern(ctx, cache.CodePattern(code)); err != nil {
			t.metrics.RecordError("cache_invalidate")
			t.l.Warn("model cache invalidation failed", applogger.String("disease_code", code), applogger.Error(err))
		}
	}
	if t.runs != nil {
		if err := t.runs.LogTrainingRun(ctx, m, path); err != nil {
			t.metrics.RecordError("training_run_log")
			t.l.Warn("training run log failed", applogger.String("disease_code", code), applogger.Error(err))
		}
	}
	if t.cfg.SaveSnapshot && t.snapshots != nil {
		if _, err := t.snapshots.SaveSnapshot(ctx, series); err != nil {
			t.metrics.RecordError("snapshot")
			t.l.Warn("training snapshot failed", applogger.String("disease_code", code), applogger.Error(err))
		}
	}
	if t.events != nil {
		if err := t.events.PublishModelTrained(ctx, m); err != nil {
			t.metrics.RecordError("publish_trained")
			t.l.Warn("publish model trained failed", applogger.String("disease_code", code), applogger.Error(err))
		}
	}
}
