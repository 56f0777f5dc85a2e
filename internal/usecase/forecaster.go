package usecase

import (
	"context"
	"fmt"
	"time"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	"EpiCast/pkg/cache"
	applogger "EpiCast/pkg/logger"
	"EpiCast/pkg/metrics"
	"EpiCast/pkg/util"
)

// ForecasterConfig carries the forecast settings.
type ForecasterConfig struct {
	Horizon  int
	StepDays int
	Retry    RetryPolicy
}

// Forecaster produces forecasts from the latest registered model of a code.
type Forecaster struct {
	registry  domrepo.ModelRegistry
	forecasts domrepo.ForecastStore
	events    domrepo.EventPublisher
	cache     cache.Service
	cfg       ForecasterConfig
	metrics   domrepo.Metrics
	l         *applogger.Logger
}

// NewForecaster builds a Forecaster. events and c may be nil.
func NewForecaster(reg domrepo.ModelRegistry, fs domrepo.ForecastStore, events domrepo.EventPublisher, c cache.Service, cfg ForecasterConfig, m domrepo.Metrics, l *applogger.Logger) *Forecaster {
	if cfg.Horizon < 1 {
		cfg.Horizon = 8
	}
	if cfg.StepDays < 1 {
		cfg.StepDays = 7
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Forecaster{registry: reg, forecasts: fs, events: events, cache: c, cfg: cfg, metrics: m, l: l}
}

// Predict forecasts Horizon periods after the latest model's training end
// and appends them under inferenceDate. Rows are never deduplicated.
func (f *Forecaster) Predict(ctx context.Context, code string, inferenceDate time.Time) ([]models.ForecastRecord, error) {
	start := time.Now()
	defer func() { f.metrics.RecordLatency("predict", time.Since(start).Seconds()) }()

	var latest *models.LoadedModel
	if err := withRetry(ctx, f.cfg.Retry, func(ctx context.Context) error {
		var err error
		latest, err = f.registry.Latest(ctx, code)
		return err
	}); err != nil {
		return nil, err
	}

	end, err := latest.Metadata.TrainingEnd()
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", latest.Metadata.ModelID, err)
	}
	values, err := latest.Model.Forecast(f.cfg.Horizon)
	if err != nil {
		return nil, fmt.Errorf("%w: forecast model %s: %v", models.ErrFitFailure, latest.Metadata.ModelID, err)
	}

	dates := util.StepDates(end, f.cfg.Horizon, f.cfg.StepDays)
	rows := make([]models.ForecastRecord, len(values))
	for i, v := range values {
		rows[i] = models.ForecastRecord{
			ModelID:             latest.Metadata.ModelID,
			DiseaseCode:         code,
			InferenceDate:       inferenceDate,
			Date:                dates[i],
			PredictedOccurrence: v,
		}
	}
	if err := f.forecasts.AppendForecasts(ctx, rows); err != nil {
		return nil, fmt.Errorf("append forecasts: %w", err)
	}
	f.metrics.RecordForecastRows(code, len(rows))

	if f.cache != nil {
		if err := f.cache.DeleteByPattern(ctx, cache.CodePattern(code)); err != nil {
			f.l.Warn("forecast cache invalidation failed", applogger.String("disease_code", code), applogger.Error(err))
		}
	}
	if f.events != nil {
		if err := f.events.PublishForecasts(ctx, code, rows); err != nil {
			f.metrics.RecordError("publish_forecasts")
			f.l.Warn("publish forecasts failed", applogger.String("disease_code", code), applogger.Error(err))
		}
	}

	f.l.Info("forecast generated",
		applogger.String("disease_code", code),
		applogger.String("model_id", latest.Metadata.ModelID),
		applogger.String("last_training_date", latest.Metadata.LastTrainingDate),
		applogger.Int("rows", len(rows)))
	return rows, nil
}

// ToPoints converts rows to the compact form used in run summaries.
func ToPoints(rows []models.ForecastRecord) []models.ForecastPoint {
	out := make([]models.ForecastPoint, len(rows))
	for i, r := range rows {
		out[i] = models.ForecastPoint{
			Date:                r.Date.Format(models.DateLayout),
			PredictedOccurrence: r.PredictedOccurrence,
		}
	}
	return out
}
