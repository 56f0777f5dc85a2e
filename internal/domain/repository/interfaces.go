package repository

import (
	"context"
	"time"

	"EpiCast/internal/domain/models"
)

// IncidenceStore reads weekly incidence series from the warehouse.
type IncidenceStore interface {
	// GetSeries returns observations for code in ascending date order,
	// aggregated to one row per date. Zero from/to leave that side open.
	// An unknown code yields an empty series.
	GetSeries(ctx context.Context, code string, from, to time.Time) (models.Series, error)
	ListDiseaseCodes(ctx context.Context) ([]string, error)
}

// ForecastStore persists forecast rows. Appends never dedupe.
type ForecastStore interface {
	AppendForecasts(ctx context.Context, rows []models.ForecastRecord) error
	LatestForecasts(ctx context.Context, code string, limit int) ([]models.ForecastRecord, error)
}

// RunLog records training runs, their metrics and parameters.
type RunLog interface {
	LogTrainingRun(ctx context.Context, m *models.TrainedModel, artifactPath string) error
	LogTuningRun(ctx context.Context, r *models.TuningResult) error
}

// ModelRegistry stores versioned model artifacts per disease code.
type ModelRegistry interface {
	Register(ctx context.Context, m *models.TrainedModel) (string, error)
	Latest(ctx context.Context, code string) (*models.LoadedModel, error)
	Load(ctx context.Context, code, modelID string) (*models.LoadedModel, error)
	ListModels(ctx context.Context, code string) ([]string, error)
	ListDiseaseCodes(ctx context.Context) ([]string, error)
}

// TuningStore keeps the best hyperparameters per disease code.
type TuningStore interface {
	SaveTuning(ctx context.Context, r *models.TuningResult) error
	LoadTuning(ctx context.Context, code string) (*models.TuningResult, error)
}

// SnapshotStore exports the exact series a run trained on.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s models.Series) (string, error)
}

// EventPublisher emits lifecycle events to downstream consumers.
type EventPublisher interface {
	PublishModelTrained(ctx context.Context, m *models.TrainedModel) error
	PublishForecasts(ctx context.Context, code string, rows []models.ForecastRecord) error
}

// Locker guards per-code exclusive sections across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Metrics records lifecycle outcomes.
type Metrics interface {
	RecordTask(stage, status string)
	RecordLatency(op string, seconds float64)
	RecordCandidate(ok bool)
	RecordForecastRows(code string, n int)
	RecordModelMetric(code, metric string, value float64)
	RecordError(kind string)
}
