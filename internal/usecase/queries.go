package usecase

import (
	"context"
	"time"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	"EpiCast/pkg/cache"
)

// Queries serves the read side: model lists, latest model metadata and
// stored forecasts, cached per disease code. Forecast runs invalidate the
// code's cache entries.
type Queries struct {
	registry  domrepo.ModelRegistry
	forecasts domrepo.ForecastStore
	cache     cache.Service
	ttl       time.Duration
}

// NewQueries builds the read side. A nil cache disables caching.
func NewQueries(reg domrepo.ModelRegistry, fs domrepo.ForecastStore, c cache.Service, ttl time.Duration) *Queries {
	return &Queries{registry: reg, forecasts: fs, cache: c, ttl: ttl}
}

// ListModels returns the model ids of code in ascending order.
func (q *Queries) ListModels(ctx context.Context, code string) ([]string, error) {
	if q.cache == nil {
		return q.registry.ListModels(ctx, code)
	}
	ids, _, err := cache.GetOrLoad(ctx, q.cache, cache.ModelsKey(code), q.ttl, func(ctx context.Context) ([]string, error) {
		return q.registry.ListModels(ctx, code)
	})
	return ids, err
}

// LatestModel returns the metadata of the latest model of code.
func (q *Queries) LatestModel(ctx context.Context, code string) (models.ModelMetadata, error) {
	m, err := q.registry.Latest(ctx, code)
	if err != nil {
		return models.ModelMetadata{}, err
	}
	return m.Metadata, nil
}

// ListDiseaseCodes returns every code with at least one registered model.
func (q *Queries) ListDiseaseCodes(ctx context.Context) ([]string, error) {
	return q.registry.ListDiseaseCodes(ctx)
}

// LatestForecasts returns the most recent stored forecast rows of code.
func (q *Queries) LatestForecasts(ctx context.Context, code string, limit int) ([]models.ForecastRecord, error) {
	if q.cache == nil || limit != defaultForecastLimit {
		return q.forecasts.LatestForecasts(ctx, code, limit)
	}
	rows, _, err := cache.GetOrLoad(ctx, q.cache, cache.ForecastKey(code), q.ttl, func(ctx context.Context) ([]models.ForecastRecord, error) {
		return q.forecasts.LatestForecasts(ctx, code, limit)
	})
	return rows, err
}

// only the default page is cached so the key stays one per code
const defaultForecastLimit = 8
