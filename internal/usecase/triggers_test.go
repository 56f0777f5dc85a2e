package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EpiCast/internal/domain/models"
	"EpiCast/pkg/cache"
)

func TestDatasetRefreshedRunsCycle(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	ctx := context.Background()
	_, err := e.tuner.Tune(ctx, "370")
	require.NoError(t, err)

	h := NewDatasetRefreshedHandler("dataset.refreshed", e.pipeline, nil, nil)
	assert.Equal(t, "dataset.refreshed", h.Topic())

	require.NoError(t, h.Handle(ctx, []byte(`{"disease_codes":["370"]}`)))
	assert.Len(t, e.forecasts.rows, 8)
	assert.Len(t, e.events.trained, 1)
}

func TestDatasetRefreshedRejectsBadInput(t *testing.T) {
	e := newEnv(t)
	h := NewDatasetRefreshedHandler("t", e.pipeline, nil, nil)
	assert.Error(t, h.Handle(context.Background(), []byte(`not json`)))
	assert.Error(t, h.Handle(context.Background(), []byte(`{"stage":"deploy"}`)))
}

func TestTuneJobRunsRequestedCode(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	job := NewTuneJob(e.pipeline, nil)
	assert.Equal(t, TuneJobType, job.Type())

	payload, _ := json.Marshal(models.TuneRequest{DiseaseCode: "370"})
	require.NoError(t, job.Handle(context.Background(), payload))

	_, err := e.registry.LoadTuning(context.Background(), "370")
	assert.NoError(t, err)
}

func TestWithRetryRetriesRegistryIO(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BackoffMin: time.Millisecond, BackoffMax: time.Millisecond}

	calls := 0
	err := withRetry(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: timeout", models.ErrRegistryIO)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = withRetry(context.Background(), p, func(context.Context) error {
		calls++
		return models.ErrNoModel
	})
	assert.ErrorIs(t, err, models.ErrNoModel)
	assert.Equal(t, 1, calls)

	calls = 0
	err = withRetry(context.Background(), p, func(context.Context) error {
		calls++
		return fmt.Errorf("%w: down", models.ErrRegistryIO)
	})
	assert.ErrorIs(t, err, models.ErrRegistryIO)
	assert.Equal(t, 3, calls)
}

func TestResultReason(t *testing.T) {
	r := newResult(models.StageTrain, "1", time.Now(), fmt.Errorf("wrap: %w", models.ErrFitFailure))
	assert.Equal(t, models.TaskFailed, r.Status)
	assert.Equal(t, "fit_failure", r.Reason)

	r = newResult(models.StageTrain, "1", time.Now(), errors.New("boom"))
	assert.Equal(t, "internal", r.Reason)

	r = newResult(models.StageTrain, "1", time.Now(), nil)
	assert.Equal(t, models.TaskOK, r.Status)
	assert.Empty(t, r.Error)
}

func TestQueriesCacheForecastsUntilPredict(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	ctx := context.Background()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	e.fc.cache = mc
	q := NewQueries(e.registry, e.forecasts, mc, time.Hour)

	rows, err := q.LatestForecasts(ctx, "370", 8)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = e.tuner.Tune(ctx, "370")
	require.NoError(t, err)
	_, err = e.trainer.Train(ctx, "370")
	require.NoError(t, err)
	_, err = e.pipeline.Predict(ctx, models.RunRequest{DiseaseCodes: []string{"370"}})
	require.NoError(t, err)

	// the predict run dropped the cached empty page
	rows, err = q.LatestForecasts(ctx, "370", 8)
	require.NoError(t, err)
	assert.Len(t, rows, 8)

	ids, err := q.ListModels(ctx, "370")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	meta, err := q.LatestModel(ctx, "370")
	require.NoError(t, err)
	assert.Equal(t, ids[0], meta.ModelID)
}
