package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EpiCast/internal/domain/models"
	"EpiCast/internal/services/sarima"
	"EpiCast/pkg/cache"
)

func TestTuneSelectsFromGridAndPersists(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	ctx := context.Background()

	res, err := e.tuner.Tune(ctx, "370")
	require.NoError(t, err)
	assert.Equal(t, "370", res.DiseaseCode)
	assert.Contains(t, narrowGrid().Candidates(), res.BestParams)
	assert.Regexp(t, `^sarima_model_370_\d{14}_[0-9a-f-]{36}_tuned$`, res.ModelID)
	assert.False(t, res.MSE < 0)

	stored, err := e.registry.LoadTuning(ctx, "370")
	require.NoError(t, err)
	assert.Equal(t, res.BestParams, stored.BestParams)
	assert.Equal(t, res.MSE, stored.MSE)
}

func TestTuneWithoutRowsIsSkipped(t *testing.T) {
	e := newEnv(t)
	summary, err := e.pipeline.Tune(context.Background(), models.RunRequest{DiseaseCodes: []string{"999"}})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	r := summary.Results[0]
	assert.Equal(t, models.TaskSkipped, r.Status)
	assert.Equal(t, "data_unavailable", r.Reason)

	_, err = e.registry.LoadTuning(context.Background(), "999")
	assert.ErrorIs(t, err, models.ErrMissingUpstreamArtifact)
}

func TestSearchTieKeepsFirstCandidate(t *testing.T) {
	grid := narrowGrid()
	cands := grid.Candidates()
	est := &scriptedEstimator{values: map[models.Hyperparameters]float64{
		cands[1]: 2, // mse 4
		cands[3]: 1, // mse 1
		cands[5]: 1, // mse 1, later in grid order
		cands[6]: 3,
	}}
	valid := make([]float64, 6)

	for _, workers := range []int{1, 4} {
		tuner := NewTuner(nil, nil, nil, est, TunerConfig{Grid: grid, CandidateWorkers: workers}, nil, nil)
		res, err := tuner.Search(context.Background(), []float64{1, 2, 3}, valid)
		require.NoError(t, err)
		assert.Equal(t, cands[3], res.Params, "workers=%d", workers)
		assert.Equal(t, 1.0, res.Metrics.MSE)
		assert.Equal(t, len(cands), res.Evaluated)
		assert.Equal(t, len(cands)-4, res.Failed)
	}
}

func TestSearchWithoutViableCandidate(t *testing.T) {
	tuner := NewTuner(nil, nil, nil, &scriptedEstimator{}, TunerConfig{Grid: narrowGrid()}, nil, nil)
	_, err := tuner.Search(context.Background(), []float64{1, 2}, []float64{0})
	assert.ErrorIs(t, err, models.ErrNoViableModel)
	assert.Equal(t, models.TaskSkipped, models.Classify(err))
}

func TestTrainRequiresTuning(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	summary, err := e.pipeline.Train(context.Background(), models.RunRequest{DiseaseCodes: []string{"370"}})
	require.NoError(t, err)
	assert.Equal(t, models.TaskSkipped, summary.Results[0].Status)
	assert.Equal(t, "missing_upstream_artifact", summary.Results[0].Reason)
}

func TestTrainRegistersRefitModel(t *testing.T) {
	series := weeklySeries("370", 104)
	e := newEnv(t, series)
	ctx := context.Background()
	_, err := e.tuner.Tune(ctx, "370")
	require.NoError(t, err)

	out, err := e.trainer.Train(ctx, "370")
	require.NoError(t, err)
	m := out.Model
	assert.Equal(t, series.LastDate(), m.TrainingEndDate)
	assert.Equal(t, 104, m.NumObservations)
	assert.Equal(t, "models/model_for_370/"+m.ModelID, out.ModelPath)
	assert.Equal(t, []string{m.ModelID}, e.events.trained)

	latest, err := e.registry.Latest(ctx, "370")
	require.NoError(t, err)
	assert.Equal(t, m.ModelID, latest.Metadata.ModelID)
	assert.Equal(t, "2023-12-24", latest.Metadata.LastTrainingDate)
}

func TestTrainWithoutRefitUsesTrainWindowEnd(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	e.trainer.cfg.RefitFullSeries = false
	ctx := context.Background()
	_, err := e.tuner.Tune(ctx, "370")
	require.NoError(t, err)

	out, err := e.trainer.Train(ctx, "370")
	require.NoError(t, err)
	// 2023-12-24 minus three months is the last train date
	assert.Equal(t, time.Date(2023, 9, 24, 0, 0, 0, 0, time.UTC), out.Model.TrainingEndDate)
	assert.Equal(t, 91, out.Model.NumObservations)
}

func TestTrainSkipsWhenLocked(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	e.trainer.locker = mc

	ok, err := mc.TryLock(context.Background(), cache.TrainLockKey("370"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.trainer.Train(context.Background(), "370")
	assert.ErrorIs(t, err, models.ErrBusy)
	assert.Equal(t, models.TaskSkipped, models.Classify(err))
}

func TestPredictAppendsEightWeeklyRows(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	ctx := context.Background()
	_, err := e.tuner.Tune(ctx, "370")
	require.NoError(t, err)
	_, err = e.trainer.Train(ctx, "370")
	require.NoError(t, err)

	summary, err := e.pipeline.Predict(ctx, models.RunRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	r := summary.Results[0]
	require.Equal(t, models.TaskOK, r.Status, r.Error)
	require.Len(t, r.Forecasts, 8)
	assert.Equal(t, "2023-12-31", r.Forecasts[0].Date)
	assert.Equal(t, "2024-02-18", r.Forecasts[7].Date)

	require.Len(t, e.forecasts.rows, 8)
	inference := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, row := range e.forecasts.rows {
		assert.Equal(t, inference, row.InferenceDate)
		assert.Equal(t, r.ModelID, row.ModelID)
	}
	assert.Equal(t, 8, e.events.forecasts["370"])
}

func TestPredictTwiceAppendsDuplicates(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	ctx := context.Background()
	_, err := e.tuner.Tune(ctx, "370")
	require.NoError(t, err)
	_, err = e.trainer.Train(ctx, "370")
	require.NoError(t, err)

	req := models.RunRequest{DiseaseCodes: []string{"370"}}
	_, err = e.pipeline.Predict(ctx, req)
	require.NoError(t, err)
	_, err = e.pipeline.Predict(ctx, req)
	require.NoError(t, err)

	require.Len(t, e.forecasts.rows, 16)
	for i := 0; i < 8; i++ {
		assert.Equal(t, e.forecasts.rows[i].Date, e.forecasts.rows[i+8].Date)
		assert.Equal(t, e.forecasts.rows[i].PredictedOccurrence, e.forecasts.rows[i+8].PredictedOccurrence)
	}
}

func TestPredictWithoutModelIsSkipped(t *testing.T) {
	e := newEnv(t)
	summary, err := e.pipeline.Predict(context.Background(), models.RunRequest{DiseaseCodes: []string{"42"}})
	require.NoError(t, err)
	assert.Equal(t, models.TaskSkipped, summary.Results[0].Status)
	assert.Equal(t, "no_model", summary.Results[0].Reason)
	assert.Empty(t, e.forecasts.rows)
}

func TestCycleTrainsThenPredicts(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104), models.Series{DiseaseCode: "10"})
	ctx := context.Background()
	_, err := e.tuner.Tune(ctx, "370")
	require.NoError(t, err)

	summary, err := e.pipeline.Cycle(ctx, models.RunRequest{})
	require.NoError(t, err)
	require.Len(t, summary.Results, 4)

	// codes are sorted; each contributes a train then a predict result
	assert.Equal(t, "10", summary.Results[0].DiseaseCode)
	assert.Equal(t, models.StageTrain, summary.Results[0].Stage)
	assert.Equal(t, models.TaskSkipped, summary.Results[0].Status)
	assert.Equal(t, models.StagePredict, summary.Results[1].Stage)
	assert.Equal(t, models.TaskSkipped, summary.Results[1].Status)
	assert.Equal(t, models.TaskOK, summary.Results[2].Status)
	assert.Equal(t, models.TaskOK, summary.Results[3].Status)
	assert.Equal(t, summary.Results[2].ModelID, summary.Results[3].ModelID)
	assert.Equal(t, 2, summary.Count(models.TaskOK))
}

func TestListFailureFailsTheRun(t *testing.T) {
	e := newEnv(t)
	e.series.listErr = errors.New("clickhouse down")
	_, err := e.pipeline.Train(context.Background(), models.RunRequest{})
	assert.Error(t, err)
}

func TestRunBatchKeepsInputOrder(t *testing.T) {
	codes := []string{"a", "b", "c", "d", "e"}
	out := RunBatch(context.Background(), codes, 3, func(_ context.Context, code string) string {
		if code == "a" {
			time.Sleep(10 * time.Millisecond)
		}
		return code + "!"
	})
	assert.Equal(t, []string{"a!", "b!", "c!", "d!", "e!"}, out)
}

type collectingObserver struct {
	results   []models.TaskResult
	summaries int
}

func (o *collectingObserver) OnResult(r models.TaskResult)  { o.results = append(o.results, r) }
func (o *collectingObserver) OnSummary(*models.RunSummary) { o.summaries++ }

func TestObserverSeesResults(t *testing.T) {
	e := newEnv(t)
	obs := &collectingObserver{}
	e.pipeline.Observe(obs)
	_, err := e.pipeline.Tune(context.Background(), models.RunRequest{DiseaseCodes: []string{"1"}, Workers: 1})
	require.NoError(t, err)
	assert.Len(t, obs.results, 1)
	assert.Equal(t, 1, obs.summaries)
}

func TestIncidenceOutageFailsTheCode(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	e.series.getErr = fmt.Errorf("%w: query 370: connection refused", models.ErrIncidenceIO)

	for _, run := range []func(context.Context, models.RunRequest) (*models.RunSummary, error){
		e.pipeline.Tune, e.pipeline.Train,
	} {
		summary, err := run(context.Background(), models.RunRequest{DiseaseCodes: []string{"370"}})
		require.NoError(t, err)
		require.Len(t, summary.Results, 1)
		assert.Equal(t, models.TaskFailed, summary.Results[0].Status)
		assert.Equal(t, "incidence_io", summary.Results[0].Reason)
	}
}

func TestTrainRefreshesCachedModelList(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	e.trainer.cache = mc
	q := NewQueries(e.registry, e.forecasts, mc, time.Hour)
	ctx := context.Background()

	_, err := e.tuner.Tune(ctx, "370")
	require.NoError(t, err)
	first, err := e.trainer.Train(ctx, "370")
	require.NoError(t, err)

	ids, err := q.ListModels(ctx, "370")
	require.NoError(t, err)
	assert.Equal(t, []string{first.Model.ModelID}, ids)

	second, err := e.trainer.Train(ctx, "370")
	require.NoError(t, err)
	ids, err = q.ListModels(ctx, "370")
	require.NoError(t, err)
	assert.Equal(t, []string{first.Model.ModelID, second.Model.ModelID}, ids)
}

func TestLatestForecastsAfterRepeatedPredict(t *testing.T) {
	e := newEnv(t, weeklySeries("370", 104))
	ctx := context.Background()
	_, err := e.tuner.Tune(ctx, "370")
	require.NoError(t, err)
	_, err = e.trainer.Train(ctx, "370")
	require.NoError(t, err)

	req := models.RunRequest{DiseaseCodes: []string{"370"}}
	_, err = e.pipeline.Predict(ctx, req)
	require.NoError(t, err)
	retrained, err := e.trainer.Train(ctx, "370")
	require.NoError(t, err)
	_, err = e.pipeline.Predict(ctx, req)
	require.NoError(t, err)
	require.Len(t, e.forecasts.rows, 16)

	q := NewQueries(e.registry, e.forecasts, nil, time.Hour)
	rows, err := q.LatestForecasts(ctx, "370", 8)
	require.NoError(t, err)
	require.Len(t, rows, 8)
	for i, r := range rows {
		assert.Equal(t, retrained.Model.ModelID, r.ModelID)
		if i > 0 {
			assert.True(t, r.Date.After(rows[i-1].Date))
		}
	}
}

func TestPredictWithoutTrainingDateIsSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m, err := sarima.NewEstimator(sarima.Options{}).Fit([]float64{1, 2, 3, 4, 5}, models.Hyperparameters{D: 1})
	require.NoError(t, err)
	blob, err := m.MarshalBinary()
	require.NoError(t, err)
	l := e.registry.Layout()
	require.NoError(t, e.store.Put(ctx, l.ArtifactKey("55", "M1"), blob))
	require.NoError(t, e.store.Put(ctx, l.MetadataKey("55", "M1"), []byte(`{"model_id":"M1","disease_code":"55"}`)))

	summary, err := e.pipeline.Predict(ctx, models.RunRequest{DiseaseCodes: []string{"55"}})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, models.TaskSkipped, summary.Results[0].Status)
	assert.Equal(t, "metadata_missing", summary.Results[0].Reason)
	assert.Empty(t, e.forecasts.rows)
}

// Full default grid, 12-period validation and test windows on two years of
// weekly counts.
func TestDefaultGridScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("fits the full default grid")
	}
	e := newEnv(t, weeklySeries("370", 104))
	e.tuner.grid = sarima.DefaultGrid()
	e.tuner.window = Window{Periods: 12}
	e.trainer.cfg.TestWindow = Window{Periods: 12}
	e.trainer.cfg.RefitFullSeries = false
	ctx := context.Background()

	tuned, err := e.tuner.Tune(ctx, "370")
	require.NoError(t, err)
	assert.Contains(t, sarima.DefaultGrid().Candidates(), tuned.BestParams)
	assert.False(t, math.IsNaN(tuned.MSE) || math.IsInf(tuned.MSE, 0))

	out, err := e.trainer.Train(ctx, "370")
	require.NoError(t, err)
	assert.Equal(t, tuned.BestParams, out.Model.Hyperparameters)
	assert.Equal(t, 92, out.Model.NumObservations)
	assert.GreaterOrEqual(t, out.Model.Metrics.MSE, 0.0)
	assert.LessOrEqual(t, out.Model.Metrics.R2, 1.0)
}
