package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EpiCast/internal/domain/models"
	"EpiCast/internal/registry"
	"EpiCast/internal/services/sarima"
	"EpiCast/internal/usecase"
	xhttp "EpiCast/pkg/http"
	"EpiCast/pkg/objstore"
)

type emptySeries struct{}

func (emptySeries) GetSeries(_ context.Context, code string, _, _ time.Time) (models.Series, error) {
	return models.Series{DiseaseCode: code}, nil
}

func (emptySeries) ListDiseaseCodes(context.Context) ([]string, error) { return []string{"370"}, nil }

type noForecasts struct{}

func (noForecasts) AppendForecasts(context.Context, []models.ForecastRecord) error { return nil }

func (noForecasts) LatestForecasts(context.Context, string, int) ([]models.ForecastRecord, error) {
	return []models.ForecastRecord{}, nil
}

type fakePublisher struct {
	msgType string
	payload interface{}
}

func (p *fakePublisher) PublishMessage(_ context.Context, msgType string, payload interface{}) (string, error) {
	p.msgType, p.payload = msgType, payload
	return "job-1", nil
}

type testAPI struct {
	echo *echo.Echo
	hub  *RunHub
	jobs *fakePublisher
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := objstore.NewBadgerStore(objstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	est := sarima.NewEstimator(sarima.Options{})
	reg := registry.New(store, est, registry.DefaultLayout(), nil, nil)
	series := emptySeries{}

	tuner := usecase.NewTuner(series, reg, nil, est, usecase.TunerConfig{Grid: sarima.DefaultGrid()}, nil, nil)
	trainer := usecase.NewTrainer(usecase.TrainerDeps{
		Series:    series,
		Tuning:    reg,
		Registry:  reg,
		Estimator: est,
	}, usecase.TrainerConfig{})
	fc := usecase.NewForecaster(reg, noForecasts{}, nil, nil, usecase.ForecasterConfig{}, nil, nil)
	p := usecase.NewPipeline(tuner, trainer, fc, series, reg, 1, nil, nil)

	hub := NewRunHub(nil)
	p.Observe(hub)
	jobs := &fakePublisher{}
	h := NewLifecycleHandler(nil, p, usecase.NewQueries(reg, noForecasts{}, nil, time.Minute), jobs, hub)

	e := echo.New()
	h.RegisterRoutes(e)
	return &testAPI{echo: e, hub: hub, jobs: jobs}
}

func (a *testAPI) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func decodeSummary(t *testing.T, rec *httptest.ResponseRecorder) models.RunSummary {
	t.Helper()
	var resp struct {
		Data models.RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestTrainWithoutDataIsSkipped(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/train", `{"disease_codes":["370"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	s := decodeSummary(t, rec)
	require.Len(t, s.Results, 1)
	assert.Equal(t, models.TaskSkipped, s.Results[0].Status)
	assert.Equal(t, "data_unavailable", s.Results[0].Reason)
}

func TestPredictWithoutModelIsSkipped(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/predict", `{"disease_codes":["370","417"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	s := decodeSummary(t, rec)
	require.Len(t, s.Results, 2)
	for _, r := range s.Results {
		assert.Equal(t, "no_model", r.Reason)
	}
}

func TestRunRequestValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/cycle", `{"workers":100}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Data []xhttp.ValidationError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "workers", resp.Data[0].Field)
}

func TestAsyncTuneIsQueued(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/tune", `{"async":true}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"job_id":"job-1"`)
	assert.Equal(t, usecase.TuneJobType, a.jobs.msgType)
	req, ok := a.jobs.payload.(*models.TuneRequest)
	require.True(t, ok)
	assert.Equal(t, "370", req.DiseaseCode)
}

func TestLatestModelNotFound(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/models/370/latest", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadSideEmpty(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodGet, "/api/models/370", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":0`)

	rec = a.do(http.MethodGet, "/api/forecasts/370?limit=1000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodGet, "/api/forecasts/370", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private, max-age=60", rec.Header().Get(echo.HeaderCacheControl))
}

func TestRunStreamDeliversResults(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.echo)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/runs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return a.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	rec := a.do(http.MethodPost, "/api/predict", `{"disease_codes":["370"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second RunEvent
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "result", first.Type)
	require.NotNil(t, first.Result)
	assert.Equal(t, "370", first.Result.DiseaseCode)
	assert.Equal(t, "summary", second.Type)
	require.NotNil(t, second.Summary)
	assert.Len(t, second.Summary.Results, 1)
}

func TestMapError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, mapError(models.ErrNoModel).Status)
	assert.Equal(t, http.StatusServiceUnavailable, mapError(models.ErrDataUnavailable).Status)
	assert.Equal(t, http.StatusServiceUnavailable, mapError(models.ErrIncidenceIO).Status)
	assert.Equal(t, http.StatusInternalServerError, mapError(assert.AnError).Status)
}
