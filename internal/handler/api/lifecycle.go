package api

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"EpiCast/internal/domain/models"
	"EpiCast/internal/service/ratelimit"
	"EpiCast/internal/usecase"
	xhttp "EpiCast/pkg/http"
	xlogger "EpiCast/pkg/logger"
	"EpiCast/pkg/queue"
)

// LifecycleHandler exposes tune, train, predict and cycle runs plus the
// model and forecast read side.
type LifecycleHandler struct {
	logger   *xlogger.Logger
	pipeline *usecase.Pipeline
	queries  *usecase.Queries
	jobs     queue.Publisher
	hub      *RunHub
	limiter  *ratelimit.Limiter
}

// NewLifecycleHandler builds the handler. jobs and hub may be nil; without
// jobs every tuning request runs synchronously.
func NewLifecycleHandler(logger *xlogger.Logger, p *usecase.Pipeline, q *usecase.Queries, jobs queue.Publisher, hub *RunHub) *LifecycleHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &LifecycleHandler{logger: logger, pipeline: p, queries: q, jobs: jobs, hub: hub}
}

// WithRunLimiter rate limits the run endpoints per client.
func (h *LifecycleHandler) WithRunLimiter(l *ratelimit.Limiter) *LifecycleHandler {
	h.limiter = l
	return h
}

func (h *LifecycleHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	var mw []echo.MiddlewareFunc
	if h.limiter != nil {
		mw = append(mw, h.limiter.Middleware())
	}
	g.POST("/tune", h.Tune, mw...)
	g.POST("/train", h.run(models.StageTrain), mw...)
	g.POST("/predict", h.run(models.StagePredict), mw...)
	g.POST("/cycle", h.run(models.StageCycle), mw...)

	g.GET("/codes", h.Codes)
	g.GET("/models/:disease_code", h.Models)
	g.GET("/models/:disease_code/latest", h.LatestModel)
	g.GET("/forecasts/:disease_code", h.Forecasts)
	if h.hub != nil {
		g.GET("/ws/runs", h.hub.Serve)
	}
}

func (h *LifecycleHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// Tune searches hyperparameters for one code, in the background when asked
// and a job queue is wired.
func (h *LifecycleHandler) Tune(c echo.Context) error {
	req := &models.TuneRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	if req.Async && h.jobs != nil {
		id, err := h.jobs.PublishMessage(c.Request().Context(), usecase.TuneJobType, req)
		if err != nil {
			h.logger.Error("enqueue tune job", xlogger.String("disease_code", req.DiseaseCode), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("tune queue unavailable").WithError(err))
		}
		return xhttp.AcceptedResponse(c, map[string]string{"job_id": id, "disease_code": req.DiseaseCode})
	}

	summary, err := h.pipeline.Tune(c.Request().Context(), models.RunRequest{DiseaseCodes: []string{req.DiseaseCode}, Workers: 1})
	if err != nil {
		return h.fail(c, "tune", err)
	}
	return xhttp.SuccessResponse(c, summary)
}

func (h *LifecycleHandler) run(stage models.Stage) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := &models.RunRequest{}
		if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
			return xhttp.BadRequestResponse(c, verr)
		}
		summary, err := h.pipeline.RunStage(c.Request().Context(), stage, *req)
		if err != nil {
			return h.fail(c, string(stage), err)
		}
		return xhttp.SuccessResponse(c, summary)
	}
}

func (h *LifecycleHandler) Codes(c echo.Context) error {
	codes, err := h.queries.ListDiseaseCodes(c.Request().Context())
	if err != nil {
		return h.fail(c, "codes", err)
	}
	return xhttp.ListResponse(c, codes, int64(len(codes)))
}

func (h *LifecycleHandler) Models(c echo.Context) error {
	req := &models.ModelPathRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ids, err := h.queries.ListModels(c.Request().Context(), req.DiseaseCode)
	if err != nil {
		return h.fail(c, "models", err)
	}
	return xhttp.ListResponse(c, ids, int64(len(ids)))
}

func (h *LifecycleHandler) LatestModel(c echo.Context) error {
	req := &models.ModelPathRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	meta, err := h.queries.LatestModel(c.Request().Context(), req.DiseaseCode)
	if err != nil {
		return h.fail(c, "latest model", err)
	}
	return xhttp.SuccessResponse(c, meta)
}

func (h *LifecycleHandler) Forecasts(c echo.Context) error {
	req := &models.ForecastQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.queries.LatestForecasts(c.Request().Context(), req.DiseaseCode, req.Limit)
	if err != nil {
		return h.fail(c, "forecasts", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *LifecycleHandler) fail(c echo.Context, op string, err error) error {
	appErr := mapError(err)
	if appErr.Status >= 500 {
		h.logger.Error(op+" failed", xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func mapError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, models.ErrNoModel):
		return xhttp.NotFoundErrorf("no registered model").WithError(err)
	case errors.Is(err, models.ErrMetadataMissing):
		return xhttp.NotFoundErrorf("model metadata missing").WithError(err)
	case errors.Is(err, models.ErrDataUnavailable), errors.Is(err, models.ErrRegistryIO), errors.Is(err, models.ErrIncidenceIO):
		return xhttp.UnavailableErrorf("storage unavailable").WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return xhttp.UnavailableErrorf("request timed out").WithError(err)
	default:
		return xhttp.InternalErrorf("internal error").WithError(err)
	}
}
