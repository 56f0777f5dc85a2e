package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	applogger "EpiCast/pkg/logger"
	"EpiCast/pkg/metrics"
	"EpiCast/pkg/util"
)

// RunObserver receives task results as units finish and the summary at the
// end of each run. Implementations must not block.
type RunObserver interface {
	OnResult(models.TaskResult)
	OnSummary(*models.RunSummary)
}

// Pipeline is the entry point for tune, train, predict and cycle runs over a
// set of disease codes.
type Pipeline struct {
	tuner      *Tuner
	trainer    *Trainer
	forecaster *Forecaster
	series     domrepo.IncidenceStore
	registry   domrepo.ModelRegistry
	workers    int
	observers  []RunObserver
	metrics    domrepo.Metrics
	l          *applogger.Logger
	now        func() time.Time
}

func NewPipeline(tuner *Tuner, trainer *Trainer, forecaster *Forecaster, series domrepo.IncidenceStore, reg domrepo.ModelRegistry, workers int, m domrepo.Metrics, l *applogger.Logger) *Pipeline {
	if m == nil {
		m = metrics.Nop{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		tuner:      tuner,
		trainer:    trainer,
		forecaster: forecaster,
		series:     series,
		registry:   reg,
		workers:    workers,
		metrics:    m,
		l:          l,
		now:        time.Now,
	}
}

// Observe registers an observer. Not safe to call while runs are active.
func (p *Pipeline) Observe(o RunObserver) {
	if o != nil {
		p.observers = append(p.observers, o)
	}
}

// Tune searches hyperparameters for each code.
func (p *Pipeline) Tune(ctx context.Context, req models.RunRequest) (*models.RunSummary, error) {
	codes, err := p.codes(ctx, req.DiseaseCodes, p.series.ListDiseaseCodes)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, models.StageTune, codes, req.Workers, p.tuneUnit), nil
}

// Train trains and registers a model for each code.
func (p *Pipeline) Train(ctx context.Context, req models.RunRequest) (*models.RunSummary, error) {
	codes, err := p.codes(ctx, req.DiseaseCodes, p.series.ListDiseaseCodes)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, models.StageTrain, codes, req.Workers, p.trainUnit), nil
}

// Predict forecasts every code with a registered model. All rows of one run
// share the same hour-truncated inference date.
func (p *Pipeline) Predict(ctx context.Context, req models.RunRequest) (*models.RunSummary, error) {
	codes, err := p.codes(ctx, req.DiseaseCodes, p.registry.ListDiseaseCodes)
	if err != nil {
		return nil, err
	}
	return p.run(ctx, models.StagePredict, codes, req.Workers, p.predictUnit(p.inferenceDate())), nil
}

// Cycle trains each code and then forecasts from whatever model is latest,
// so a skipped or failed training still serves the previous version.
func (p *Pipeline) Cycle(ctx context.Context, req models.RunRequest) (*models.RunSummary, error) {
	codes, err := p.codes(ctx, req.DiseaseCodes, p.series.ListDiseaseCodes)
	if err != nil {
		return nil, err
	}
	inference := p.inferenceDate()
	predict := p.predictUnit(inference)
	return p.run(ctx, models.StageCycle, codes, req.Workers, func(ctx context.Context, code string) []models.TaskResult {
		trained := p.trainUnit(ctx, code)
		return append(trained, predict(ctx, code)...)
	}), nil
}

func (p *Pipeline) inferenceDate() time.Time {
	return util.TruncateHour(p.now().UTC())
}

// codes returns the requested codes, or every known code when none were
// requested. Listing failure is the only error that fails a whole run.
func (p *Pipeline) codes(ctx context.Context, requested []string, list func(context.Context) ([]string, error)) ([]string, error) {
	if len(requested) > 0 {
		seen := make(map[string]struct{}, len(requested))
		out := make([]string, 0, len(requested))
		for _, c := range requested {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
		return out, nil
	}
	codes, err := list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list disease codes: %w", err)
	}
	sort.Strings(codes)
	return codes, nil
}

type stageUnit func(ctx context.Context, code string) []models.TaskResult

func (p *Pipeline) run(ctx context.Context, stage models.Stage, codes []string, workers int, unit stageUnit) *models.RunSummary {
	if workers < 1 {
		workers = p.workers
	}
	summary := &models.RunSummary{Stage: stage, StartedAt: p.now().UTC()}
	p.l.Info("run started",
		applogger.String("stage", string(stage)),
		applogger.Int("codes", len(codes)),
		applogger.Int("workers", workers))

	batches := RunBatch(ctx, codes, workers, func(ctx context.Context, code string) []models.TaskResult {
		results := unit(ctx, code)
		for _, r := range results {
			p.metrics.RecordTask(string(r.Stage), string(r.Status))
			p.notify(r)
		}
		return results
	})
	for _, b := range batches {
		summary.Results = append(summary.Results, b...)
	}
	summary.FinishedAt = p.now().UTC()

	p.l.Info("run finished",
		applogger.String("stage", string(stage)),
		applogger.Int("ok", summary.Count(models.TaskOK)),
		applogger.Int("skipped", summary.Count(models.TaskSkipped)),
		applogger.Int("failed", summary.Count(models.TaskFailed)),
		applogger.Duration("took_ms", summary.FinishedAt.Sub(summary.StartedAt)))
	for _, o := range p.observers {
		o.OnSummary(summary)
	}
	return summary
}

func (p *Pipeline) notify(r models.TaskResult) {
	for _, o := range p.observers {
		o.OnResult(r)
	}
}

func (p *Pipeline) logUnit(r models.TaskResult) {
	if r.Status == models.TaskOK {
		return
	}
	fields := []applogger.Field{
		applogger.String("disease_code", r.DiseaseCode),
		applogger.String("stage", string(r.Stage)),
		applogger.String("reason", r.Reason),
		applogger.String("error", r.Error),
	}
	if r.Status == models.TaskFailed {
		p.l.Error("task failed", fields...)
		return
	}
	p.l.Info("task skipped", fields...)
}

func (p *Pipeline) tuneUnit(ctx context.Context, code string) []models.TaskResult {
	start := time.Now()
	res, err := p.tuner.Tune(ctx, code)
	r := newResult(models.StageTune, code, start, err)
	if err == nil {
		r.ModelID = res.ModelID
		params := res.BestParams
		r.BestParams = &params
		r.Metrics = &models.EvalMetrics{MSE: res.MSE, MAE: res.MAE, R2: res.R2}
	}
	p.logUnit(r)
	return []models.TaskResult{r}
}

func (p *Pipeline) trainUnit(ctx context.Context, code string) []models.TaskResult {
	start := time.Now()
	out, err := p.trainer.Train(ctx, code)
	r := newResult(models.StageTrain, code, start, err)
	if err == nil {
		r.ModelID = out.Model.ModelID
		params := out.Model.Hyperparameters
		r.BestParams = &params
		m := out.Model.Metrics
		r.Metrics = &m
		r.ModelPath = out.ModelPath
	}
	p.logUnit(r)
	return []models.TaskResult{r}
}

func (p *Pipeline) predictUnit(inference time.Time) stageUnit {
	return func(ctx context.Context, code string) []models.TaskResult {
		start := time.Now()
		rows, err := p.forecaster.Predict(ctx, code, inference)
		r := newResult(models.StagePredict, code, start, err)
		if err == nil && len(rows) > 0 {
			r.ModelID = rows[0].ModelID
			r.Forecasts = ToPoints(rows)
		}
		p.logUnit(r)
		return []models.TaskResult{r}
	}
}
