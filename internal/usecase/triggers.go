package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	pkgkafka "EpiCast/pkg/kafka"
	applogger "EpiCast/pkg/logger"
	"EpiCast/pkg/queue"
)

// DatasetRefreshedEvent is the event header value of DatasetRefreshed records.
const DatasetRefreshedEvent = "dataset_refreshed"

// DatasetRefreshed is emitted by the ingestion pipeline after new weekly
// counts land in the warehouse.
type DatasetRefreshed struct {
	DiseaseCodes []string     `json:"disease_codes"`
	Stage        models.Stage `json:"stage"`
	RefreshedAt  time.Time    `json:"refreshed_at"`
}

// DatasetRefreshedHandler runs a lifecycle stage when the dataset changes.
// Only errors that fail the whole run are returned, so the consumer retries
// those and never a single code's failure.
type DatasetRefreshedHandler struct {
	topic    string
	pipeline *Pipeline
	metrics  domrepo.Metrics
	l        *applogger.Logger
}

func NewDatasetRefreshedHandler(topic string, p *Pipeline, m domrepo.Metrics, l *applogger.Logger) *DatasetRefreshedHandler {
	return &DatasetRefreshedHandler{topic: topic, pipeline: p, metrics: m, l: l}
}

func (h *DatasetRefreshedHandler) Topic() string { return h.topic }

func (h *DatasetRefreshedHandler) Handle(ctx context.Context, b []byte) error {
	var ev DatasetRefreshed
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode dataset event: %w", err)
	}
	if ev.Stage == "" {
		ev.Stage = models.StageCycle
	}
	if !ev.RefreshedAt.IsZero() {
		h.metrics.RecordLatency("trigger_lag", time.Since(ev.RefreshedAt).Seconds())
	}

	req := models.RunRequest{DiseaseCodes: ev.DiseaseCodes}
	summary, err := h.pipeline.RunStage(ctx, ev.Stage, req)
	if err != nil {
		return err
	}
	h.l.Info("dataset refresh handled",
		applogger.String("stage", string(ev.Stage)),
		applogger.Int("results", len(summary.Results)),
		applogger.Int("failed", summary.Count(models.TaskFailed)))
	return nil
}

// RunStage dispatches to the entry point named by stage.
func (p *Pipeline) RunStage(ctx context.Context, stage models.Stage, req models.RunRequest) (*models.RunSummary, error) {
	switch stage {
	case models.StageTune:
		return p.Tune(ctx, req)
	case models.StageTrain:
		return p.Train(ctx, req)
	case models.StagePredict:
		return p.Predict(ctx, req)
	case models.StageCycle:
		return p.Cycle(ctx, req)
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

// TuneJobType is the queue message type of asynchronous tuning requests.
const TuneJobType = "tune"

// TuneJob runs queued tuning requests. Grid searches take minutes, so the
// HTTP API hands them to the Redis queue instead of holding the request.
type TuneJob struct {
	pipeline *Pipeline
	l        *applogger.Logger
}

func NewTuneJob(p *Pipeline, l *applogger.Logger) *TuneJob {
	return &TuneJob{pipeline: p, l: l}
}

func (j *TuneJob) Type() string { return TuneJobType }

func (j *TuneJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.ParsePayload[models.TuneRequest](payload)
	if err != nil {
		return err
	}
	summary, err := j.pipeline.Tune(ctx, models.RunRequest{DiseaseCodes: []string{req.DiseaseCode}, Workers: 1})
	if err != nil {
		return err
	}
	// infrastructure failures are worth a queue retry, skips are not
	for _, r := range summary.Results {
		if r.Status == models.TaskFailed && (r.Reason == "registry_io" || r.Reason == "incidence_io") {
			return fmt.Errorf("tune %s: %s", r.DiseaseCode, r.Error)
		}
	}
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*DatasetRefreshedHandler)(nil)
	_ queue.Job               = (*TuneJob)(nil)
)
