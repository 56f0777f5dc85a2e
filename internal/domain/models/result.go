package models

import (
	"errors"
	"time"
)

var (
	ErrDataUnavailable         = errors.New("time series unavailable")
	ErrFitFailure              = errors.New("model fit failed")
	ErrNoViableModel           = errors.New("no viable model")
	ErrMissingUpstreamArtifact = errors.New("best parameters not found")
	ErrRegistryIO              = errors.New("registry io failure")
	ErrIncidenceIO             = errors.New("incidence store unavailable")
	ErrMetadataMissing         = errors.New("model metadata missing last_training_date")
	ErrNoModel                 = errors.New("no registered model")
	ErrBusy                    = errors.New("disease code is locked by another run")
)

// TaskStatus is the outcome of one disease code's unit of work.
type TaskStatus string

const (
	TaskOK      TaskStatus = "ok"
	TaskSkipped TaskStatus = "skipped"
	TaskFailed  TaskStatus = "failed"
)

// Stage names the lifecycle step a run performed.
type Stage string

const (
	StageTune    Stage = "tune"
	StageTrain   Stage = "train"
	StagePredict Stage = "predict"
	StageCycle   Stage = "cycle"
)

// TaskResult is the typed per-code result of a batch run.
type TaskResult struct {
	DiseaseCode string           `json:"disease_code"`
	Stage       Stage            `json:"stage"`
	Status      TaskStatus       `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	Error       string           `json:"error,omitempty"`
	ModelID     string           `json:"model_id,omitempty"`
	BestParams  *Hyperparameters `json:"best_params,omitempty"`
	Metrics     *EvalMetrics     `json:"metrics,omitempty"`
	ModelPath   string           `json:"model_path,omitempty"`
	Forecasts   []ForecastPoint  `json:"predictions,omitempty"`
	Duration    time.Duration    `json:"duration_ns"`
}

// RunSummary enumerates per-code outcomes of one invocation.
type RunSummary struct {
	Stage      Stage        `json:"stage"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []TaskResult `json:"results"`
}

// Count returns how many results have the given status.
func (s *RunSummary) Count(status TaskStatus) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Classify maps a unit error to its task status. Skips are expected conditions
// (no data, nothing upstream, nothing usable); everything else is a failure,
// including an unreachable incidence store.
func Classify(err error) TaskStatus {
	switch {
	case err == nil:
		return TaskOK
	case errors.Is(err, ErrDataUnavailable),
		errors.Is(err, ErrMissingUpstreamArtifact),
		errors.Is(err, ErrMetadataMissing),
		errors.Is(err, ErrNoViableModel),
		errors.Is(err, ErrNoModel),
		errors.Is(err, ErrBusy):
		return TaskSkipped
	default:
		return TaskFailed
	}
}
