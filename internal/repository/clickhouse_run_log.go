package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	pkgch "EpiCast/pkg/clickhouse"
	applogger "EpiCast/pkg/logger"
)

const (
	trainingRunName = "SARIMA Model"
	tuningRunName   = "SARIMA Tuning"
)

// CHRunLog records runs, metrics and parameters in ClickHouse.
type CHRunLog struct {
	db           *sql.DB
	runs         string
	metrics      string
	params       string
	artifactRoot string
	now          func() time.Time
	l            *applogger.Logger
}

func NewCHRunLog(ch *pkgch.Client, artifactRoot string) *CHRunLog {
	return &CHRunLog{
		db:           ch.DB(),
		runs:         ch.Table(modelRunsTable),
		metrics:      ch.Table(modelMetricsTable),
		params:       ch.Table(modelParamsTable),
		artifactRoot: artifactRoot,
		now:          time.Now,
		l:            applogger.Nop(),
	}
}

// SetLogger injects a structured logger.
func (s *CHRunLog) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHRunLog) LogTrainingRun(ctx context.Context, m *models.TrainedModel, artifactPath string) error {
	created := m.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	return s.log(ctx, m.ModelID, trainingRunName, artifactPath, m.DiseaseCode, created, m.Metrics, m.Hyperparameters)
}

func (s *CHRunLog) LogTuningRun(ctx context.Context, r *models.TuningResult) error {
	return s.log(ctx, r.ModelID, tuningRunName, "", r.DiseaseCode, s.now(),
		models.EvalMetrics{MSE: r.MSE, MAE: r.MAE, R2: r.R2}, r.BestParams)
}

func (s *CHRunLog) log(ctx context.Context, id, name, path, code string, created time.Time, m models.EvalMetrics, h models.Hyperparameters) error {
	q := fmt.Sprintf("INSERT INTO %s (model_id, name, artifact_root, model_path, disease_code, created_at) VALUES (?, ?, ?, ?, ?, ?)", s.runs)
	if _, err := s.db.ExecContext(ctx, q, id, name, s.artifactRoot, path, code, created.UTC()); err != nil {
		s.l.Error("clickhouse log run error", applogger.String("model_id", id), applogger.Error(err))
		return fmt.Errorf("insert model run: %w", err)
	}

	q = fmt.Sprintf("INSERT INTO %s (model_id, metric_name, metric_value) VALUES (?, ?, ?),(?, ?, ?),(?, ?, ?)", s.metrics)
	if _, err := s.db.ExecContext(ctx, q, id, "r2", m.R2, id, "mae", m.MAE, id, "mse", m.MSE); err != nil {
		s.l.Error("clickhouse log metrics error", applogger.String("model_id", id), applogger.Error(err))
		return fmt.Errorf("insert model metrics: %w", err)
	}

	q = fmt.Sprintf("INSERT INTO %s (model_id, parameter_name, parameter_value) VALUES (?, ?, ?),(?, ?, ?)", s.params)
	if _, err := s.db.ExecContext(ctx, q, id, "order", h.Order(), id, "seasonal_order", h.SeasonalOrder()); err != nil {
		s.l.Error("clickhouse log parameters error", applogger.String("model_id", id), applogger.Error(err))
		return fmt.Errorf("insert model parameters: %w", err)
	}
	return nil
}

var _ domrepo.RunLog = (*CHRunLog)(nil)
