package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	pkgch "EpiCast/pkg/clickhouse"
	applogger "EpiCast/pkg/logger"
)

// CHForecastStore appends forecast rows to the predictions table.
type CHForecastStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHForecastStore(ch *pkgch.Client) *CHForecastStore {
	return &CHForecastStore{db: ch.DB(), table: ch.Table(predictionsTable), l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHForecastStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHForecastStore) AppendForecasts(ctx context.Context, rows []models.ForecastRecord) error {
	if len(rows) == 0 {
		return nil
	}
	// Batch insert using VALUES multi-row to reduce round-trips.
	const chunkSize = 2000
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*5)
		for _, r := range rows[start:end] {
			values = append(values, "(?, ?, ?, ?, ?)")
			args = append(args, r.ModelID, r.InferenceDate, r.Date, r.PredictedOccurrence, r.DiseaseCode)
		}
		q := fmt.Sprintf("INSERT INTO %s (model_id, inference_date, date, predicted_occurrence, disease_code) VALUES %s", s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse append_forecasts error",
				applogger.String("table", s.table),
				applogger.Int("rows", end-start),
				applogger.Error(err),
			)
			return fmt.Errorf("insert forecasts: %w", err)
		}
	}
	return nil
}

// LatestForecasts returns one row per date from the most recent inference of
// code. Runs sharing an inference hour append duplicate rows, so the newest
// model of that hour wins and each date is kept once.
func (s *CHForecastStore) LatestForecasts(ctx context.Context, code string, limit int) ([]models.ForecastRecord, error) {
	q := fmt.Sprintf(`
        SELECT model_id, inference_date, date, predicted_occurrence, disease_code
        FROM %[1]s
        WHERE disease_code = ? AND (inference_date, model_id) IN (
            SELECT inference_date, model_id FROM %[1]s
            WHERE disease_code = ?
            ORDER BY inference_date DESC, model_id DESC
            LIMIT 1
        )
        ORDER BY date ASC
        LIMIT 1 BY date
        LIMIT ?
    `, s.table)
	rows, err := s.db.QueryContext(ctx, q, code, code, limit)
	if err != nil {
		return nil, fmt.Errorf("latest forecasts: %w", err)
	}
	defer rows.Close()

	var out []models.ForecastRecord
	for rows.Next() {
		var r models.ForecastRecord
		if err := rows.Scan(&r.ModelID, &r.InferenceDate, &r.Date, &r.PredictedOccurrence, &r.DiseaseCode); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ domrepo.ForecastStore = (*CHForecastStore)(nil)
