package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	pkgch "EpiCast/pkg/clickhouse"
	applogger "EpiCast/pkg/logger"
)

// CHIncidenceStore reads weekly incidence counts from ClickHouse. Rows from
// every reporting area are summed per date.
type CHIncidenceStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHIncidenceStore(ch *pkgch.Client, table string) *CHIncidenceStore {
	return &CHIncidenceStore{db: ch.DB(), table: ch.Table(table), l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHIncidenceStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHIncidenceStore) GetSeries(ctx context.Context, code string, from, to time.Time) (models.Series, error) {
	start := time.Now()
	series := models.Series{DiseaseCode: code}

	where := []string{"disease_code = ?"}
	args := []interface{}{code}
	if !from.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, to)
	}
	q := fmt.Sprintf(`
        SELECT date, toFloat64(sum(current_week_count)) AS count
        FROM %s
        WHERE %s
        GROUP BY date
        ORDER BY date ASC
    `, s.table, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse get_series query error",
			applogger.String("table", s.table),
			applogger.String("disease_code", code),
			applogger.Error(err),
		)
		return series, fmt.Errorf("%w: query %s: %v", models.ErrIncidenceIO, code, err)
	}
	defer rows.Close()

	for rows.Next() {
		o := models.Observation{DiseaseCode: code}
		if err := rows.Scan(&o.Date, &o.Count); err != nil {
			s.l.Error("clickhouse get_series scan error",
				applogger.String("disease_code", code),
				applogger.Error(err),
			)
			return series, fmt.Errorf("%w: scan %s: %v", models.ErrIncidenceIO, code, err)
		}
		series.Points = append(series.Points, o)
	}
	if err := rows.Err(); err != nil {
		return series, fmt.Errorf("%w: rows %s: %v", models.ErrIncidenceIO, code, err)
	}

	s.l.Debug("clickhouse get_series ok",
		applogger.String("disease_code", code),
		applogger.Int("rows", len(series.Points)),
		applogger.Duration("took", time.Since(start)),
	)
	return series, nil
}

func (s *CHIncidenceStore) ListDiseaseCodes(ctx context.Context) ([]string, error) {
	q := fmt.Sprintf("SELECT DISTINCT disease_code FROM %s ORDER BY disease_code", s.table)
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		s.l.Error("clickhouse list_codes query error", applogger.String("table", s.table), applogger.Error(err))
		return nil, fmt.Errorf("%w: list disease codes: %v", models.ErrIncidenceIO, err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("%w: scan disease code: %v", models.ErrIncidenceIO, err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

var _ domrepo.IncidenceStore = (*CHIncidenceStore)(nil)
