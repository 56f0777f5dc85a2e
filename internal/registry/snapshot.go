package registry

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
)

var snapshotHeader = []string{"date", "disease_code", "current_week_count"}

// SaveSnapshot writes the series a run trained on as CSV and returns its key.
func (r *Registry) SaveSnapshot(ctx context.Context, s models.Series) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(snapshotHeader); err != nil {
		return "", err
	}
	for _, p := range s.Points {
		rec := []string{
			p.Date.Format(models.DateLayout),
			s.DiseaseCode,
			strconv.FormatFloat(p.Count, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return "", fmt.Errorf("write snapshot row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush snapshot: %w", err)
	}
	key := r.layout.SnapshotKey(s.DiseaseCode)
	if err := r.store.Put(ctx, key, buf.Bytes()); err != nil {
		return "", ioErr("write snapshot", key, err)
	}
	return key, nil
}

var _ domrepo.SnapshotStore = (*Registry)(nil)
