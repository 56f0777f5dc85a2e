package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	"EpiCast/pkg/objstore"
)

// SaveTuning overwrites the best-parameters artifact for the result's code.
func (r *Registry) SaveTuning(ctx context.Context, res *models.TuningResult) error {
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tuning result: %w", err)
	}
	key := r.layout.TuningKey(res.DiseaseCode)
	if err := r.store.Put(ctx, key, b); err != nil {
		return ioErr("write tuning", key, err)
	}
	return nil
}

// LoadTuning reads the best parameters for code.
func (r *Registry) LoadTuning(ctx context.Context, code string) (*models.TuningResult, error) {
	key := r.layout.TuningKey(code)
	b, err := r.store.Get(ctx, key)
	if errors.Is(err, objstore.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrMissingUpstreamArtifact, key)
	}
	if err != nil {
		return nil, ioErr("read tuning", key, err)
	}
	var res models.TuningResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrMissingUpstreamArtifact, key, err)
	}
	return &res, nil
}

var _ domrepo.TuningStore = (*Registry)(nil)
