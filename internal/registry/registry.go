package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"EpiCast/internal/domain/models"
	domrepo "EpiCast/internal/domain/repository"
	domsvc "EpiCast/internal/domain/service"
	applogger "EpiCast/pkg/logger"
	"EpiCast/pkg/objstore"
)

// Registry stores model artifacts and metadata per disease code and tracks
// the latest model with an explicit pointer advanced by compare-and-swap.
type Registry struct {
	store  objstore.Store
	est    domsvc.Estimator
	layout Layout
	ids    *IDGenerator
	l      *applogger.Logger
}

func New(store objstore.Store, est domsvc.Estimator, layout Layout, ids *IDGenerator, l *applogger.Logger) *Registry {
	if ids == nil {
		ids = NewIDGenerator(nil)
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &Registry{store: store, est: est, layout: layout, ids: ids, l: l}
}

// Layout returns the key layout the registry writes with.
func (r *Registry) Layout() Layout { return r.layout }

// NewModelID issues the next model id.
func (r *Registry) NewModelID() string { return r.ids.Next() }

func ioErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", models.ErrRegistryIO, op, key, err)
}

// Register persists the artifact and metadata and advances the latest pointer.
// It returns the artifact key.
func (r *Registry) Register(ctx context.Context, m *models.TrainedModel) (string, error) {
	if m.ModelID == "" {
		m.ModelID = r.ids.Next()
	}
	blob, err := m.Model.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("%w: serialize %s: %v", models.ErrRegistryIO, m.ModelID, err)
	}
	meta, err := json.Marshal(m.Metadata())
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	artifactKey := r.layout.ArtifactKey(m.DiseaseCode, m.ModelID)
	// ids are unique, so an existing artifact is our own earlier attempt
	if err := r.store.Create(ctx, artifactKey, blob); err != nil && !errors.Is(err, objstore.ErrObjectExists) {
		return "", ioErr("write artifact", artifactKey, err)
	}
	metaKey := r.layout.MetadataKey(m.DiseaseCode, m.ModelID)
	if err := r.store.Put(ctx, metaKey, meta); err != nil {
		return "", ioErr("write metadata", metaKey, err)
	}
	if err := r.advanceLatest(ctx, m.DiseaseCode, m.ModelID); err != nil {
		return "", err
	}

	r.l.Info("model registered",
		applogger.String("disease_code", m.DiseaseCode),
		applogger.String("model_id", m.ModelID),
		applogger.String("path", artifactKey),
		applogger.String("last_training_date", m.TrainingEndDate.Format(models.DateLayout)),
	)
	return artifactKey, nil
}

// advanceLatest moves the pointer forward only; an older id never replaces a newer one.
func (r *Registry) advanceLatest(ctx context.Context, code, id string) error {
	key := r.layout.LatestKey(code)
	err := r.store.Update(ctx, key, func(cur []byte, exists bool) ([]byte, error) {
		if exists && string(cur) >= id {
			return nil, objstore.ErrNoChange
		}
		return []byte(id), nil
	})
	if err != nil {
		return ioErr("advance latest", key, err)
	}
	return nil
}

// ListModels returns every model id for code in ascending order.
func (r *Registry) ListModels(ctx context.Context, code string) ([]string, error) {
	ids, _, err := r.listEntries(ctx, code)
	return ids, err
}

// listEntries returns the sorted artifact ids of code and the set of ids
// whose metadata object exists.
func (r *Registry) listEntries(ctx context.Context, code string) ([]string, map[string]bool, error) {
	dir := r.layout.modelDir(code)
	keys, err := r.store.List(ctx, dir)
	if err != nil {
		return nil, nil, ioErr("list", dir, err)
	}
	ids := make([]string, 0, len(keys))
	withMeta := make(map[string]bool, len(keys))
	for _, k := range keys {
		if id := r.layout.modelIDFromKey(code, k); id != "" {
			ids = append(ids, id)
			continue
		}
		if strings.HasSuffix(k, metadataSuffix) {
			withMeta[r.layout.modelIDFromKey(code, strings.TrimSuffix(k, metadataSuffix))] = true
		}
	}
	sort.Strings(ids)
	return ids, withMeta, nil
}

// ListDiseaseCodes returns codes that have at least one registry entry.
func (r *Registry) ListDiseaseCodes(ctx context.Context) ([]string, error) {
	prefix := objstore.Join(r.layout.ModelRoot, modelDirPrefix)
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, ioErr("list", prefix, err)
	}
	seen := map[string]struct{}{}
	var codes []string
	for _, k := range keys {
		code := r.layout.codeFromKey(k)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; !ok {
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

// LatestID resolves the newest model id: the pointer when present, otherwise
// the greatest listed id that has metadata. An artifact whose registration
// failed before its metadata landed is passed over, unless nothing else exists.
func (r *Registry) LatestID(ctx context.Context, code string) (string, error) {
	key := r.layout.LatestKey(code)
	b, err := r.store.Get(ctx, key)
	if err == nil && len(b) > 0 {
		return string(b), nil
	}
	if err != nil && !errors.Is(err, objstore.ErrObjectNotFound) {
		return "", ioErr("read", key, err)
	}
	ids, withMeta, err := r.listEntries(ctx, code)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("%w for disease code %s", models.ErrNoModel, code)
	}
	r.l.Warn("latest pointer missing, falling back to listing",
		applogger.String("disease_code", code),
		applogger.Int("models", len(ids)),
	)
	for i := len(ids) - 1; i >= 0; i-- {
		if withMeta[ids[i]] {
			return ids[i], nil
		}
	}
	return ids[len(ids)-1], nil
}

// Latest loads the newest model for code.
func (r *Registry) Latest(ctx context.Context, code string) (*models.LoadedModel, error) {
	id, err := r.LatestID(ctx, code)
	if err != nil {
		return nil, err
	}
	return r.Load(ctx, code, id)
}

// Load reads one model and its metadata. A missing metadata object yields
// empty metadata; callers decide whether that is usable.
func (r *Registry) Load(ctx context.Context, code, id string) (*models.LoadedModel, error) {
	start := time.Now()
	artifactKey := r.layout.ArtifactKey(code, id)
	blob, err := r.store.Get(ctx, artifactKey)
	if errors.Is(err, objstore.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrNoModel, artifactKey)
	}
	if err != nil {
		return nil, ioErr("read artifact", artifactKey, err)
	}
	model, err := r.est.Decode(blob)
	if err != nil {
		return nil, ioErr("decode artifact", artifactKey, err)
	}

	meta := models.ModelMetadata{ModelID: id, DiseaseCode: code}
	metaKey := r.layout.MetadataKey(code, id)
	raw, err := r.store.Get(ctx, metaKey)
	switch {
	case errors.Is(err, objstore.ErrObjectNotFound):
		r.l.Warn("model metadata not found", applogger.String("key", metaKey))
	case err != nil:
		return nil, ioErr("read metadata", metaKey, err)
	default:
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, ioErr("parse metadata", metaKey, err)
		}
	}

	r.l.Debug("model loaded",
		applogger.String("disease_code", code),
		applogger.String("model_id", id),
		applogger.Duration("took", time.Since(start)),
	)
	return &models.LoadedModel{Metadata: meta, Model: model}, nil
}

var _ domrepo.ModelRegistry = (*Registry)(nil)
