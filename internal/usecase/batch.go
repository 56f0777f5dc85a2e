package usecase

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"EpiCast/internal/domain/models"
)

// RunBatch fans fn out over at most workers goroutines, one call per code,
// and returns the results in input order. A unit reports its failure in its
// result and never cancels sibling units.
func RunBatch[T any](ctx context.Context, codes []string, workers int, fn func(ctx context.Context, code string) T) []T {
	if workers < 1 {
		workers = 1
	}
	results := make([]T, len(codes))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, code := range codes {
		g.Go(func() error {
			results[i] = fn(ctx, code)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// newResult fills status, reason and error from err.
func newResult(stage models.Stage, code string, started time.Time, err error) models.TaskResult {
	res := models.TaskResult{
		DiseaseCode: code,
		Stage:       stage,
		Status:      models.Classify(err),
		Duration:    time.Since(started),
	}
	if err != nil {
		res.Error = err.Error()
		res.Reason = reason(err)
	}
	return res
}

// reason names the sentinel behind err for machine consumers.
func reason(err error) string {
	for _, s := range []struct {
		err  error
		name string
	}{
		{models.ErrDataUnavailable, "data_unavailable"},
		{models.ErrMissingUpstreamArtifact, "missing_upstream_artifact"},
		{models.ErrMetadataMissing, "metadata_missing"},
		{models.ErrNoViableModel, "no_viable_model"},
		{models.ErrNoModel, "no_model"},
		{models.ErrBusy, "busy"},
		{models.ErrFitFailure, "fit_failure"},
		{models.ErrRegistryIO, "registry_io"},
		{models.ErrIncidenceIO, "incidence_io"},
		{context.Canceled, "canceled"},
		{context.DeadlineExceeded, "deadline_exceeded"},
	} {
		if errors.Is(err, s.err) {
			return s.name
		}
	}
	return "internal"
}
