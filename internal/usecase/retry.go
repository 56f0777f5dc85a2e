package usecase

import (
	"context"
	"errors"
	"time"

	"EpiCast/internal/domain/models"
	"EpiCast/pkg/util"
)

// RetryPolicy bounds exponential backoff around registry I/O.
type RetryPolicy struct {
	Attempts   int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// withRetry runs op until it succeeds, fails with a non-I/O error, or the
// attempts are spent.
func withRetry(ctx context.Context, p RetryPolicy, op func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil || !errors.Is(err, models.ErrRegistryIO) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(util.BackoffWithJitter(p.BackoffMin, p.BackoffMax, attempt)):
		}
	}
	return err
}
