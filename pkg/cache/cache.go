package cache

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
)

// Service defines cache operations interface.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

// GetOrLoad returns the cached value for key, or calls load and caches its result.
// Cache failures never fail the call; only load errors do.
func GetOrLoad[T any](ctx context.Context, c Service, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, bool, error) {
	var v T
	if err := c.Get(ctx, key, &v); err == nil {
		return v, true, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, false, err
	}
	_ = c.Set(ctx, key, v, ttl)
	return v, false, nil
}

// ForecastKey caches the latest forecast rows of one disease code.
func ForecastKey(code string) string { return "code:" + code + ":forecast" }

// ModelsKey caches the model list of one disease code.
func ModelsKey(code string) string { return "code:" + code + ":models" }

// CodePattern matches every cached read of one disease code. Locks live
// outside this namespace.
func CodePattern(code string) string { return "code:" + code + ":*" }

// TrainLockKey guards training of one disease code.
func TrainLockKey(code string) string { return "lock:train:" + code }
