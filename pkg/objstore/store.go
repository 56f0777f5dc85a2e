package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	// ErrNoChange is returned by an update function to leave the object untouched.
	ErrNoChange = errors.New("no change")
	// ErrContention means an atomic update lost every retry to concurrent writers.
	ErrContention   = errors.New("update contention")
	ErrObjectExists = errors.New("object already exists")
)

// UpdateFunc receives the current value (nil when absent) and returns the next one.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is a flat key/value object store with slash-separated keys.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	// Create writes key only if it does not exist yet.
	Create(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Update atomically applies fn to key. Concurrent updates are retried.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend  string `yaml:"backend" default:"badger" validate:"oneof=badger gcs"`
	Path     string `yaml:"path" default:"./data/registry"`
	InMemory bool   `yaml:"in_memory"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Retries  int    `yaml:"retries" default:"8"`
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "badger":
		return NewBadgerStore(cfg)
	case "gcs":
		return NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown object store backend %q", cfg.Backend)
	}
}

// Join builds a key from path segments.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}
