package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSStore keeps objects in a Cloud Storage bucket under an optional prefix.
// Atomic updates use generation preconditions.
type GCSStore struct {
	client  *storage.Client
	bucket  *storage.BucketHandle
	prefix  string
	retries int
}

func NewGCSStore(ctx context.Context, cfg Config) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs store: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return newGCSStore(client, cfg), nil
}

func newGCSStore(client *storage.Client, cfg Config) *GCSStore {
	retries := cfg.Retries
	if retries <= 0 {
		retries = 8
	}
	return &GCSStore{
		client:  client,
		bucket:  client.Bucket(cfg.Bucket),
		prefix:  strings.Trim(cfg.Prefix, "/"),
		retries: retries,
	}
}

func (s *GCSStore) path(key string) string { return Join(s.prefix, key) }

func (s *GCSStore) write(ctx context.Context, obj *storage.ObjectHandle, data []byte) error {
	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func isPrecondition(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.write(ctx, s.bucket.Object(s.path(key)), data); err != nil {
		return fmt.Errorf("gcs put %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Create(ctx context.Context, key string, data []byte) error {
	obj := s.bucket.Object(s.path(key)).If(storage.Conditions{DoesNotExist: true})
	if err := s.write(ctx, obj, data); err != nil {
		if isPrecondition(err) {
			return fmt.Errorf("%w: %s", ErrObjectExists, key)
		}
		return fmt.Errorf("gcs create %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) read(ctx context.Context, key string) ([]byte, int64, error) {
	r, err := s.bucket.Object(s.path(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("gcs get %s: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("gcs read %s: %w", key, err)
	}
	return data, r.Attrs.Generation, nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, _, err := s.read(ctx, key)
	return data, err
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	full := s.path(prefix)
	if strings.HasSuffix(prefix, "/") {
		full += "/"
	}
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: full})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list %s: %w", prefix, err)
		}
		key := attrs.Name
		if s.prefix != "" {
			key = strings.TrimPrefix(key, s.prefix+"/")
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *GCSStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	for attempt := 0; attempt < s.retries; attempt++ {
		cur, gen, err := s.read(ctx, key)
		exists := err == nil
		if err != nil && !errors.Is(err, ErrObjectNotFound) {
			return err
		}
		next, err := fn(cur, exists)
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		if err != nil {
			return err
		}
		cond := storage.Conditions{DoesNotExist: true}
		if exists {
			cond = storage.Conditions{GenerationMatch: gen}
		}
		err = s.write(ctx, s.bucket.Object(s.path(key)).If(cond), next)
		if isPrecondition(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("gcs update %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrContention, key)
}

func (s *GCSStore) Close() error { return s.client.Close() }

var _ Store = (*GCSStore)(nil)
