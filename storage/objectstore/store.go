// Package objectstore archives session recordings in a NATS JetStream
// object store bucket.
package objectstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/bcistream/errors"
	"github.com/c360/bcistream/metric"
	"github.com/c360/bcistream/natsclient"
	"github.com/c360/bcistream/storage"
)

// Store implements storage.Store on a JetStream object store bucket.
type Store struct {
	cfg     Config
	bucket  jetstream.ObjectStore
	metrics *storeMetrics
	logger  *slog.Logger

	uploaded atomic.Uint64
	failed   atomic.Uint64
}

var _ storage.Store = (*Store)(nil)

// New opens the configured bucket, creating it when missing.
func New(ctx context.Context, client *natsclient.Client, cfg Config,
	registry *metric.MetricsRegistry, logger *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrNotConnected, "objectstore", "New", "nats client is required")
	}

	bucket, err := client.ObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      cfg.Bucket,
		Description: cfg.Description,
		MaxBytes:    cfg.MaxBytes,
		TTL:         cfg.TTL,
	})
	if err != nil {
		return nil, err
	}

	metrics, err := newStoreMetrics(registry, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:     cfg,
		bucket:  bucket,
		metrics: metrics,
		logger:  logger.With("component", "objectstore", "bucket", cfg.Bucket),
	}, nil
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	info, err := s.bucket.PutBytes(ctx, key, data)
	s.metrics.observe("put", time.Since(start).Seconds(), err)
	if err != nil {
		return writeError(err, "Put", key)
	}
	s.metrics.wrote(info.Size)
	return nil
}

// Get implements storage.Store. A missing key wraps jetstream.ErrObjectNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.bucket.GetBytes(ctx, key)
	s.metrics.observe("get", time.Since(start).Seconds(), err)
	switch {
	case stderrors.Is(err, jetstream.ErrObjectNotFound):
		return nil, errors.WrapInvalid(err, "objectstore", "Get", fmt.Sprintf("object %s", key))
	case err != nil:
		return nil, errors.WrapTransient(err, "objectstore", "Get", fmt.Sprintf("read %s", key))
	}
	return data, nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	infos, err := s.bucket.List(ctx)
	if stderrors.Is(err, jetstream.ErrNoObjectsFound) {
		err = nil
	}
	s.metrics.observe("list", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, errors.WrapTransient(err, "objectstore", "List", "list objects")
	}

	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if !info.Deleted && strings.HasPrefix(info.Name, prefix) {
			keys = append(keys, info.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.bucket.Delete(ctx, key)
	if stderrors.Is(err, jetstream.ErrObjectNotFound) {
		err = nil
	}
	s.metrics.observe("delete", time.Since(start).Seconds(), err)
	if err != nil {
		return errors.WrapTransient(err, "objectstore", "Delete", fmt.Sprintf("delete %s", key))
	}
	return nil
}

// PutFile streams the file at path into the bucket under key.
func (s *Store) PutFile(ctx context.Context, key, path string, metadata map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.WrapInvalid(err, "objectstore", "PutFile", "open file")
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()

	start := time.Now()
	info, err := s.bucket.Put(ctx, jetstream.ObjectMeta{Name: key, Metadata: metadata}, f)
	s.metrics.observe("put", time.Since(start).Seconds(), err)
	if err != nil {
		return writeError(err, "PutFile", key)
	}
	s.metrics.wrote(info.Size)
	s.logger.Info("Archived file", "key", key, "bytes", info.Size, "chunks", info.Chunks)
	return nil
}

// Archive uploads each file under storage.SessionKey. Files that were never
// created are skipped. It returns the keys written; a failed upload does not
// stop the others.
func (s *Store) Archive(ctx context.Context, sessionID string, paths ...string) ([]string, error) {
	var (
		keys []string
		errs []error
	)
	for _, p := range paths {
		if _, err := os.Stat(p); stderrors.Is(err, os.ErrNotExist) {
			s.logger.Debug("Nothing to archive", "path", p)
			continue
		}
		key := storage.SessionKey(sessionID, p)
		meta := map[string]string{"session_id": sessionID, "source_path": p}
		if err := s.PutFile(ctx, key, p, meta); err != nil {
			s.failed.Add(1)
			errs = append(errs, err)
			continue
		}
		s.uploaded.Add(1)
		keys = append(keys, key)
	}
	return keys, stderrors.Join(errs...)
}

// writeError classifies a failed upload. A bucket at its size limit will not
// accept a retry.
func writeError(err error, method, key string) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "maximum bytes") || strings.Contains(msg, "insufficient resources") {
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrStorageFull, err), "objectstore", method,
			fmt.Sprintf("store %s", key))
	}
	return errors.WrapTransient(err, "objectstore", method, fmt.Sprintf("store %s", key))
}

// Stats returns the files archived and the failed uploads.
func (s *Store) Stats() (uploaded, failed uint64) {
	return s.uploaded.Load(), s.failed.Load()
}
