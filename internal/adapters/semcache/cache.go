// Package semcache is the content-addressed semantic cache. Artifacts are
// stored under the digest of an artifact.Key and validated against their
// artifact type on every write and read.
package semcache

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/revroute/internal/domain/artifact"
	"github.com/okian/revroute/pkg/logger"
	"github.com/okian/revroute/pkg/metrics"
)

// entry is the stored envelope. Value keeps the artifact bytes exactly as
// they were put.
type entry struct {
	Key      artifact.Key `json:"key"`
	Value    string       `json:"value"`
	StoredAt time.Time    `json:"stored_at"`
}

// Cache maps artifact keys to validated artifacts. No eviction happens at
// this layer.
type Cache struct {
	backend Backend
	name    string
	now     func() time.Time
	log     logger.Logger
}

// New wraps backend.
func New(backend Backend, opts ...Option) *Cache {
	c := &Cache{backend: backend, name: "semantic", now: time.Now, log: logger.For("semcache")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func storageID(namespace, digest string) string { return digest + "." + namespace }

// Get returns the artifact stored under key. A miss is (nil, false, nil).
func (c *Cache) Get(ctx context.Context, key artifact.Key) (json.RawMessage, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	raw, ok, err := c.backend.Get(ctx, storageID("sem", key.Digest()))
	if err != nil {
		return nil, false, err
	}
	metrics.RecordCacheLookup(c.name, string(key.ArtifactType), ok)
	if !ok {
		return nil, false, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorruptEntry, key.Digest(), err)
	}
	if e.Key.Canonical() != key.Canonical() {
		return nil, false, fmt.Errorf("%w: %s", ErrKeyCollision, key.Digest())
	}
	if err := artifact.Validate(key.ArtifactType, []byte(e.Value)); err != nil {
		metrics.RecordCacheRejected(string(key.ArtifactType), "read")
		c.log.Warn(ctx, "stored artifact failed validation",
			logger.String("key", key.Canonical()), logger.Error(err))
		return nil, false, err
	}
	return json.RawMessage(e.Value), true, nil
}

// Put stores value under key, replacing any previous artifact.
func (c *Cache) Put(ctx context.Context, key artifact.Key, value json.RawMessage) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := artifact.Validate(key.ArtifactType, value); err != nil {
		metrics.RecordCacheRejected(string(key.ArtifactType), "write")
		return err
	}
	b, err := json.Marshal(entry{Key: key, Value: string(value), StoredAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.backend.Put(ctx, storageID("sem", key.Digest()), b); err != nil {
		return err
	}
	metrics.RecordCacheWrite(c.name, string(key.ArtifactType))
	c.log.Debug(ctx, "artifact stored", logger.String("key", key.Canonical()))
	return nil
}

// Close releases the backend.
func (c *Cache) Close() error { return c.backend.Close() }
