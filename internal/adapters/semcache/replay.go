package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/revroute/pkg/metrics"
)

type replayEntry struct {
	Key      string    `json:"key"`
	Value    string    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// ReplayCache is the non-temporal variant: entries are addressed by an
// opaque string and stored without validation.
type ReplayCache struct {
	backend Backend
	now     func() time.Time
}

// NewReplay wraps backend. It may share a backend with a Cache.
func NewReplay(backend Backend) *ReplayCache {
	return &ReplayCache{backend: backend, now: time.Now}
}

func replayID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return storageID("replay", hex.EncodeToString(sum[:]))
}

// Get returns the value stored under key. A miss is (nil, false, nil).
func (r *ReplayCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := r.backend.Get(ctx, replayID(key))
	if err != nil {
		return nil, false, err
	}
	metrics.RecordCacheLookup("replay", "opaque", ok)
	if !ok {
		return nil, false, nil
	}
	var e replayEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if e.Key != key {
		return nil, false, fmt.Errorf("%w: replay key %q", ErrKeyCollision, key)
	}
	return []byte(e.Value), true, nil
}

// Put stores value under key, replacing any previous value.
func (r *ReplayCache) Put(ctx context.Context, key string, value []byte) error {
	b, err := json.Marshal(replayEntry{Key: key, Value: string(value), StoredAt: r.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode replay entry: %w", err)
	}
	if err := r.backend.Put(ctx, replayID(key), b); err != nil {
		return err
	}
	metrics.RecordCacheWrite("replay", "opaque")
	return nil
}
