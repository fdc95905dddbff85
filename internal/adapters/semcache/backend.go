package semcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const (
	cacheDirPerms  = 0o700
	cacheFilePerms = 0o600
)

// Backend stores opaque bytes under a filesystem-safe id. Implementations
// must be safe for concurrent use; concurrent puts to one id resolve as
// last write wins.
type Backend interface {
	Get(ctx context.Context, id string) ([]byte, bool, error)
	Put(ctx context.Context, id string, value []byte) error
	Close() error
}

// MemoryBackend keeps entries in a map.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(ctx context.Context, id string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = append([]byte(nil), value...)
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }

// DiskBackend stores one file per entry under dir, sharded by the first
// two characters of the id. Writes go through a temp file and a rename.
type DiskBackend struct {
	dir string
}

// NewDiskBackend creates dir if needed.
func NewDiskBackend(dir string) (*DiskBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty cache directory", ErrBackend)
	}
	clean := filepath.Clean(dir)
	if err := os.MkdirAll(clean, cacheDirPerms); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &DiskBackend{dir: clean}, nil
}

func (d *DiskBackend) path(id string) string {
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(d.dir, shard, id+".json")
}

// Get implements Backend.
func (d *DiskBackend) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(d.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache file: %w", err)
	}
	return b, true, nil
}

// Put implements Backend.
func (d *DiskBackend) Put(ctx context.Context, id string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := d.path(id)
	if err := os.MkdirAll(filepath.Dir(path), cacheDirPerms); err != nil {
		return fmt.Errorf("create cache shard: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Chmod(cacheFilePerms); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

// Close implements Backend.
func (d *DiskBackend) Close() error { return nil }

// BadgerBackend stores entries in a BadgerDB under a key prefix.
type BadgerBackend struct {
	db     *badger.DB
	prefix string
	owned  bool
}

// NewBadgerBackend wraps db. When owned is true, Close closes db.
func NewBadgerBackend(db *badger.DB, owned bool) *BadgerBackend {
	return &BadgerBackend{db: db, prefix: "semcache/", owned: owned}
}

// Get implements Backend.
func (b *BadgerBackend) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(b.prefix + id))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return out, true, nil
}

// Put implements Backend.
func (b *BadgerBackend) Put(ctx context.Context, id string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(b.prefix+id), value)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Close implements Backend.
func (b *BadgerBackend) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}

// Backend kinds accepted by OpenBackend.
const (
	KindMemory = "memory"
	KindDisk   = "disk"
	KindBadger = "badger"
)

// OpenBackend builds the backend named by kind. Disk and badger backends
// persist under dir; badger opens a private database there.
func OpenBackend(kind, dir string, open func(dir string) (*badger.DB, error)) (Backend, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryBackend(), nil
	case KindDisk:
		d, err := NewDiskBackend(dir)
		if err != nil {
			return nil, err
		}
		return d, nil
	case KindBadger:
		db, err := open(dir)
		if err != nil {
			return nil, err
		}
		return NewBadgerBackend(db, true), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackend, kind)
	}
}
