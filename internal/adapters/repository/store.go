// Package repository persists evaluation runs by run id.
package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/pkg/logger"
)

// MemoryStore keeps encoded runs in a map, so callers never share state
// with the store. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string][]byte
	closed bool
	log    logger.Logger
}

var _ eval.RunStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	c := apply(opts)
	return &MemoryStore{runs: make(map[string][]byte), log: c.log}
}

// Put implements eval.RunStore.
func (s *MemoryStore) Put(ctx context.Context, run eval.Run) error {
	raw, err := encode(run)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.runs[run.ID] = raw
	s.log.Debug(ctx, "run stored", logger.String("run_id", run.ID), logger.Int("bytes", len(raw)))
	return nil
}

// Get implements eval.RunStore.
func (s *MemoryStore) Get(_ context.Context, id string) (eval.Run, error) {
	s.mu.RLock()
	raw, ok := s.runs[id]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return eval.Run{}, ErrClosed
	}
	if !ok {
		return eval.Run{}, fmt.Errorf("%w: %s", eval.ErrRunNotFound, id)
	}
	return decode(raw)
}

// List implements eval.RunStore.
func (s *MemoryStore) List(_ context.Context) ([]eval.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]eval.Run, 0, len(s.runs))
	for _, raw := range s.runs {
		run, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// Len returns the number of stored runs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Close implements eval.RunStore.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func encode(run eval.Run) ([]byte, error) {
	if run.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidRun)
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	return raw, nil
}

func decode(raw []byte) (eval.Run, error) {
	var run eval.Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return eval.Run{}, fmt.Errorf("decode run: %w", err)
	}
	return run, nil
}
