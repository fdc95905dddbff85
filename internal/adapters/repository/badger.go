package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/pkg/logger"
)

// BadgerStore keeps runs in a badger database under a key prefix.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
	owned  bool
	closed atomic.Bool
	log    logger.Logger
}

var _ eval.RunStore = (*BadgerStore)(nil)

// NewBadgerStore wraps db. The handle is closed by Close only when
// WithOwnedDB is given.
func NewBadgerStore(db *badger.DB, opts ...Option) *BadgerStore {
	c := apply(opts)
	return &BadgerStore{db: db, prefix: []byte(c.prefix), owned: c.owned, log: c.log}
}

func (s *BadgerStore) key(id string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(id))
	k = append(k, s.prefix...)
	return append(k, id...)
}

// Put implements eval.RunStore.
func (s *BadgerStore) Put(ctx context.Context, run eval.Run) error {
	if s.closed.Load() {
		return ErrClosed
	}
	raw, err := encode(run)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(run.ID), raw)
	}); err != nil {
		return fmt.Errorf("put run %s: %w", run.ID, err)
	}
	s.log.Debug(ctx, "run stored", logger.String("run_id", run.ID), logger.Int("bytes", len(raw)))
	return nil
}

// Get implements eval.RunStore.
func (s *BadgerStore) Get(_ context.Context, id string) (eval.Run, error) {
	if s.closed.Load() {
		return eval.Run{}, ErrClosed
	}
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return eval.Run{}, fmt.Errorf("%w: %s", eval.ErrRunNotFound, id)
	}
	if err != nil {
		return eval.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return decode(raw)
}

// List implements eval.RunStore.
func (s *BadgerStore) List(_ context.Context) ([]eval.Run, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []eval.Run
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			run, err := decode(raw)
			if err != nil {
				return err
			}
			out = append(out, run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Close implements eval.RunStore.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.owned {
		return s.db.Close()
	}
	return nil
}
