package champion

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/pkg/metrics"
)

// Registry actions recorded in entry history.
const (
	ActionRegister = "register"
	ActionPromote  = "promote"
	ActionDemote   = "demote"
)

// MemoryStore is an in-process Store. One mutex serializes mutations, so
// promotions are atomic.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[operators.TaskID]map[string]*Entry
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[operators.TaskID]map[string]*Entry), now: time.Now}
}

// Register implements Store.
func (m *MemoryStore) Register(ctx context.Context, task operators.TaskID, ref Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := ref.Normalize()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.tasks[task]
	if !ok {
		entries = make(map[string]*Entry)
		m.tasks[task] = entries
	}
	if e, ok := entries[ref.Name]; ok {
		if !reflect.DeepEqual(e.Ref, ref) {
			return fmt.Errorf("%w: %s/%s", ErrConflictingRef, task, ref.Name)
		}
		return nil
	}
	entries[ref.Name] = &Entry{
		Task:    task,
		Ref:     ref.Clone(),
		Status:  StatusRegistered,
		History: []Transition{{Name: ref.Name, Action: ActionRegister, At: m.now().UTC()}},
	}
	metrics.RecordChampionChange(string(task), ActionRegister)
	return nil
}

// Promote implements Store.
func (m *MemoryStore) Promote(ctx context.Context, task operators.TaskID, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := m.tasks[task][name]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnregisteredCandidate, task, name)
	}
	if next.Status == StatusChampion {
		return nil
	}
	at := m.now().UTC()
	for _, e := range m.tasks[task] {
		if e.Status == StatusChampion {
			e.Status = StatusRegistered
			e.History = append(e.History, Transition{Name: e.Ref.Name, Action: ActionDemote, At: at})
		}
	}
	next.Status = StatusChampion
	next.History = append(next.History, Transition{Name: name, Action: ActionPromote, At: at})
	metrics.RecordChampionChange(string(task), ActionPromote)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, task operators.TaskID) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := State{Task: task, Entries: make([]Entry, 0, len(m.tasks[task]))}
	for _, e := range m.tasks[task] {
		cp := *e
		cp.Ref = e.Ref.Clone()
		cp.History = append([]Transition(nil), e.History...)
		st.Entries = append(st.Entries, cp)
		if e.Status == StatusChampion {
			st.Champion = e.Ref.Name
		}
	}
	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].Ref.Name < st.Entries[j].Ref.Name })
	return st, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
