package operators

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps (task, operator id) to an operator. Registration is an
// explicit call made while wiring the process.
type Registry struct {
	mu    sync.RWMutex
	tasks map[TaskID]map[ID]Operator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[TaskID]map[ID]Operator)}
}

// Register adds op under (task, id).
func (r *Registry) Register(task TaskID, id ID, op Operator) error {
	if task == "" || id == "" || op == nil {
		return fmt.Errorf("register operator %q for task %q: missing task, id or operator", id, task)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ops, ok := r.tasks[task]
	if !ok {
		ops = make(map[ID]Operator)
		r.tasks[task] = ops
	}
	if _, dup := ops[id]; dup {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateOperator, task, id)
	}
	ops[id] = op
	return nil
}

// IDs lists the operators registered for task, sorted. An unknown task
// yields an empty list.
func (r *Registry) IDs(task TaskID) []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := r.tasks[task]
	ids := make([]ID, 0, len(ops))
	for id := range ops {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get returns the operator registered under (task, id).
func (r *Registry) Get(task TaskID, id ID) (Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.tasks[task][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownOperator, task, id)
	}
	return op, nil
}

// HasTask reports whether any operator is registered for task.
func (r *Registry) HasTask(task TaskID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks[task]) > 0
}

// Tasks lists tasks with at least one operator, sorted.
func (r *Registry) Tasks() []TaskID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TaskID, 0, len(r.tasks))
	for t, ops := range r.tasks {
		if len(ops) > 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegisterBuiltins registers the built-in operators for task. A nil
// reranker leaves the LLM operator out.
func RegisterBuiltins(r *Registry, task TaskID, rerank *LLMRerank) error {
	if err := r.Register(task, MentionHeuristicID, NewMentionHeuristic()); err != nil {
		return err
	}
	if err := r.Register(task, AffinityModelID, NewAffinityModel(nil)); err != nil {
		return err
	}
	if rerank != nil {
		return r.Register(task, LLMRerankID, rerank)
	}
	return nil
}
