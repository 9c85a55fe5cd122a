package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/weftlabs/weft/pkg/schema"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs. Values are
// round-tripped through JSON on write so callers cannot mutate stored state.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*schema.WorkflowDefinition
	executions map[string]*schema.ExecutionResult
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*schema.WorkflowDefinition),
		executions: make(map[string]*schema.ExecutionResult),
	}
}

func (s *MemoryStore) SaveDefinition(_ context.Context, def *schema.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition needs an id")
	}
	cp := &schema.WorkflowDefinition{}
	if err := roundTrip(def, cp); err != nil {
		return err
	}

	s.mu.Lock()
	s.workflows[def.ID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetDefinition(_ context.Context, id string) (*schema.WorkflowDefinition, error) {
	s.mu.RLock()
	def, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("workflow", id)
	}

	cp := &schema.WorkflowDefinition{}
	if err := roundTrip(def, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *MemoryStore) ListDefinitions(_ context.Context) ([]*schema.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.workflows))
	for id := range s.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	defs := make([]*schema.WorkflowDefinition, 0, len(ids))
	for _, id := range ids {
		cp := &schema.WorkflowDefinition{}
		if err := roundTrip(s.workflows[id], cp); err != nil {
			return nil, err
		}
		defs = append(defs, cp)
	}
	return defs, nil
}

func (s *MemoryStore) DeleteDefinition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return notFound("workflow", id)
	}
	delete(s.workflows, id)
	return nil
}

func (s *MemoryStore) SaveExecution(_ context.Context, result *schema.ExecutionResult) error {
	if result == nil || result.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution needs an id")
	}
	cp := &schema.ExecutionResult{}
	if err := roundTrip(result, cp); err != nil {
		return err
	}

	s.mu.Lock()
	s.executions[result.ExecutionID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*schema.ExecutionResult, error) {
	s.mu.RLock()
	result, ok := s.executions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("execution", id)
	}

	cp := &schema.ExecutionResult{}
	if err := roundTrip(result, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, workflowID string, limit int) ([]*schema.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	all := make([]*schema.ExecutionResult, 0, len(s.executions))
	for _, r := range s.executions {
		if workflowID == "" || r.WorkflowID == workflowID {
			all = append(all, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(a, b int) bool {
		return all[a].StartedAt.After(all[b].StartedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]*schema.ExecutionResult, 0, len(all))
	for _, r := range all {
		cp := &schema.ExecutionResult{}
		if err := roundTrip(r, cp); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func roundTrip(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "encode failed").WithCause(err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return schema.NewError(schema.ErrCodeStore, "decode failed").WithCause(err)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
