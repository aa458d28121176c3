// Package persistence records workflow run outcomes for later inspection.
// Stores hold finished-run snapshots only; they are not checkpoints and
// the engine never reads them back during execution.
package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/taskflow/types"
)

// RunStatus is the terminal state of a recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// RunRecord is the persisted snapshot of one workflow execution.
type RunRecord struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Status     RunStatus      `json:"status"`
	Outputs    map[string]any `json:"outputs,omitempty"`   // terminal node outputs by node ID
	Variables  map[string]any `json:"variables,omitempty"` // shared store at run end
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}

// RunStore persists run records.
type RunStore interface {
	// Save inserts or updates a record keyed by RunRecord.ID.
	Save(ctx context.Context, rec *RunRecord) error
	// Load retrieves a record by run ID.
	Load(ctx context.Context, runID string) (*RunRecord, error)
	// List returns records for a workflow, most recent first.
	List(ctx context.Context, workflowID string) ([]*RunRecord, error)
	// Close releases store resources.
	Close() error
}

// MemoryRunStore is an in-process RunStore for tests and single-binary
// deployments.
type MemoryRunStore struct {
	mu   sync.RWMutex
	recs map[string]*RunRecord
}

// NewMemoryRunStore creates an empty MemoryRunStore.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{recs: make(map[string]*RunRecord)}
}

// Save implements RunStore.
func (s *MemoryRunStore) Save(ctx context.Context, rec *RunRecord) error {
	if rec.ID == "" {
		return types.NewError(types.ErrInternalError, "run record has no ID")
	}
	cp := *rec
	s.mu.Lock()
	s.recs[rec.ID] = &cp
	s.mu.Unlock()
	return nil
}

// Load implements RunStore.
func (s *MemoryRunStore) Load(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[runID]
	if !ok {
		return nil, types.NewErrorf(types.ErrInternalError, "run %q not found", runID)
	}
	cp := *rec
	return &cp, nil
}

// List implements RunStore.
func (s *MemoryRunStore) List(ctx context.Context, workflowID string) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RunRecord, 0)
	for _, rec := range s.recs {
		if rec.WorkflowID == workflowID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Close implements RunStore.
func (s *MemoryRunStore) Close() error { return nil }
