// Package memory holds process-local implementations of the core ports, used
// by tests, the local `run` command and deployments without Postgres/Redis.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sdlc-wizard/internal/domain"
)

type RunRepository struct {
	mu   sync.RWMutex
	runs map[string]*domain.WorkflowRun
}

func NewRunRepository() *RunRepository {
	return &RunRepository{runs: make(map[string]*domain.WorkflowRun)}
}

func (r *RunRepository) Create(ctx context.Context, run *domain.WorkflowRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[run.RunID]; exists {
		return fmt.Errorf("%w: run %s already exists", domain.ErrInvalidState, run.RunID)
	}
	r.runs[run.RunID] = run.Clone()
	return nil
}

func (r *RunRepository) Get(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	return run.Clone(), nil
}

func (r *RunRepository) Save(ctx context.Context, run *domain.WorkflowRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.runs[run.RunID]
	if !ok {
		return fmt.Errorf("%w: run %s", domain.ErrNotFound, run.RunID)
	}
	if stored.Version != run.Version {
		return fmt.Errorf("%w: run %s was modified concurrently (version %d)", domain.ErrInvalidState, run.RunID, run.Version)
	}
	run.Version++
	run.UpdatedAt = time.Now()
	r.runs[run.RunID] = run.Clone()
	return nil
}

func (r *RunRepository) List(ctx context.Context) ([]*domain.WorkflowRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.WorkflowRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
