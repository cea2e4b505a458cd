package service

import (
	"context"
	"fmt"
	"log/slog"

	"sdlc-wizard/internal/coordinator"
	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/domain"
	"sdlc-wizard/internal/notify"
)

type WorkflowService interface {
	StartRun(ctx context.Context, runID string, upload domain.Upload) (*domain.WorkflowRun, error)
	// Advance enqueues the run for the worker pool, or runs it inline when wait is set.
	Advance(ctx context.Context, runID string, wait bool) (*domain.WorkflowRun, error)
	Approve(ctx context.Context, runID string, gate domain.Stage, wait bool) (*domain.WorkflowRun, error)
	Reject(ctx context.Context, runID string, gate domain.Stage, reason string) (*domain.WorkflowRun, error)
	Resubmit(ctx context.Context, runID string, upload domain.Upload) (*domain.WorkflowRun, error)
	GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error)
	ListRuns(ctx context.Context) ([]*domain.WorkflowRun, error)
	GetArtifact(ctx context.Context, runID string, kind domain.ArtifactKind) ([]byte, error)
	Events(runID string) []domain.Event
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}

// The Implementation
type workflowService struct {
	machine    *coordinator.StateMachine
	artifacts  ports.ArtifactStore
	queue      ports.TaskQueue
	eventLog   *notify.EventLog
	subscriber ports.EventSubscriber
	logger     *slog.Logger
}

// Constructor. subscriber may be nil, in which case streams come from eventLog.
func NewWorkflowService(
	machine *coordinator.StateMachine,
	artifacts ports.ArtifactStore,
	queue ports.TaskQueue,
	eventLog *notify.EventLog,
	subscriber ports.EventSubscriber,
	logger *slog.Logger,
) WorkflowService {
	if subscriber == nil {
		subscriber = eventLog
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &workflowService{
		machine:    machine,
		artifacts:  artifacts,
		queue:      queue,
		eventLog:   eventLog,
		subscriber: subscriber,
		logger:     logger.With("component", "service"),
	}
}

func (s *workflowService) StartRun(ctx context.Context, runID string, upload domain.Upload) (*domain.WorkflowRun, error) {
	// 1. Create the run and extract its requirement text
	run, err := s.machine.Start(ctx, runID, upload)
	if err != nil {
		return nil, err
	}

	// 2. QUEUE: only runs with text can generate stories
	if run.Status == domain.StatusRunning {
		s.enqueue(ctx, run.RunID)
	}
	return run, nil
}

func (s *workflowService) Advance(ctx context.Context, runID string, wait bool) (*domain.WorkflowRun, error) {
	if wait {
		return s.machine.Advance(ctx, runID)
	}
	run, err := s.machine.GetStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Push(ctx, runID); err != nil {
		return nil, fmt.Errorf("enqueue advance: %w", err)
	}
	return run, nil
}

func (s *workflowService) Approve(ctx context.Context, runID string, gate domain.Stage, wait bool) (*domain.WorkflowRun, error) {
	if wait {
		return s.machine.Approve(ctx, runID, gate)
	}
	run, err := s.machine.RecordApproval(ctx, runID, gate)
	if err != nil {
		return nil, err
	}
	s.enqueue(ctx, runID)
	return run, nil
}

func (s *workflowService) Reject(ctx context.Context, runID string, gate domain.Stage, reason string) (*domain.WorkflowRun, error) {
	return s.machine.Reject(ctx, runID, gate, reason)
}

// Resubmit stores the new document and, once its text is extracted, queues
// the run so stories are regenerated.
func (s *workflowService) Resubmit(ctx context.Context, runID string, upload domain.Upload) (*domain.WorkflowRun, error) {
	run, err := s.machine.Resubmit(ctx, runID, upload)
	if err != nil {
		return nil, err
	}
	if run.HasArtifact(domain.ArtifactRequirementText) {
		s.enqueue(ctx, runID)
	}
	return run, nil
}

func (s *workflowService) GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	return s.machine.GetStatus(ctx, runID)
}

func (s *workflowService) ListRuns(ctx context.Context) ([]*domain.WorkflowRun, error) {
	return s.machine.List(ctx)
}

// GetArtifact returns the version the run currently points at.
func (s *workflowService) GetArtifact(ctx context.Context, runID string, kind domain.ArtifactKind) ([]byte, error) {
	run, err := s.machine.GetStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	ref, ok := run.Artifacts[kind]
	if !ok {
		return nil, fmt.Errorf("%w: run %s has no %s artifact", domain.ErrNotFound, runID, kind)
	}
	return s.artifacts.GetRef(ctx, ref)
}

func (s *workflowService) Events(runID string) []domain.Event {
	return s.eventLog.Events(runID)
}

func (s *workflowService) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	return s.subscriber.Subscribe(ctx)
}

// enqueue failures are logged; the caller can always retry with advance.
func (s *workflowService) enqueue(ctx context.Context, runID string) {
	if err := s.queue.Push(ctx, runID); err != nil {
		s.logger.Error("failed to enqueue run", "run_id", runID, "error", err)
	}
}
