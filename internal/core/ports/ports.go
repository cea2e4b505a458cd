package ports

import (
	"context"
	"errors"

	"sdlc-wizard/internal/domain"
)

// ErrQueueEmpty is returned by TaskQueue.Pop when nothing arrived before the
// queue's poll timeout. Workers treat it as "try again".
var ErrQueueEmpty = errors.New("queue empty")

// RunRepository persists WorkflowRun records
type RunRepository interface {
	// Create inserts a new run; fails with domain.ErrInvalidState if the id exists
	Create(ctx context.Context, run *domain.WorkflowRun) error

	// Get returns the run or domain.ErrNotFound
	Get(ctx context.Context, runID string) (*domain.WorkflowRun, error)

	// Save writes the run if its Version still matches what is stored, then
	// increments run.Version.
	Save(ctx context.Context, run *domain.WorkflowRun) error

	// List returns every run, newest first
	List(ctx context.Context) ([]*domain.WorkflowRun, error)
}

// ArtifactStore keeps immutable artifact versions keyed by run and kind
type ArtifactStore interface {
	// Put stores content as a new version and returns its reference.
	// An existing (runID, kind) is never overwritten.
	Put(ctx context.Context, runID string, kind domain.ArtifactKind, content []byte) (domain.ArtifactRef, error)

	// Get returns the latest version for (runID, kind) or domain.ErrNotFound
	Get(ctx context.Context, runID string, kind domain.ArtifactKind) ([]byte, error)

	// GetRef returns the exact version behind ref
	GetRef(ctx context.Context, ref domain.ArtifactRef) ([]byte, error)
}

// NotificationSink surfaces run events to whatever UI is attached.
// Publish is fire-and-forget; implementations log their own failures.
type NotificationSink interface {
	Publish(ctx context.Context, runID string, event domain.Event)
}

// EventSubscriber streams published events (used by the SSE endpoint)
type EventSubscriber interface {
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}

// TaskQueue carries run ids that need an Advance
type TaskQueue interface {
	// Push a run id to the "To-Do" list
	Push(ctx context.Context, runID string) error

	// Wait (Block) until a run id is available, or return ErrQueueEmpty
	Pop(ctx context.Context) (string, error)

	// Len reports the current queue depth
	Len(ctx context.Context) (int64, error)
}

// StageExecutor is one unit of agent work in the wizard
type StageExecutor interface {
	Name() string
	Consumes() []domain.ArtifactKind
	Produces() domain.ArtifactKind
	Run(ctx context.Context, runID string, inputs map[domain.ArtifactKind][]byte) domain.Result
}

// --- Collaborators (agents) ---

type TextExtractor interface {
	Extract(ctx context.Context, content []byte, declaredType string) (string, error)
}

// Translator normalizes requirement text to English before analysis.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

type StoryGenerator interface {
	Generate(ctx context.Context, text string) ([]domain.Story, error)
}

type TicketCreator interface {
	Create(ctx context.Context, summary, description string) (string, error)
}

type CodeGenerator interface {
	Generate(ctx context.Context, stories []domain.Story) (source string, filename string, err error)
}
