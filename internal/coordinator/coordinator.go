// Package coordinator drives a WorkflowRun through the wizard stages. It is
// the only writer of runs: every mutation of one run happens under that
// run's lock, and executors run on their own goroutines.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/domain"
	"sdlc-wizard/internal/executor"
	"sdlc-wizard/internal/metrics"

	"github.com/google/uuid"
)

// gateArtifacts is what a reviewer looks at before approving each gate.
var gateArtifacts = map[domain.Stage]domain.ArtifactKind{
	domain.StageStoriesApproved: domain.ArtifactStories,
	domain.StageCodeApproved:    domain.ArtifactCode,
}

type StateMachine struct {
	runs      ports.RunRepository
	artifacts ports.ArtifactStore
	sink      ports.NotificationSink
	executors executor.Set
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	locks [lockStripes]sync.Mutex
}

// lockStripes bounds the lock table. Runs hashing to the same stripe
// serialize with each other, which is harmless.
const lockStripes = 256

type Option func(*StateMachine)

func WithLogger(l *slog.Logger) Option {
	return func(m *StateMachine) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *StateMachine) { m.metrics = mt }
}

// WithClock overrides time.Now for event and rejection timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *StateMachine) { m.now = now }
}

func New(runs ports.RunRepository, artifacts ports.ArtifactStore, sink ports.NotificationSink, executors executor.Set, opts ...Option) *StateMachine {
	m := &StateMachine{
		runs:      runs,
		artifacts: artifacts,
		sink:      sink,
		executors: executors,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "coordinator")
	return m
}

func (m *StateMachine) runLock(runID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(runID))
	return &m.locks[h.Sum32()%lockStripes]
}

// Start stores the upload, creates the run at UPLOADED and extracts the
// requirement text. An empty runID gets a generated UUID. Extraction
// failures are recorded on the run, not returned.
func (m *StateMachine) Start(ctx context.Context, runID string, upload domain.Upload) (*domain.WorkflowRun, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	if err := domain.ValidateRunID(runID); err != nil {
		return nil, err
	}
	if upload.DeclaredType == "" {
		upload.DeclaredType = domain.DeclaredTypeFromFilename(upload.Filename)
	}

	lock := m.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.runs.Get(ctx, runID); err == nil {
		return nil, fmt.Errorf("%w: run %s already exists", domain.ErrInvalidState, runID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	payload, err := json.Marshal(upload)
	if err != nil {
		return nil, err
	}
	ref, err := m.artifacts.Put(ctx, runID, domain.ArtifactUpload, payload)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	run := domain.NewWorkflowRun(runID)
	run.CreatedAt = m.now()
	run.UpdatedAt = run.CreatedAt
	run.Artifacts[domain.ArtifactUpload] = ref
	if err := m.runs.Create(ctx, run); err != nil {
		return nil, err
	}
	m.logger.Info("run started", "run_id", runID, "filename", upload.Filename, "type", upload.DeclaredType)

	if _, err := m.extract(ctx, run); err != nil {
		return nil, err
	}
	return m.saveSnapshot(ctx, run)
}

// StartText starts a run from plain requirement text.
func (m *StateMachine) StartText(ctx context.Context, runID, text string) (*domain.WorkflowRun, error) {
	return m.Start(ctx, runID, domain.TextUpload(text))
}

// Advance runs executors from the current stage until the run reaches a gate
// that has not been approved, fails, or completes. It is a no-op while the
// run awaits approval or is completed.
func (m *StateMachine) Advance(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	lock := m.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := m.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return m.advance(ctx, run)
}

func (m *StateMachine) advance(ctx context.Context, run *domain.WorkflowRun) (*domain.WorkflowRun, error) {
	switch run.Status {
	case domain.StatusAwaitingApproval, domain.StatusCompleted:
		return run.Clone(), nil
	}
	if run.Rejection != nil {
		return m.redo(ctx, run)
	}

	if run.Status != domain.StatusRunning {
		run.Status = domain.StatusRunning
		if err := m.runs.Save(ctx, run); err != nil {
			return nil, err
		}
	}

	for {
		if run.Stage == domain.StageUploaded && !run.HasArtifact(domain.ArtifactRequirementText) {
			ok, err := m.extract(ctx, run)
			if err != nil {
				return nil, err
			}
			if !ok {
				return m.saveSnapshot(ctx, run)
			}
		}

		next, ok := run.Stage.Next()
		if !ok {
			run.Status = domain.StatusCompleted
			return m.saveSnapshot(ctx, run)
		}
		if next.IsGate() && !run.Approvals[next] {
			m.park(ctx, run, next)
			return m.saveSnapshot(ctx, run)
		}

		if exec, has := m.executors.ForStage(run.Stage); has {
			ok, err := m.runStage(ctx, run, exec)
			if err != nil {
				return nil, err
			}
			if !ok {
				return m.saveSnapshot(ctx, run)
			}
		}

		m.enter(run, next)
		if next.IsTerminal() {
			run.Status = domain.StatusCompleted
			m.publish(ctx, run, domain.EventRunCompleted, "", "run completed")
			m.logger.Info("run completed", "run_id", run.RunID)
			return m.saveSnapshot(ctx, run)
		}
		if err := m.runs.Save(ctx, run); err != nil {
			return nil, err
		}
	}
}

// redo re-runs the producer of a rejected gate and parks the run in front of
// the same gate again with the new artifact.
func (m *StateMachine) redo(ctx context.Context, run *domain.WorkflowRun) (*domain.WorkflowRun, error) {
	gate := run.Rejection.Stage
	producerStage, _ := run.Stage.Prev()
	exec, has := m.executors.ForStage(producerStage)
	if !has {
		return nil, fmt.Errorf("%w: no executor produces the artifact for %s", domain.ErrInvalidState, gate)
	}

	run.Status = domain.StatusRunning
	if err := m.runs.Save(ctx, run); err != nil {
		return nil, err
	}

	if gate == domain.StageStoriesApproved && !run.HasArtifact(domain.ArtifactRequirementText) {
		ok, err := m.extract(ctx, run)
		if err != nil {
			return nil, err
		}
		if !ok {
			return m.saveSnapshot(ctx, run)
		}
	}

	ok, err := m.runStage(ctx, run, exec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return m.saveSnapshot(ctx, run)
	}

	m.logger.Info("rejected stage redone", "run_id", run.RunID, "gate", gate, "executor", exec.Name())
	run.Rejection = nil
	run.Error = ""
	m.park(ctx, run, gate)
	return m.saveSnapshot(ctx, run)
}

// Approve lets the run through gate and keeps advancing.
func (m *StateMachine) Approve(ctx context.Context, runID string, gate domain.Stage) (*domain.WorkflowRun, error) {
	lock := m.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := m.approve(ctx, runID, gate)
	if err != nil {
		return nil, err
	}
	return m.advance(ctx, run)
}

// RecordApproval is Approve without the follow-up advance; callers that run
// stages on a worker pool enqueue the run afterwards.
func (m *StateMachine) RecordApproval(ctx context.Context, runID string, gate domain.Stage) (*domain.WorkflowRun, error) {
	lock := m.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := m.approve(ctx, runID, gate)
	if err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

func (m *StateMachine) approve(ctx context.Context, runID string, gate domain.Stage) (*domain.WorkflowRun, error) {
	run, err := m.awaitingGate(ctx, runID, gate)
	if err != nil {
		return nil, err
	}
	run.Approvals[gate] = true
	run.Status = domain.StatusRunning
	m.enter(run, gate)
	m.metrics.Decision(gate, true)
	m.publish(ctx, run, domain.EventStageCompleted, "", fmt.Sprintf("%s approved", gate))
	m.logger.Info("gate approved", "run_id", runID, "gate", gate)
	if err := m.runs.Save(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Reject records a reviewer rejection. The stage never moves backwards; the
// next Advance regenerates the rejected artifact.
func (m *StateMachine) Reject(ctx context.Context, runID string, gate domain.Stage, reason string) (*domain.WorkflowRun, error) {
	lock := m.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := m.awaitingGate(ctx, runID, gate)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "no reason given"
	}
	run.Approvals[gate] = false
	run.Rejection = &domain.Rejection{Stage: gate, Reason: reason, At: m.now()}
	run.Status = domain.StatusFailed
	run.Error = fmt.Sprintf("rejected at %s: %s", gate, reason)
	m.metrics.Decision(gate, false)
	m.publish(ctx, run, domain.EventStageRejected, "", run.Error)
	m.logger.Info("gate rejected", "run_id", runID, "gate", gate, "reason", reason)
	return m.saveSnapshot(ctx, run)
}

func (m *StateMachine) awaitingGate(ctx context.Context, runID string, gate domain.Stage) (*domain.WorkflowRun, error) {
	if !gate.IsGate() {
		return nil, fmt.Errorf("%w: %s is not an approval gate", domain.ErrInvalidState, gate)
	}
	run, err := m.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	pending, ok := run.PendingGate()
	if !ok || pending != gate {
		return nil, fmt.Errorf("%w: run %s is %s at %s", domain.ErrNotAwaitingApproval, runID, run.Status, run.Stage)
	}
	if !run.HasArtifact(gateArtifacts[gate]) {
		return nil, fmt.Errorf("%w: %s artifact missing for run %s", domain.ErrNotAwaitingApproval, gateArtifacts[gate], runID)
	}
	return run, nil
}

// Resubmit replaces the upstream document. Only valid before stories exist
// or while a stories rejection is pending.
func (m *StateMachine) Resubmit(ctx context.Context, runID string, upload domain.Upload) (*domain.WorkflowRun, error) {
	lock := m.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := m.runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	storiesRejected := run.Rejection != nil && run.Rejection.Stage == domain.StageStoriesApproved
	if run.Stage != domain.StageUploaded && !storiesRejected {
		return nil, fmt.Errorf("%w: run %s is past %s", domain.ErrInvalidState, runID, domain.StageUploaded)
	}
	if upload.DeclaredType == "" {
		upload.DeclaredType = domain.DeclaredTypeFromFilename(upload.Filename)
	}

	payload, err := json.Marshal(upload)
	if err != nil {
		return nil, err
	}
	ref, err := m.artifacts.Put(ctx, runID, domain.ArtifactUpload, payload)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	run.Artifacts[domain.ArtifactUpload] = ref
	// the old text stays in the store but must not feed the next stage
	delete(run.Artifacts, domain.ArtifactRequirementText)

	ok, err := m.extract(ctx, run)
	if err != nil {
		return nil, err
	}
	if ok && run.Rejection == nil {
		run.Status = domain.StatusRunning
	}
	m.logger.Info("upload resubmitted", "run_id", runID, "filename", upload.Filename)
	return m.saveSnapshot(ctx, run)
}

// GetStatus returns a snapshot; mutating it has no effect on the run.
func (m *StateMachine) GetStatus(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	return m.runs.Get(ctx, runID)
}

func (m *StateMachine) List(ctx context.Context) ([]*domain.WorkflowRun, error) {
	return m.runs.List(ctx)
}

// extract runs ExtractRequirementText without moving the stage.
func (m *StateMachine) extract(ctx context.Context, run *domain.WorkflowRun) (bool, error) {
	ok, err := m.runStage(ctx, run, m.executors.Extract)
	if ok && run.Rejection == nil {
		run.Error = ""
	}
	return ok, err
}

// runStage executes exec against the run's current artifacts and records
// the output. A false result means the failure is already on the run.
// Only repository-level errors are returned.
func (m *StateMachine) runStage(ctx context.Context, run *domain.WorkflowRun, exec ports.StageExecutor) (bool, error) {
	inputs, ee := m.loadInputs(ctx, run, exec.Consumes())
	if ee != nil {
		ee.Executor = exec.Name()
		m.fail(ctx, run, ee)
		return false, nil
	}

	m.publish(ctx, run, domain.EventStageStarted, exec.Name(), fmt.Sprintf("running %s", exec.Name()))
	started := time.Now()
	res := exec.Run(ctx, run.RunID, inputs)
	m.metrics.ObserveStage(exec.Name(), res.IsOk(), time.Since(started))
	if !res.IsOk() {
		m.fail(ctx, run, res.Err)
		return false, nil
	}

	ref, err := m.artifacts.Put(ctx, run.RunID, exec.Produces(), res.Output)
	if err != nil {
		m.fail(ctx, run, &domain.ExecutorError{
			Executor: exec.Name(),
			Kind:     domain.FailureStorage,
			Message:  err.Error(),
			Err:      err,
		})
		return false, nil
	}
	run.Artifacts[exec.Produces()] = ref
	m.publish(ctx, run, domain.EventStageCompleted, exec.Name(), summarize(exec.Produces(), res.Output))
	return true, nil
}

func (m *StateMachine) loadInputs(ctx context.Context, run *domain.WorkflowRun, kinds []domain.ArtifactKind) (map[domain.ArtifactKind][]byte, *domain.ExecutorError) {
	inputs := make(map[domain.ArtifactKind][]byte, len(kinds))
	for _, kind := range kinds {
		ref, ok := run.Artifacts[kind]
		if !ok {
			return nil, &domain.ExecutorError{Kind: domain.FailureInvalidInput, Message: fmt.Sprintf("missing input artifact %s", kind)}
		}
		content, err := m.artifacts.GetRef(ctx, ref)
		if err != nil {
			return nil, &domain.ExecutorError{Kind: domain.FailureStorage, Message: err.Error(), Err: err}
		}
		inputs[kind] = content
	}
	return inputs, nil
}

func (m *StateMachine) fail(ctx context.Context, run *domain.WorkflowRun, ee *domain.ExecutorError) {
	run.Status = domain.StatusFailed
	run.Error = ee.Error()
	m.publish(ctx, run, domain.EventStageFailed, ee.Executor, run.Error)
	m.logger.Warn("stage failed", "run_id", run.RunID, "stage", run.Stage, "executor", ee.Executor, "kind", ee.Kind, "error", ee.Message)
}

func (m *StateMachine) enter(run *domain.WorkflowRun, stage domain.Stage) {
	run.Stage = stage
	run.Error = ""
	m.metrics.Transition(stage)
	m.logger.Debug("stage entered", "run_id", run.RunID, "stage", stage)
}

func (m *StateMachine) park(ctx context.Context, run *domain.WorkflowRun, gate domain.Stage) {
	run.Status = domain.StatusAwaitingApproval
	m.publish(ctx, run, domain.EventAwaitingApproval, "", fmt.Sprintf("waiting for approval at %s", gate))
}

func (m *StateMachine) saveSnapshot(ctx context.Context, run *domain.WorkflowRun) (*domain.WorkflowRun, error) {
	if err := m.runs.Save(ctx, run); err != nil {
		return nil, err
	}
	return run.Clone(), nil
}

func (m *StateMachine) publish(ctx context.Context, run *domain.WorkflowRun, kind domain.EventKind, agent, message string) {
	if m.sink == nil {
		return
	}
	m.sink.Publish(ctx, run.RunID, domain.Event{
		RunID:   run.RunID,
		Kind:    kind,
		Stage:   run.Stage,
		Agent:   agent,
		Message: message,
		At:      m.now(),
	})
}

// summarize builds the one-line event message for a stored artifact.
func summarize(kind domain.ArtifactKind, output []byte) string {
	switch kind {
	case domain.ArtifactRequirementText:
		return fmt.Sprintf("extracted %d characters of requirement text", len(output))
	case domain.ArtifactStories:
		var stories []domain.Story
		if json.Unmarshal(output, &stories) == nil {
			return fmt.Sprintf("generated %d user stories", len(stories))
		}
	case domain.ArtifactJiraTicket:
		var t domain.TicketArtifact
		if json.Unmarshal(output, &t) == nil {
			return fmt.Sprintf("created %d tickets %v", len(t.TicketIDs), t.TicketIDs)
		}
	case domain.ArtifactCode:
		var c domain.CodeArtifact
		if json.Unmarshal(output, &c) == nil {
			return fmt.Sprintf("generated %s", c.Filename)
		}
	}
	return fmt.Sprintf("stored %s", kind)
}
