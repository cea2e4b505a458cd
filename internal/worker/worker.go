package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/domain"
	"sdlc-wizard/internal/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 2

// Advancer is the part of the state machine the pool drives.
type Advancer interface {
	Advance(ctx context.Context, runID string) (*domain.WorkflowRun, error)
}

type Worker struct {
	workerID   string
	queue      ports.TaskQueue
	machine    Advancer
	logger     *slog.Logger
	metrics    *metrics.Metrics
	errorPause time.Duration
}

func NewWorker(q ports.TaskQueue, machine Advancer, logger *slog.Logger, m *metrics.Metrics) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Worker{
		workerID:   id,
		queue:      q,
		machine:    machine,
		logger:     logger.With("component", "worker", "worker_id", id),
		metrics:    m,
		errorPause: time.Second,
	}
}

// ProcessNextTask handles exactly ONE queued advance. It returns
// ports.ErrQueueEmpty when nothing arrived within the queue's poll timeout.
func (w *Worker) ProcessNextTask(ctx context.Context) error {
	// 1. POP: Wait until a run id is available
	runID, err := w.queue.Pop(ctx)
	if err != nil {
		return err
	}
	if n, err := w.queue.Len(ctx); err == nil {
		w.metrics.SetQueueDepth(n)
	}

	// 2. ADVANCE: stages are never cancelled halfway, so the run keeps going
	// through shutdown and its final state is persisted
	run, err := w.machine.Advance(context.WithoutCancel(ctx), runID)
	if err != nil {
		w.logger.Error("advance failed", "run_id", runID, "error", err)
		return nil
	}
	w.logger.Info("advanced run", "run_id", runID, "stage", run.Stage, "status", run.Status)
	return nil
}

// StartPool runs concurrency worker loops until ctx is cancelled.
func (w *Worker) StartPool(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	w.logger.Info("starting worker pool", "concurrency", concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		threadID := i
		g.Go(func() error {
			w.loop(ctx, threadID)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, threadID int) {
	w.logger.Debug("worker thread started", "thread", threadID)
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("worker thread shutting down", "thread", threadID)
			return
		default:
		}

		err := w.ProcessNextTask(ctx)
		if err == nil || errors.Is(err, ports.ErrQueueEmpty) || ctx.Err() != nil {
			continue
		}
		w.logger.Warn("queue pop failed", "thread", threadID, "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(w.errorPause):
		}
	}
}
