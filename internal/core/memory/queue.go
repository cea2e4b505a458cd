package memory

import (
	"context"
	"time"

	"sdlc-wizard/internal/core/ports"
)

// Queue is a buffered-channel TaskQueue for single-process deployments.
type Queue struct {
	items       chan string
	pollTimeout time.Duration
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 128
	}
	return &Queue{
		items:       make(chan string, capacity),
		pollTimeout: time.Second,
	}
}

func (q *Queue) Push(ctx context.Context, runID string) error {
	select {
	case q.items <- runID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Pop(ctx context.Context) (string, error) {
	timer := time.NewTimer(q.pollTimeout)
	defer timer.Stop()
	select {
	case runID := <-q.items:
		return runID, nil
	case <-timer.C:
		return "", ports.ErrQueueEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return int64(len(q.items)), nil
}
