// Package executor wraps agent collaborators into StageExecutors. Every
// executor runs its work on its own goroutine under a deadline and turns
// errors and panics into a domain.Result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sdlc-wizard/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

const DefaultTimeout = 2 * time.Minute

// Func does the actual work of a stage. inputs holds the latest content of
// every kind listed in Consumes.
type Func func(ctx context.Context, runID string, inputs map[domain.ArtifactKind][]byte) ([]byte, error)

type Executor struct {
	name       string
	consumes   []domain.ArtifactKind
	produces   domain.ArtifactKind
	fn         Func
	timeout    time.Duration
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

type Option func(*Executor)

// WithTimeout bounds a single attempt. Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithRetries sets how many extra attempts a failing collaborator gets.
func WithRetries(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithBackOff replaces the exponential policy used between retries.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(e *Executor) { e.newBackOff = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(name string, consumes []domain.ArtifactKind, produces domain.ArtifactKind, fn Func, opts ...Option) *Executor {
	e := &Executor{
		name:     name,
		consumes: consumes,
		produces: produces,
		fn:       fn,
		timeout:  DefaultTimeout,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "executor", "executor", name)
	return e
}

func (e *Executor) Name() string { return e.name }

func (e *Executor) Consumes() []domain.ArtifactKind {
	out := make([]domain.ArtifactKind, len(e.consumes))
	copy(out, e.consumes)
	return out
}

func (e *Executor) Produces() domain.ArtifactKind { return e.produces }

// Run never panics and never returns a raw collaborator error.
func (e *Executor) Run(ctx context.Context, runID string, inputs map[domain.ArtifactKind][]byte) domain.Result {
	for _, kind := range e.consumes {
		if _, ok := inputs[kind]; !ok {
			return domain.Failed(&domain.ExecutorError{
				Executor: e.name,
				Kind:     domain.FailureInvalidInput,
				Message:  fmt.Sprintf("missing input artifact %s", kind),
			})
		}
	}

	var output []byte
	attempt := 0
	op := func() error {
		attempt++
		out, err := e.attempt(ctx, runID, inputs)
		if err == nil {
			output = out
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		if attempt <= e.maxRetries {
			e.logger.Warn("attempt failed, retrying", "run_id", runID, "attempt", attempt, "error", err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.maxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		ee := domain.NewExecutorError(e.name, err)
		e.logger.Error("stage failed", "run_id", runID, "attempts", attempt, "kind", ee.Kind, "error", ee.Message)
		return domain.Failed(ee)
	}
	return domain.Ok(output)
}

// attempt runs fn once on its own goroutine. A collaborator that ignores ctx
// is abandoned at the deadline; the buffered channel lets it exit later.
func (e *Executor) attempt(ctx context.Context, runID string, inputs map[domain.ArtifactKind][]byte) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type outcome struct {
		out []byte
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &domain.ExecutorError{
					Executor: e.name,
					Kind:     domain.FailurePanic,
					Message:  fmt.Sprintf("panic: %v", r),
				}}
			}
		}()
		out, err := e.fn(ctx, runID, inputs)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", domain.ErrTimeout, e.timeout)
		}
		return nil, ctx.Err()
	}
}

func retryable(err error) bool {
	if errors.Is(err, domain.ErrUnsupportedType) || errors.Is(err, context.Canceled) {
		return false
	}
	var ee *domain.ExecutorError
	if errors.As(err, &ee) {
		return ee.Kind != domain.FailurePanic && ee.Kind != domain.FailureInvalidInput
	}
	return true
}

func invalidInput(format string, args ...any) *domain.ExecutorError {
	return &domain.ExecutorError{Kind: domain.FailureInvalidInput, Message: fmt.Sprintf(format, args...)}
}
