package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the state machine, stores and API layer.
var (
	// ErrInvalidState means the operation is not valid for the run's current
	// stage or status, including starting a run id that already exists.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotAwaitingApproval is returned by approve/reject when the run is not
	// parked at the requested gate.
	ErrNotAwaitingApproval = errors.New("run is not awaiting approval")

	// ErrNotFound covers unknown run ids and missing artifacts.
	ErrNotFound = errors.New("not found")

	// ErrTimeout is the cause recorded when an executor exceeds its deadline.
	ErrTimeout = errors.New("stage executor timed out")

	// ErrUnsupportedType is returned by text extraction for unknown formats.
	ErrUnsupportedType = errors.New("unsupported document type")
)

// ExecutorFailureKind classifies a normalized executor failure.
type ExecutorFailureKind string

const (
	FailureCollaborator    ExecutorFailureKind = "collaborator"
	FailureTimeout         ExecutorFailureKind = "timeout"
	FailureUnsupportedType ExecutorFailureKind = "unsupported_type"
	FailureInvalidInput    ExecutorFailureKind = "invalid_input"
	FailurePanic           ExecutorFailureKind = "panic"
	FailureStorage         ExecutorFailureKind = "storage"
)

// ExecutorError wraps any failure raised while running a stage executor.
// The state machine records Error() on the run and never returns it.
type ExecutorError struct {
	Executor string
	Kind     ExecutorFailureKind
	Message  string
	Err      error
}

func (e *ExecutorError) Error() string {
	if e.Executor == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Executor, e.Kind, e.Message)
}

func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// NewExecutorError classifies err into an ExecutorError.
func NewExecutorError(executor string, err error) *ExecutorError {
	var ee *ExecutorError
	if errors.As(err, &ee) {
		if ee.Executor == "" {
			ee.Executor = executor
		}
		return ee
	}
	kind := FailureCollaborator
	switch {
	case errors.Is(err, ErrTimeout):
		kind = FailureTimeout
	case errors.Is(err, ErrUnsupportedType):
		kind = FailureUnsupportedType
	}
	return &ExecutorError{Executor: executor, Kind: kind, Message: err.Error(), Err: err}
}
