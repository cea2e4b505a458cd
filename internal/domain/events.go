package domain

import (
	"time"
)

type EventKind string

const (
	EventStageStarted     EventKind = "StageStarted"
	EventStageCompleted   EventKind = "StageCompleted"
	EventAwaitingApproval EventKind = "AwaitingApproval"
	EventStageFailed      EventKind = "StageFailed"
	EventStageRejected    EventKind = "StageRejected"
	EventRunCompleted     EventKind = "RunCompleted"
)

// Event is published to the NotificationSink on every transition.
type Event struct {
	RunID   string    `json:"run_id"`
	Kind    EventKind `json:"kind"`
	Stage   Stage     `json:"stage"`
	Agent   string    `json:"agent,omitempty"` // e.g. "GenerateStories"
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Result is the normalized outcome of one StageExecutor invocation: either
// Output is set (Ok) or Err is (Err). Executors never panic or return raw
// collaborator errors past this boundary.
type Result struct {
	Output []byte
	Err    *ExecutorError
}

func Ok(output []byte) Result {
	return Result{Output: output}
}

func Failed(err *ExecutorError) Result {
	return Result{Err: err}
}

func (r Result) IsOk() bool {
	return r.Err == nil
}
