package dto

import (
	"time"

	"sdlc-wizard/internal/domain"
)

// StartRunRequest is the JSON form of POST /runs. Multipart uploads carry
// run_id as a form field and the document as "file". An empty run_id gets a
// generated UUID.
type StartRunRequest struct {
	RunID string `json:"run_id" form:"run_id"`
	Text  string `json:"text" form:"text"`
}

// ResubmitRequest is the JSON form of POST /runs/:id/resubmit.
type ResubmitRequest struct {
	Text string `json:"text" form:"text"`
}

type RejectRequest struct {
	Stage  string `json:"stage" form:"stage" binding:"required"`
	Reason string `json:"reason" form:"reason"`
}

type RunResponse struct {
	RunID       string                `json:"run_id"`
	Stage       domain.Stage          `json:"stage"`
	Status      domain.RunStatus      `json:"status"`
	PendingGate domain.Stage          `json:"pending_gate,omitempty"`
	Artifacts   map[string]string     `json:"artifacts"`
	Approvals   map[domain.Stage]bool `json:"approvals"`
	Rejection   *domain.Rejection     `json:"rejection,omitempty"`
	Error       string                `json:"error,omitempty"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

func NewRunResponse(run *domain.WorkflowRun) RunResponse {
	resp := RunResponse{
		RunID:     run.RunID,
		Stage:     run.Stage,
		Status:    run.Status,
		Artifacts: make(map[string]string, len(run.Artifacts)),
		Approvals: run.Approvals,
		Rejection: run.Rejection,
		Error:     run.Error,
		UpdatedAt: run.UpdatedAt,
	}
	if gate, ok := run.PendingGate(); ok {
		resp.PendingGate = gate
	}
	for kind, ref := range run.Artifacts {
		resp.Artifacts[string(kind)] = string(ref)
	}
	return resp
}

type ListRunsResponse struct {
	Runs  []RunResponse `json:"runs"`
	Count int           `json:"count"`
}

type EventsResponse struct {
	RunID  string         `json:"run_id"`
	Events []domain.Event `json:"events"`
	Lines  []string       `json:"lines"`
}
