package domain

import (
	"time"
)

type RunStatus string

const (
	StatusRunning          RunStatus = "RUNNING"
	StatusAwaitingApproval RunStatus = "AWAITING_APPROVAL"
	StatusFailed           RunStatus = "FAILED"
	StatusCompleted        RunStatus = "COMPLETED"
)

// Rejection is a pending reviewer rejection of a gate.
type Rejection struct {
	Stage  Stage     `json:"stage"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// WorkflowRun is one wizard execution.
type WorkflowRun struct {
	RunID  string    `gorm:"type:varchar(100);primary_key;" json:"run_id"`
	Stage  Stage     `gorm:"type:varchar(32);not null" json:"stage"`
	Status RunStatus `gorm:"type:varchar(20);index;default:'RUNNING'" json:"status"`

	Artifacts map[ArtifactKind]ArtifactRef `gorm:"type:jsonb;serializer:json" json:"artifacts"`
	Approvals map[Stage]bool               `gorm:"type:jsonb;serializer:json" json:"approvals"`
	Rejection *Rejection                   `gorm:"type:jsonb;serializer:json" json:"rejection,omitempty"`
	Error     string                       `gorm:"type:text" json:"error,omitempty"`

	// Version is bumped on every persisted mutation (optimistic locking)
	Version int `gorm:"default:1" json:"version"`

	// Audit
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WorkflowRun) TableName() string {
	return "workflow_runs"
}

// --- FACTORY ---
func NewWorkflowRun(runID string) *WorkflowRun {
	now := time.Now()
	return &WorkflowRun{
		RunID:     runID,
		Stage:     StageUploaded,
		Status:    StatusRunning,
		Artifacts: make(map[ArtifactKind]ArtifactRef),
		Approvals: make(map[Stage]bool),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- METHODS ---
func (r *WorkflowRun) IsFinished() bool {
	return r.Status == StatusCompleted
}

func (r *WorkflowRun) HasArtifact(kind ArtifactKind) bool {
	_, ok := r.Artifacts[kind]
	return ok
}

// PendingGate is the gate the run is parked in front of, if any.
func (r *WorkflowRun) PendingGate() (Stage, bool) {
	if r.Status != StatusAwaitingApproval {
		return "", false
	}
	next, ok := r.Stage.Next()
	if !ok || !next.IsGate() {
		return "", false
	}
	return next, true
}

// Clone returns a deep copy safe to hand to readers.
func (r *WorkflowRun) Clone() *WorkflowRun {
	if r == nil {
		return nil
	}
	out := *r
	out.Artifacts = make(map[ArtifactKind]ArtifactRef, len(r.Artifacts))
	for k, v := range r.Artifacts {
		out.Artifacts[k] = v
	}
	out.Approvals = make(map[Stage]bool, len(r.Approvals))
	for k, v := range r.Approvals {
		out.Approvals[k] = v
	}
	if r.Rejection != nil {
		rej := *r.Rejection
		out.Rejection = &rej
	}
	return &out
}
