package domain

import (
	"fmt"
	"strings"
)

// Stage is one ordered step of the wizard.
type Stage string

const (
	StageUploaded         Stage = "UPLOADED"
	StageStoriesGenerated Stage = "STORIES_GENERATED"
	StageStoriesApproved  Stage = "STORIES_APPROVED"
	StageJiraCreated      Stage = "JIRA_CREATED"
	StageCodeGenerated    Stage = "CODE_GENERATED"
	StageCodeApproved     Stage = "CODE_APPROVED"
	StageCompleted        Stage = "COMPLETED"
)

// stageOrder is the only legal progression. Index in this slice is the
// position used for monotonicity checks.
var stageOrder = []Stage{
	StageUploaded,
	StageStoriesGenerated,
	StageStoriesApproved,
	StageJiraCreated,
	StageCodeGenerated,
	StageCodeApproved,
	StageCompleted,
}

// Stages returns the wizard stages in order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseStage accepts the canonical names case-insensitively.
func ParseStage(v string) (Stage, error) {
	s := Stage(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidState, v)
	}
	return s, nil
}

// Index returns the position of s in the wizard, or -1.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// Next returns the stage that follows s.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[i+1], true
}

// Prev returns the stage that precedes s.
func (s Stage) Prev() (Stage, bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return stageOrder[i-1], true
}

// IsGate reports whether entering s needs an explicit human approval.
func (s Stage) IsGate() bool {
	return s == StageStoriesApproved || s == StageCodeApproved
}

func (s Stage) IsTerminal() bool {
	return s == StageCompleted
}

// Before reports whether s comes strictly earlier than other.
func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}
