package executor

import (
	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/domain"
)

// Collaborators are the agents behind the executors.
type Collaborators struct {
	Extractor  ports.TextExtractor
	Translator ports.Translator
	Stories    ports.StoryGenerator
	Tickets    ports.TicketCreator
	Code       ports.CodeGenerator
}

// Set holds the wizard's executors.
type Set struct {
	Extract ports.StageExecutor
	Stories ports.StageExecutor
	Tickets ports.StageExecutor
	Code    ports.StageExecutor
}

// NewSet wires every collaborator into its executor with the same options.
func NewSet(c Collaborators, opts ...Option) Set {
	return Set{
		Extract: NewExtractRequirementText(c.Extractor, c.Translator, opts...),
		Stories: NewGenerateStories(c.Stories, opts...),
		Tickets: NewCreateJiraTicket(c.Tickets, opts...),
		Code:    NewGenerateCode(c.Code, opts...),
	}
}

// ForStage returns the executor that runs while a run is at stage. Gates,
// CODE_APPROVED and COMPLETED have none.
func (s Set) ForStage(stage domain.Stage) (ports.StageExecutor, bool) {
	var e ports.StageExecutor
	switch stage {
	case domain.StageUploaded:
		e = s.Stories
	case domain.StageStoriesApproved:
		e = s.Tickets
	case domain.StageJiraCreated:
		e = s.Code
	}
	return e, e != nil
}
