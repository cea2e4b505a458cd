package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"sdlc-wizard/internal/domain"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	currentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderProgress draws the stage pipeline with the run's position marked.
func renderProgress(run *domain.WorkflowRun) string {
	stages := domain.Stages()
	parts := make([]string, 0, len(stages))
	for _, st := range stages {
		label := string(st)
		switch {
		case st == run.Stage && run.Status == domain.StatusCompleted:
			parts = append(parts, doneStyle.Render("✓ "+label))
		case st == run.Stage:
			parts = append(parts, currentStyle.Render("● "+label))
		case st.Before(run.Stage):
			parts = append(parts, doneStyle.Render("✓ "+label))
		default:
			parts = append(parts, pendingStyle.Render("○ "+label))
		}
	}
	return strings.Join(parts, pendingStyle.Render(" → "))
}

func renderStatus(run *domain.WorkflowRun) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Run %s  [%s]", run.RunID, run.Status)))
	b.WriteString("\n")
	b.WriteString(renderProgress(run))
	if run.Error != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(run.Error))
	}
	return b.String()
}

// renderArtifact formats a gate's artifact for review.
func renderArtifact(kind domain.ArtifactKind, content []byte) string {
	switch kind {
	case domain.ArtifactStories:
		var stories []domain.Story
		if err := json.Unmarshal(content, &stories); err != nil {
			return string(content)
		}
		lines := make([]string, 0, len(stories))
		for i, s := range stories {
			lines = append(lines, fmt.Sprintf("%d. %s (%s, %d pts)", i+1, s.Summary, s.Priority, s.StoryPoints))
		}
		return boxStyle.Render(titleStyle.Render("User stories") + "\n" + strings.Join(lines, "\n"))
	case domain.ArtifactCode:
		var code domain.CodeArtifact
		if err := json.Unmarshal(content, &code); err != nil {
			return string(content)
		}
		return boxStyle.Render(titleStyle.Render(code.Filename) + "\n" + strings.TrimRight(code.Source, "\n"))
	default:
		return boxStyle.Render(string(content))
	}
}
