// Package analyst is the offline business-analyst agent: it turns each
// requirement line into a user story.
package analyst

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"sdlc-wizard/internal/domain"
)

const (
	DefaultPriority    = "Medium"
	DefaultStoryPoints = 3
	StoryType          = "User Story"
)

// listMarker matches "-", "*", "•", "1." and "1)" prefixes.
var listMarker = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)

const descriptionTemplate = `User Story:
As a user,
I want to %s
So that I can achieve my goal efficiently

Acceptance Criteria:
1. The system should implement %s
2. The feature should be user-friendly
3. The implementation should follow best practices

Technical Notes:
- Priority: %s
- Story Points: %d
- Dependencies: None`

type LineStoryGenerator struct{}

func NewLineStoryGenerator() *LineStoryGenerator {
	return &LineStoryGenerator{}
}

// Generate emits one story per non-empty line, in order.
func (g *LineStoryGenerator) Generate(ctx context.Context, text string) ([]domain.Story, error) {
	var stories []domain.Story
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}
		want := strings.ToLower(line)
		stories = append(stories, domain.Story{
			Summary:     "As a user, I want to " + want,
			Description: fmt.Sprintf(descriptionTemplate, want, line, DefaultPriority, DefaultStoryPoints),
			Priority:    DefaultPriority,
			StoryPoints: DefaultStoryPoints,
			Type:        StoryType,
		})
	}
	return stories, nil
}
