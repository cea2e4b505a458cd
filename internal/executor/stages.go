package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/domain"
)

const (
	NameExtractRequirementText = "ExtractRequirementText"
	NameGenerateStories        = "GenerateStories"
	NameCreateJiraTicket       = "CreateJiraTicket"
	NameGenerateCode           = "GenerateCode"
)

// NewExtractRequirementText turns the stored upload into plain text and, when
// translator is set, into English.
func NewExtractRequirementText(extractor ports.TextExtractor, translator ports.Translator, opts ...Option) *Executor {
	fn := func(ctx context.Context, runID string, inputs map[domain.ArtifactKind][]byte) ([]byte, error) {
		var upload domain.Upload
		if err := json.Unmarshal(inputs[domain.ArtifactUpload], &upload); err != nil {
			return nil, invalidInput("decode upload: %v", err)
		}
		declared := upload.DeclaredType
		if declared == "" {
			declared = domain.DeclaredTypeFromFilename(upload.Filename)
		}
		text, err := extractor.Extract(ctx, upload.Content, declared)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, invalidInput("no text found in %s", upload.Filename)
		}
		if translator != nil {
			if text, err = translator.Translate(ctx, text); err != nil {
				return nil, err
			}
		}
		return []byte(text), nil
	}
	return New(NameExtractRequirementText,
		[]domain.ArtifactKind{domain.ArtifactUpload},
		domain.ArtifactRequirementText, fn, opts...)
}

func NewGenerateStories(gen ports.StoryGenerator, opts ...Option) *Executor {
	fn := func(ctx context.Context, runID string, inputs map[domain.ArtifactKind][]byte) ([]byte, error) {
		stories, err := gen.Generate(ctx, string(inputs[domain.ArtifactRequirementText]))
		if err != nil {
			return nil, err
		}
		if len(stories) == 0 {
			return nil, invalidInput("no user stories could be generated from the requirement text")
		}
		return json.MarshalIndent(stories, "", "  ")
	}
	return New(NameGenerateStories,
		[]domain.ArtifactKind{domain.ArtifactRequirementText},
		domain.ArtifactStories, fn, opts...)
}

// NewCreateJiraTicket files one ticket per story. Stories without a summary
// or description are skipped.
func NewCreateJiraTicket(creator ports.TicketCreator, opts ...Option) *Executor {
	var e *Executor
	fn := func(ctx context.Context, runID string, inputs map[domain.ArtifactKind][]byte) ([]byte, error) {
		stories, err := decodeStories(inputs[domain.ArtifactStories])
		if err != nil {
			return nil, err
		}
		var ids []string
		for i, s := range stories {
			if s.Summary == "" || s.Description == "" {
				e.logger.Warn("skipping story with missing fields", "run_id", runID, "index", i)
				continue
			}
			id, err := creator.Create(ctx, s.Summary, s.Description)
			if err != nil {
				return nil, fmt.Errorf("create ticket for story %d: %w", i+1, err)
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil, invalidInput("no valid stories to file")
		}
		return json.Marshal(domain.TicketArtifact{TicketIDs: ids})
	}
	e = New(NameCreateJiraTicket,
		[]domain.ArtifactKind{domain.ArtifactStories},
		domain.ArtifactJiraTicket, fn, opts...)
	return e
}

func NewGenerateCode(gen ports.CodeGenerator, opts ...Option) *Executor {
	fn := func(ctx context.Context, runID string, inputs map[domain.ArtifactKind][]byte) ([]byte, error) {
		stories, err := decodeStories(inputs[domain.ArtifactStories])
		if err != nil {
			return nil, err
		}
		source, filename, err := gen.Generate(ctx, stories)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(source) == "" {
			return nil, fmt.Errorf("code generator returned no source")
		}
		return json.Marshal(domain.CodeArtifact{Filename: filename, Source: source})
	}
	return New(NameGenerateCode,
		[]domain.ArtifactKind{domain.ArtifactStories},
		domain.ArtifactCode, fn, opts...)
}

func decodeStories(raw []byte) ([]domain.Story, error) {
	var stories []domain.Story
	if err := json.Unmarshal(raw, &stories); err != nil {
		return nil, invalidInput("decode stories: %v", err)
	}
	if len(stories) == 0 {
		return nil, invalidInput("no stories found")
	}
	return stories, nil
}
