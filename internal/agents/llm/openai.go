// Package llm backs the story and code agents with an OpenAI-compatible
// chat completion endpoint (OpenAI, OpenRouter, Ollama, vLLM).
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sdlc-wizard/internal/agents/analyst"
	"sdlc-wizard/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

var ErrEmptyCompletion = errors.New("llm: empty completion")

type Config struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
}

type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		api:         openai.NewClientWithConfig(oc),
		model:       model,
		temperature: cfg.Temperature,
	}
}

// completeJSON sends one system+user exchange and decodes the JSON reply.
func (c *Client) completeJSON(ctx context.Context, system, user string, out any) error {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ErrEmptyCompletion
	}
	content := stripFences(resp.Choices[0].Message.Content)
	if content == "" {
		return ErrEmptyCompletion
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("llm: decode reply: %w", err)
	}
	return nil
}

// stripFences removes a ```json ... ``` wrapper some models add anyway.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

const translatePrompt = `You are a translator. Translate the requirements into English,
keeping one requirement per line. Text already in English is returned unchanged.
Reply with a JSON object {"text": "<english requirements>"}.`

// Translator asks the model for an English rendition of the requirements.
type Translator struct {
	client *Client
}

func NewTranslator(c *Client) *Translator {
	return &Translator{client: c}
}

func (tr *Translator) Translate(ctx context.Context, text string) (string, error) {
	var reply struct {
		Text string `json:"text"`
	}
	if err := tr.client.completeJSON(ctx, translatePrompt, text, &reply); err != nil {
		return "", err
	}
	if strings.TrimSpace(reply.Text) == "" {
		return "", ErrEmptyCompletion
	}
	return reply.Text, nil
}

const storiesPrompt = `You are a business analyst. Convert the requirements into user stories.
Reply with a JSON object {"stories": [...]} where every story has the fields
summary ("As a user, I want to ..."), description, priority, story_points and type.`

// StoryGenerator asks the model for user stories.
type StoryGenerator struct {
	client *Client
}

func NewStoryGenerator(c *Client) *StoryGenerator {
	return &StoryGenerator{client: c}
}

func (g *StoryGenerator) Generate(ctx context.Context, text string) ([]domain.Story, error) {
	var reply struct {
		Stories []domain.Story `json:"stories"`
	}
	if err := g.client.completeJSON(ctx, storiesPrompt, text, &reply); err != nil {
		return nil, err
	}
	stories := reply.Stories[:0]
	for _, s := range reply.Stories {
		if strings.TrimSpace(s.Summary) == "" {
			continue
		}
		if s.Description == "" {
			s.Description = s.Summary
		}
		if s.Priority == "" {
			s.Priority = analyst.DefaultPriority
		}
		if s.StoryPoints <= 0 {
			s.StoryPoints = analyst.DefaultStoryPoints
		}
		if s.Type == "" {
			s.Type = analyst.StoryType
		}
		stories = append(stories, s)
	}
	return stories, nil
}

const codePrompt = `You are a senior Python developer. Implement the user stories below.
Reply with a JSON object {"filename": "<name>.py", "source": "<complete file>"}.`

// CodeGenerator asks the model for a single source file.
type CodeGenerator struct {
	client *Client
}

func NewCodeGenerator(c *Client) *CodeGenerator {
	return &CodeGenerator{client: c}
}

func (g *CodeGenerator) Generate(ctx context.Context, stories []domain.Story) (string, string, error) {
	if len(stories) == 0 {
		return "", "", errors.New("llm: no stories to implement")
	}
	payload, err := json.Marshal(stories)
	if err != nil {
		return "", "", err
	}
	var reply domain.CodeArtifact
	if err := g.client.completeJSON(ctx, codePrompt, string(payload), &reply); err != nil {
		return "", "", err
	}
	if reply.Source == "" {
		return "", "", ErrEmptyCompletion
	}
	if reply.Filename == "" {
		reply.Filename = "main.py"
	}
	return reply.Source, reply.Filename, nil
}
