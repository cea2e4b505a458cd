package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sdlc-wizard/internal/core/ports"
	"sdlc-wizard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ports.Translator     = (*Translator)(nil)
	_ ports.StoryGenerator = (*StoryGenerator)(nil)
	_ ports.CodeGenerator  = (*CodeGenerator)(nil)
)

// fakeChat serves a fixed assistant message on /v1/chat/completions.
func fakeChat(t *testing.T, content string) (*Client, *map[string]any) {
	t.Helper()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		resp := map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	return NewClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "test-key", Model: "test-model"}), &captured
}

func TestStoryGenerator(t *testing.T) {
	client, captured := fakeChat(t, `{"stories":[
		{"summary":"As a user, I want to buy milk","description":"d","priority":"High","story_points":5,"type":"User Story"},
		{"summary":"As a user, I want to do laundry"},
		{"summary":"  "}
	]}`)

	stories, err := NewStoryGenerator(client).Generate(context.Background(), "buy milk\ndo laundry")
	require.NoError(t, err)
	require.Len(t, stories, 2)
	assert.Equal(t, "High", stories[0].Priority)
	assert.Equal(t, domain.Story{
		Summary:     "As a user, I want to do laundry",
		Description: "As a user, I want to do laundry",
		Priority:    "Medium",
		StoryPoints: 3,
		Type:        "User Story",
	}, stories[1])

	assert.Equal(t, "test-model", (*captured)["model"])
	msgs := (*captured)["messages"].([]any)
	assert.Equal(t, "buy milk\ndo laundry", msgs[1].(map[string]any)["content"])
}

func TestCodeGenerator_StripsFences(t *testing.T) {
	client, _ := fakeChat(t, "```json\n{\"filename\":\"milk.py\",\"source\":\"print('milk')\"}\n```")

	src, file, err := NewCodeGenerator(client).Generate(context.Background(), []domain.Story{{Summary: "s"}})
	require.NoError(t, err)
	assert.Equal(t, "milk.py", file)
	assert.Equal(t, "print('milk')", src)
}

func TestCodeGenerator_Errors(t *testing.T) {
	client, _ := fakeChat(t, `{"filename":"x.py"}`)
	_, _, err := NewCodeGenerator(client).Generate(context.Background(), []domain.Story{{Summary: "s"}})
	assert.ErrorIs(t, err, ErrEmptyCompletion)

	_, _, err = NewCodeGenerator(client).Generate(context.Background(), nil)
	assert.Error(t, err)

	bad, _ := fakeChat(t, "not json")
	_, err = NewStoryGenerator(bad).Generate(context.Background(), "x")
	assert.ErrorContains(t, err, "decode reply")
}

func TestTranslator(t *testing.T) {
	client, captured := fakeChat(t, `{"text":"buy milk\ndo laundry"}`)

	out, err := NewTranslator(client).Translate(context.Background(), "acheter du lait\nfaire la lessive")
	require.NoError(t, err)
	assert.Equal(t, "buy milk\ndo laundry", out)

	msgs := (*captured)["messages"].([]any)
	assert.Contains(t, msgs[0].(map[string]any)["content"], "Translate the requirements into English")
	assert.Equal(t, "acheter du lait\nfaire la lessive", msgs[1].(map[string]any)["content"])
}

func TestTranslator_EmptyReply(t *testing.T) {
	client, _ := fakeChat(t, `{"text":"  "}`)
	_, err := NewTranslator(client).Translate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1} "))
}
