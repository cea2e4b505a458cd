package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sdlc-wizard/internal/agents/analyst"
	"sdlc-wizard/internal/agents/jira"
	"sdlc-wizard/internal/agents/llm"
	"sdlc-wizard/internal/agents/translate"
	"sdlc-wizard/internal/config"
	"sdlc-wizard/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Mode = "test"
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Storage.FSRoot = t.TempDir()
	cfg.Executor.Timeout = 5 * time.Second
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_InProcessRunToCompletion(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), quietLogger())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Service.StartRun(ctx, "r1", domain.TextUpload("buy milk"))
	require.NoError(t, err)
	require.NoError(t, a.Worker.ProcessNextTask(ctx))

	run, err := a.Service.Approve(ctx, "r1", domain.StageStoriesApproved, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StageCodeGenerated, run.Stage)

	run, err = a.Service.Approve(ctx, "r1", domain.StageCodeApproved, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, run.Status)

	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "sdlc_wizard_gate_decisions_total")
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Storage.Artifacts = "memory"
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	ctx := context.Background()
	a, err := New(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Service.StartRun(ctx, "r1", domain.TextUpload("buy milk"))
	require.NoError(t, err)
	queued, err := mr.List("wizard:queue:advance")
	require.NoError(t, err)
	assert.Len(t, queued, 1)
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := New(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Concurrency = 0
	_, err := New(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestCollaborators(t *testing.T) {
	cfg := config.DefaultConfig()
	c, err := Collaborators(cfg, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &translate.PassThrough{}, c.Translator)
	assert.IsType(t, &analyst.LineStoryGenerator{}, c.Stories)
	assert.IsType(t, &jira.Mock{}, c.Tickets)

	cfg.LLM.Enabled = true
	cfg.Jira.Enabled = true
	cfg.Jira.URL = "https://example.atlassian.net"
	c, err = Collaborators(cfg, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &llm.Translator{}, c.Translator)
	assert.IsType(t, &llm.StoryGenerator{}, c.Stories)
	assert.IsType(t, &llm.CodeGenerator{}, c.Code)
	assert.IsType(t, &jira.Client{}, c.Tickets)
}

func TestServe_StopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), quietLogger())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
