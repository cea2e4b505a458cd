package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sdlc-wizard/internal/app"
	"sdlc-wizard/internal/config"
	"sdlc-wizard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Mode = "test"
	cfg.Storage.Artifacts = "memory"
	a, err := app.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestDrive_ApproveEverything(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	_, err := a.Machine.Start(ctx, "r1", domain.TextUpload("buy milk\ndo laundry"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, drive(ctx, a, "r1", strings.NewReader("y\nyes\n"), &out, false))

	text := out.String()
	assert.Contains(t, text, "Approve STORIES_APPROVED?")
	assert.Contains(t, text, "As a user, I want to buy milk")
	assert.Contains(t, text, "Approve CODE_APPROVED?")
	assert.Contains(t, text, "Wizard complete.")

	run, err := a.Machine.GetStatus(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, run.Status)
}

func TestDrive_AutoApprove(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	_, err := a.Machine.Start(ctx, "r1", domain.TextUpload("buy milk"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, drive(ctx, a, "r1", strings.NewReader(""), &out, true))
	assert.NotContains(t, out.String(), "Approve")
}

func TestDrive_RejectThenRetry(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	_, err := a.Machine.Start(ctx, "r1", domain.TextUpload("buy milk"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, drive(ctx, a, "r1", strings.NewReader("n\nvague\ny\ny\ny\ny\n"), &out, false))

	text := out.String()
	assert.Contains(t, text, "Retry, resubmit or quit?")
	assert.Equal(t, 2, strings.Count(text, "Approve STORIES_APPROVED?"))
	assert.Contains(t, text, "Wizard complete.")

	run, err := a.Machine.GetStatus(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, run.Status)
	assert.Nil(t, run.Rejection)
}

func TestDrive_CodeRejectionOffersRetryOnly(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	_, err := a.Machine.Start(ctx, "r1", domain.TextUpload("buy milk"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, drive(ctx, a, "r1", strings.NewReader("y\nn\nmissing tests\ny\ny\n"), &out, false))

	text := out.String()
	assert.Contains(t, text, "Retry? [y/n]")
	assert.NotContains(t, text, "resubmit")
	assert.Equal(t, 2, strings.Count(text, "Approve CODE_APPROVED?"))
	assert.Contains(t, text, "Wizard complete.")
}

func TestDrive_RejectThenResubmit(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	_, err := a.Machine.Start(ctx, "r1", domain.TextUpload("buy milk"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, drive(ctx, a, "r1", strings.NewReader("n\nwrong doc\ns\nwalk dog\ny\ny\n"), &out, false))

	text := out.String()
	assert.Contains(t, text, "New requirements")
	assert.Contains(t, text, "As a user, I want to walk dog")
	assert.Contains(t, text, "Wizard complete.")

	content, err := a.Service.GetArtifact(ctx, "r1", domain.ArtifactRequirementText)
	require.NoError(t, err)
	assert.Equal(t, "walk dog", string(content))
}

func TestDrive_RejectThenQuit(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	_, err := a.Machine.Start(ctx, "r1", domain.TextUpload("buy milk"))
	require.NoError(t, err)

	err = drive(ctx, a, "r1", strings.NewReader("n\nnot what we need\nq\n"), io.Discard, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected at STORIES_APPROVED: not what we need")

	run, err := a.Machine.GetStatus(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, run.Status)
}

func TestDrive_InputClosed(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	_, err := a.Machine.Start(ctx, "r1", domain.TextUpload("buy milk"))
	require.NoError(t, err)

	err = drive(ctx, a, "r1", strings.NewReader(""), io.Discard, false)
	assert.ErrorContains(t, err, "input closed")
}

func TestUploadFromFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reqs.md")
	require.NoError(t, os.WriteFile(path, []byte("- a\n"), 0o644))

	up, err := uploadFromFlags(path, "")
	require.NoError(t, err)
	assert.Regexp(t, `^upload_\d{8}_\d{6}\.md$`, up.Filename)
	assert.Equal(t, "reqs.md", up.OriginalFilename)
	assert.Equal(t, "md", up.DeclaredType)
	assert.Equal(t, []byte("- a\n"), up.Content)

	up, err = uploadFromFlags("", "buy milk")
	require.NoError(t, err)
	assert.Equal(t, "txt", up.DeclaredType)

	_, err = uploadFromFlags("", "  ")
	assert.Error(t, err)
	_, err = uploadFromFlags(filepath.Join(t.TempDir(), "missing.txt"), "")
	assert.Error(t, err)
}

func TestRenderProgress(t *testing.T) {
	run := domain.NewWorkflowRun("r1")
	run.Stage = domain.StageJiraCreated

	out := renderProgress(run)
	assert.Contains(t, out, "✓ UPLOADED")
	assert.Contains(t, out, "● JIRA_CREATED")
	assert.Contains(t, out, "○ COMPLETED")
}

func TestRenderArtifact(t *testing.T) {
	out := renderArtifact(domain.ArtifactCode, []byte(`{"filename":"factorial.py","source":"print(1)\n"}`))
	assert.Contains(t, out, "factorial.py")
	assert.Contains(t, out, "print(1)")

	assert.Contains(t, renderArtifact(domain.ArtifactStories, []byte("not json")), "not json")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestRunCommand_RequiresInput(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"run"})
	assert.ErrorContains(t, cmd.Execute(), "--file or --text")
}
