package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sdlc-wizard/internal/agents/analyst"
	"sdlc-wizard/internal/agents/coder"
	"sdlc-wizard/internal/agents/extract"
	"sdlc-wizard/internal/agents/jira"
	"sdlc-wizard/internal/api/dto"
	"sdlc-wizard/internal/coordinator"
	"sdlc-wizard/internal/core/memory"
	"sdlc-wizard/internal/domain"
	"sdlc-wizard/internal/executor"
	"sdlc-wizard/internal/notify"
	"sdlc-wizard/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) (*gin.Engine, *memory.Queue) {
	t.Helper()
	store := memory.NewArtifactStore()
	events := notify.NewEventLog(50)
	set := executor.NewSet(executor.Collaborators{
		Extractor: extract.New(),
		Stories:   analyst.NewLineStoryGenerator(),
		Tickets:   jira.NewMock("SDLC"),
		Code:      coder.NewTemplateCoder(),
	}, executor.WithTimeout(time.Second))
	machine := coordinator.New(memory.NewRunRepository(), store, events, set)
	q := memory.NewQueue(16)
	svc := service.NewWorkflowService(machine, store, q, events, nil, nil)

	r := gin.New()
	NewWorkflowHandler(svc).Register(r.Group("/api/v1"))
	return r, q
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeRun(t *testing.T, w *httptest.ResponseRecorder) dto.RunResponse {
	t.Helper()
	var resp dto.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestFullRunOverHTTP(t *testing.T) {
	r, _ := newRouter(t)

	w := do(r, http.MethodPost, "/api/v1/runs", gin.H{"run_id": "r1", "text": "buy milk\ndo laundry"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, domain.StageUploaded, decodeRun(t, w).Stage)

	w = do(r, http.MethodPost, "/api/v1/runs/r1/advance?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := decodeRun(t, w)
	assert.Equal(t, domain.StatusAwaitingApproval, run.Status)
	assert.Equal(t, domain.StageStoriesApproved, run.PendingGate)

	w = do(r, http.MethodGet, "/api/v1/runs/r1/artifacts/stories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stories []domain.Story
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stories))
	assert.Len(t, stories, 2)

	w = do(r, http.MethodPost, "/api/v1/runs/r1/approve?stage=STORIES_APPROVED&wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.StageCodeGenerated, decodeRun(t, w).Stage)

	w = do(r, http.MethodPost, "/api/v1/runs/r1/approve?stage=CODE_APPROVED&wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.StatusCompleted, decodeRun(t, w).Status)

	w = do(r, http.MethodGet, "/api/v1/runs/r1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events dto.EventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	assert.NotEmpty(t, events.Events)
	assert.Len(t, events.Lines, len(events.Events))

	w = do(r, http.MethodGet, "/api/v1/runs", nil)
	var list dto.ListRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestStartRun_GeneratesRunID(t *testing.T) {
	r, _ := newRouter(t)
	w := do(r, http.MethodPost, "/api/v1/runs", gin.H{"text": "buy milk"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Len(t, decodeRun(t, w).RunID, 36)
}

func TestAsyncAdvanceIsAccepted(t *testing.T) {
	r, q := newRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/v1/runs", gin.H{"run_id": "r1", "text": "x"}).Code)

	w := do(r, http.MethodPost, "/api/v1/runs/r1/advance", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStartRun_Multipart(t *testing.T) {
	r, _ := newRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("run_id", "doc1"))
	part, err := mw.CreateFormFile("file", "reqs.md")
	require.NoError(t, err)
	_, err = part.Write([]byte("- export reports\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/v1/runs/doc1/artifacts/requirement_text", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "- export reports\n", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))

	w = do(r, http.MethodGet, "/api/v1/runs/doc1/artifacts/upload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var upload domain.Upload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &upload))
	assert.Regexp(t, `^upload_\d{8}_\d{6}\.md$`, upload.Filename)
	assert.Equal(t, "reqs.md", upload.OriginalFilename)
	assert.Equal(t, "md", upload.DeclaredType)
}

func TestErrorMapping(t *testing.T) {
	r, _ := newRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/v1/runs", gin.H{"run_id": "r1", "text": "x"}).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"invalid run id", http.MethodPost, "/api/v1/runs", gin.H{"run_id": "../etc", "text": "x"}, http.StatusBadRequest},
		{"empty body", http.MethodPost, "/api/v1/runs", nil, http.StatusBadRequest},
		{"missing document", http.MethodPost, "/api/v1/runs", gin.H{"run_id": "r2"}, http.StatusBadRequest},
		{"duplicate run", http.MethodPost, "/api/v1/runs", gin.H{"run_id": "r1", "text": "x"}, http.StatusConflict},
		{"unknown run", http.MethodGet, "/api/v1/runs/ghost", nil, http.StatusNotFound},
		{"unknown stage", http.MethodPost, "/api/v1/runs/r1/approve?stage=NOPE", nil, http.StatusBadRequest},
		{"bad wait", http.MethodPost, "/api/v1/runs/r1/advance?wait=soon", nil, http.StatusBadRequest},
		{"not awaiting", http.MethodPost, "/api/v1/runs/r1/approve?stage=STORIES_APPROVED", nil, http.StatusConflict},
		{"reject not awaiting", http.MethodPost, "/api/v1/runs/r1/reject?stage=STORIES_APPROVED&reason=no", nil, http.StatusConflict},
		{"unknown kind", http.MethodGet, "/api/v1/runs/r1/artifacts/binary", nil, http.StatusBadRequest},
		{"missing artifact", http.MethodGet, "/api/v1/runs/r1/artifacts/code", nil, http.StatusNotFound},
		{"events unknown run", http.MethodGet, "/api/v1/runs/ghost/events", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestRejectWithJSONBodyThenResubmit(t *testing.T) {
	r, _ := newRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/v1/runs", gin.H{"run_id": "r1", "text": "buy milk"}).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/v1/runs/r1/advance?wait=true", nil).Code)

	w := do(r, http.MethodPost, "/api/v1/runs/r1/reject", gin.H{"stage": "STORIES_APPROVED", "reason": "wrong doc"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	run := decodeRun(t, w)
	assert.Equal(t, domain.StatusFailed, run.Status)
	require.NotNil(t, run.Rejection)
	assert.Equal(t, "wrong doc", run.Rejection.Reason)

	w = do(r, http.MethodPost, "/api/v1/runs/r1/resubmit", gin.H{"text": "walk dog"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodGet, "/api/v1/runs/r1/artifacts/requirement_text", nil)
	assert.Equal(t, "walk dog", w.Body.String())
}

// closeNotifyRecorder satisfies http.CloseNotifier, which gin's Stream needs.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (closeNotifyRecorder) CloseNotify() <-chan bool {
	return make(chan bool)
}

func TestEvents_Stream(t *testing.T) {
	r, _ := newRouter(t)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/v1/runs", gin.H{"run_id": "r1", "text": "buy milk"}).Code)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/r1/events?stream=true", nil).WithContext(ctx)
	w := closeNotifyRecorder{httptest.NewRecorder()}
	r.ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event:StageStarted")
	assert.Contains(t, w.Body.String(), `"run_id":"r1"`)
}
