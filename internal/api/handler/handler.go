package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"sdlc-wizard/internal/api/dto"
	"sdlc-wizard/internal/domain"
	"sdlc-wizard/internal/notify"
	"sdlc-wizard/internal/service"

	"github.com/gin-gonic/gin"
)

// MaxUploadBytes caps multipart requirement documents.
const MaxUploadBytes = 10 << 20

var (
	errUploadTooLarge  = errors.New("upload too large")
	errMissingDocument = errors.New("either text or a file part is required")
)

type WorkflowHandler struct {
	service service.WorkflowService
}

func NewWorkflowHandler(svc service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{service: svc}
}

// Register mounts the run endpoints on r.
func (h *WorkflowHandler) Register(r gin.IRouter) {
	runs := r.Group("/runs")
	{
		runs.POST("", h.StartRun)
		runs.GET("", h.ListRuns)
		runs.GET("/:id", h.GetRun)
		runs.POST("/:id/advance", h.Advance)
		runs.POST("/:id/approve", h.Approve)
		runs.POST("/:id/reject", h.Reject)
		runs.POST("/:id/resubmit", h.Resubmit)
		runs.GET("/:id/artifacts/:kind", h.GetArtifact)
		runs.GET("/:id/events", h.Events)
	}
}

func (h *WorkflowHandler) StartRun(c *gin.Context) {
	var req dto.StartRunRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.RunID != "" {
		if err := domain.ValidateRunID(req.RunID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	upload, err := readUpload(c, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}

	run, err := h.service.StartRun(c.Request.Context(), req.RunID, upload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewRunResponse(run))
}

func (h *WorkflowHandler) Advance(c *gin.Context) {
	wait, err := waitParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.service.Advance(c.Request.Context(), c.Param("id"), wait)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(acceptedUnless(wait), dto.NewRunResponse(run))
}

func (h *WorkflowHandler) Approve(c *gin.Context) {
	gate, err := domain.ParseStage(c.Query("stage"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wait, err := waitParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.service.Approve(c.Request.Context(), c.Param("id"), gate, wait)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(acceptedUnless(wait), dto.NewRunResponse(run))
}

// Reject reads stage and reason from the query string, or from a JSON body.
func (h *WorkflowHandler) Reject(c *gin.Context) {
	req := dto.RejectRequest{Stage: c.Query("stage"), Reason: c.Query("reason")}
	if req.Stage == "" {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	gate, err := domain.ParseStage(req.Stage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.service.Reject(c.Request.Context(), c.Param("id"), gate, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRunResponse(run))
}

func (h *WorkflowHandler) Resubmit(c *gin.Context) {
	var req dto.ResubmitRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	upload, err := readUpload(c, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}

	run, err := h.service.Resubmit(c.Request.Context(), c.Param("id"), upload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRunResponse(run))
}

func (h *WorkflowHandler) GetRun(c *gin.Context) {
	run, err := h.service.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewRunResponse(run))
}

func (h *WorkflowHandler) ListRuns(c *gin.Context) {
	runs, err := h.service.ListRuns(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := dto.ListRunsResponse{Runs: make([]dto.RunResponse, 0, len(runs)), Count: len(runs)}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, dto.NewRunResponse(run))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WorkflowHandler) GetArtifact(c *gin.Context) {
	kind, err := domain.ParseArtifactKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	content, err := h.service.GetArtifact(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		writeError(c, err)
		return
	}
	contentType := "application/json"
	if kind == domain.ArtifactRequirementText {
		contentType = "text/plain; charset=utf-8"
	} else if kind == domain.ArtifactUpload {
		contentType = "application/octet-stream"
	}
	c.Data(http.StatusOK, contentType, content)
}

// Events returns the run's activity log. With stream=true it replays the
// retained events and then pushes live ones as server-sent events.
func (h *WorkflowHandler) Events(c *gin.Context) {
	runID := c.Param("id")
	if _, err := h.service.GetRun(c.Request.Context(), runID); err != nil {
		writeError(c, err)
		return
	}
	if c.Query("stream") != "true" {
		events := h.service.Events(runID)
		lines := make([]string, 0, len(events))
		for _, e := range events {
			lines = append(lines, notify.FormatLine(e))
		}
		c.JSON(http.StatusOK, dto.EventsResponse{RunID: runID, Events: events, Lines: lines})
		return
	}

	ctx := c.Request.Context()
	live, err := h.service.Subscribe(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	backlog := h.service.Events(runID)

	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		if len(backlog) > 0 {
			c.SSEvent(string(backlog[0].Kind), backlog[0])
			backlog = backlog[1:]
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-live:
			if !ok {
				return false
			}
			if e.RunID == runID {
				c.SSEvent(string(e.Kind), e)
			}
			return true
		}
	})
}

// readUpload prefers a multipart "file" part and falls back to inline text.
func readUpload(c *gin.Context, text string) (domain.Upload, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err == nil {
			if fh.Size > MaxUploadBytes {
				return domain.Upload{}, errUploadTooLarge
			}
			f, err := fh.Open()
			if err != nil {
				return domain.Upload{}, err
			}
			defer f.Close()
			content, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes))
			if err != nil {
				return domain.Upload{}, err
			}
			upload := domain.FileUpload(fh.Filename, content)
			if declared := c.PostForm("declared_type"); declared != "" {
				upload.DeclaredType = declared
			}
			return upload, nil
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return domain.Upload{}, err
		}
	}
	if strings.TrimSpace(text) == "" {
		return domain.Upload{}, errMissingDocument
	}
	return domain.TextUpload(text), nil
}

func waitParam(c *gin.Context) (bool, error) {
	raw := c.Query("wait")
	if raw == "" {
		return false, nil
	}
	wait, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid wait parameter %q", raw)
	}
	return wait, nil
}

func acceptedUnless(wait bool) int {
	if wait {
		return http.StatusOK
	}
	return http.StatusAccepted
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errMissingDocument):
		status = http.StatusBadRequest
	case errors.Is(err, errUploadTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotAwaitingApproval), errors.Is(err, domain.ErrInvalidState):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
