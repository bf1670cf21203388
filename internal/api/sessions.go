package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/session"
)

// SessionService is the lifecycle surface the API exposes.
type SessionService interface {
	Start(ctx context.Context, req session.StartRequest) (*session.StartResult, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Stop(ctx context.Context, sessionID string) (*session.Result, error)
	Pause(ctx context.Context, sessionID string) (*session.Result, error)
	Resume(ctx context.Context, sessionID string) (*session.Result, error)
	Retry(ctx context.Context, sessionID string) (*session.StartResult, error)
	SetPermissionMode(ctx context.Context, sessionID string, mode models.PermissionMode) (*models.Session, error)
	SetHookMode(ctx context.Context, sessionID string, hookMode bool) (*models.Session, error)
	SendMessage(ctx context.Context, sessionID, text string) error
}

// DiffLister lists the file changes recorded for a session.
type DiffLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]*models.Diff, error)
}

// ModeRequest changes a session's permission mode, approval protocol or both.
type ModeRequest struct {
	PermissionMode models.PermissionMode `json:"permission_mode"`
	HookMode       *bool                 `json:"hook_mode"`
}

// MessageRequest is a follow-up user message.
type MessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// SessionHandler serves session lifecycle operations.
type SessionHandler struct {
	service SessionService
	diffs   DiffLister
	logger  *logger.Logger
}

// NewSessionHandler creates a session handler. diffs may be nil.
func NewSessionHandler(service SessionService, diffs DiffLister, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: service,
		diffs:   diffs,
		logger:  log.WithFields(zap.String("component", "session-api")),
	}
}

// Start launches a session for a task. A process that fails to start is reported
// in the result, not as an HTTP error.
// POST /api/v1/sessions
func (h *SessionHandler) Start(c *gin.Context) {
	var req session.StartRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	res, err := h.service.Start(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.writeStart(c, res)
}

// Retry starts a new session that resumes an ended one.
// POST /api/v1/sessions/:id/retry
func (h *SessionHandler) Retry(c *gin.Context) {
	res, err := h.service.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.writeStart(c, res)
}

func (h *SessionHandler) writeStart(c *gin.Context, res *session.StartResult) {
	status := http.StatusCreated
	if !res.Success {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// Get returns a session with its live accounting.
// GET /api/v1/sessions/:id
func (h *SessionHandler) Get(c *gin.Context) {
	sess, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Stop cancels a session.
// POST /api/v1/sessions/:id/stop
func (h *SessionHandler) Stop(c *gin.Context) {
	h.lifecycle(c, h.service.Stop)
}

// Pause suspends a running session.
// POST /api/v1/sessions/:id/pause
func (h *SessionHandler) Pause(c *gin.Context) {
	h.lifecycle(c, h.service.Pause)
}

// Resume continues a paused session.
// POST /api/v1/sessions/:id/resume
func (h *SessionHandler) Resume(c *gin.Context) {
	h.lifecycle(c, h.service.Resume)
}

func (h *SessionHandler) lifecycle(c *gin.Context, op func(context.Context, string) (*session.Result, error)) {
	res, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SetMode changes the permission mode and/or the approval protocol.
// POST /api/v1/sessions/:id/mode
func (h *SessionHandler) SetMode(c *gin.Context) {
	var req ModeRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if req.PermissionMode == "" && req.HookMode == nil {
		respondError(c, h.logger, apperrors.Validation("request", "permission_mode or hook_mode is required"))
		return
	}

	ctx := c.Request.Context()
	sessionID := c.Param("id")
	var (
		sess *models.Session
		err  error
	)
	if req.PermissionMode != "" {
		if sess, err = h.service.SetPermissionMode(ctx, sessionID, req.PermissionMode); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}
	if req.HookMode != nil {
		if sess, err = h.service.SetHookMode(ctx, sessionID, *req.HookMode); err != nil {
			respondError(c, h.logger, err)
			return
		}
	}
	c.JSON(http.StatusOK, sess)
}

// SendMessage writes a follow-up message to the agent.
// POST /api/v1/sessions/:id/messages
func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req MessageRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	if err := h.service.SendMessage(c.Request.Context(), c.Param("id"), req.Text); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// ListDiffs returns the file changes the session's tool calls made.
// GET /api/v1/sessions/:id/diffs
func (h *SessionHandler) ListDiffs(c *gin.Context) {
	if h.diffs == nil {
		respondError(c, h.logger, apperrors.Unsupported("diff tracking is not enabled"))
		return
	}
	sessionID := c.Param("id")
	if _, err := h.service.Get(c.Request.Context(), sessionID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	list, err := h.diffs.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []*models.Diff{}
	}
	c.JSON(http.StatusOK, gin.H{"diffs": list, "total": len(list)})
}
