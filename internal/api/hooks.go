package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/hooks"
	"github.com/kandev/agentgate/internal/models"
)

// HookService is hook configuration CRUD and sync.
type HookService interface {
	Create(ctx context.Context, hook *models.Hook) (*models.Hook, error)
	Update(ctx context.Context, id string, hook *models.Hook) (*models.Hook, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Hook, error)
	List(ctx context.Context, query models.HookQuery) ([]*models.Hook, error)
	Sync(ctx context.Context, f *hooks.File) (*hooks.SyncResult, error)
	SyncFile(ctx context.Context, path string) (*hooks.SyncResult, error)
}

// HookHandler serves hook configuration.
type HookHandler struct {
	service  HookService
	syncPath string
	logger   *logger.Logger
}

// NewHookHandler creates a hook handler. syncPath is the file an empty sync
// request loads.
func NewHookHandler(service HookService, syncPath string, log *logger.Logger) *HookHandler {
	return &HookHandler{
		service:  service,
		syncPath: syncPath,
		logger:   log.WithFields(zap.String("component", "hook-api")),
	}
}

// List returns configured hooks.
// GET /api/v1/hooks?event_type=&project_id=&task_id=
func (h *HookHandler) List(c *gin.Context) {
	list, err := h.service.List(c.Request.Context(), models.HookQuery{
		EventType: models.HookEventType(c.Query("event_type")),
		ProjectID: c.Query("project_id"),
		TaskID:    c.Query("task_id"),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []*models.Hook{}
	}
	c.JSON(http.StatusOK, gin.H{"hooks": list, "total": len(list)})
}

// Get returns one hook.
// GET /api/v1/hooks/:id
func (h *HookHandler) Get(c *gin.Context) {
	hook, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, hook)
}

// Create stores a new hook.
// POST /api/v1/hooks
func (h *HookHandler) Create(c *gin.Context) {
	var hook models.Hook
	if !bindJSON(c, h.logger, &hook) {
		return
	}
	created, err := h.service.Create(c.Request.Context(), &hook)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Update replaces a hook.
// PUT /api/v1/hooks/:id
func (h *HookHandler) Update(c *gin.Context) {
	var hook models.Hook
	if !bindJSON(c, h.logger, &hook) {
		return
	}
	updated, err := h.service.Update(c.Request.Context(), c.Param("id"), &hook)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete removes a hook.
// DELETE /api/v1/hooks/:id
func (h *HookHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Sync applies a hooks document from the body (YAML or JSON), or the configured
// hooks file when the body is empty.
// POST /api/v1/hooks/sync
func (h *HookHandler) Sync(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, h.logger, apperrors.Validation("body", err.Error()))
		return
	}

	var result *hooks.SyncResult
	if len(body) == 0 {
		if h.syncPath == "" {
			respondError(c, h.logger, apperrors.Validation("body", "no hooks document given and no hooks file configured"))
			return
		}
		result, err = h.service.SyncFile(c.Request.Context(), h.syncPath)
	} else {
		var f *hooks.File
		if f, err = hooks.ParseFile(body); err == nil {
			result, err = h.service.Sync(c.Request.Context(), f)
		}
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
