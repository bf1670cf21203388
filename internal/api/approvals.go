package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/approval"
	"github.com/kandev/agentgate/internal/models"
)

// ApprovalService is the gate surface the API exposes.
type ApprovalService interface {
	RequestApproval(ctx context.Context, req approval.PollRequest) (*approval.PollResponse, error)
	Status(ctx context.Context, approvalID string) (*approval.PollResponse, error)
	Respond(ctx context.Context, approvalID string, approve bool, decidedBy, reason string, remember bool) (*models.Approval, error)
	Get(ctx context.Context, approvalID string) (*models.Approval, error)
	List(ctx context.Context, filter models.ApprovalFilter) ([]*models.Approval, error)
}

// DecisionRequest is the body of approve and reject.
type DecisionRequest struct {
	DecidedBy string `json:"decided_by"`
	Reason    string `json:"reason"`
	Remember  bool   `json:"remember"`
}

// ApprovalHandler serves approvals and the hook polling protocol.
type ApprovalHandler struct {
	service ApprovalService
	logger  *logger.Logger
}

// NewApprovalHandler creates an approval handler.
func NewApprovalHandler(service ApprovalService, log *logger.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		service: service,
		logger:  log.WithFields(zap.String("component", "approval-api")),
	}
}

// List returns approvals, newest first.
// GET /api/v1/approvals?session_id=&status=&limit=
func (h *ApprovalHandler) List(c *gin.Context) {
	filter := models.ApprovalFilter{
		SessionID: c.Query("session_id"),
		Status:    models.ApprovalStatus(c.Query("status")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(c, h.logger, apperrors.Validation("limit", "must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}
	approvals, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if approvals == nil {
		approvals = []*models.Approval{}
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals, "total": len(approvals)})
}

// Get returns one approval.
// GET /api/v1/approvals/:id
func (h *ApprovalHandler) Get(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Request classifies a tool call and returns allow or the pending approval to poll.
// POST /api/v1/approvals and POST /api/v1/hooks/approval
func (h *ApprovalHandler) Request(c *gin.Context) {
	var req approval.PollRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	resp, err := h.service.RequestApproval(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	status := http.StatusOK
	if resp.Decision == approval.PollPending {
		status = http.StatusAccepted
	}
	c.JSON(status, resp)
}

// Poll returns the current decision of an approval.
// GET /api/v1/hooks/approval/:id
func (h *ApprovalHandler) Poll(c *gin.Context) {
	resp, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Approve resolves an approval as approved.
// POST /api/v1/approvals/:id/approve
func (h *ApprovalHandler) Approve(c *gin.Context) {
	h.decide(c, true)
}

// Reject resolves an approval as rejected.
// POST /api/v1/approvals/:id/reject
func (h *ApprovalHandler) Reject(c *gin.Context) {
	h.decide(c, false)
}

func (h *ApprovalHandler) decide(c *gin.Context, approve bool) {
	var req DecisionRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, h.logger, &req) {
		return
	}
	a, err := h.service.Respond(c.Request.Context(), c.Param("id"), approve, req.DecidedBy, req.Reason, req.Remember && approve)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.WithApprovalID(a.ID).Info("approval decided over http",
		zap.String("status", string(a.Status)),
		zap.String("decided_by", a.DecidedBy))
	c.JSON(http.StatusOK, a)
}
