package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := apperrors.GetHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, ErrorResponse{Error: apperrors.Message(err), Code: apperrors.Code(err)})
}

func bindJSON(c *gin.Context, log *logger.Logger, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, log, apperrors.Validation("request", err.Error()))
		return false
	}
	return true
}
