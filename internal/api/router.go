// Package api is the HTTP surface: approvals and the hook polling protocol, hook
// configuration, session lifecycle, health and metrics.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kandev/agentgate/internal/common/logger"
)

// Handlers groups the route handlers mounted by NewRouter.
type Handlers struct {
	Approvals *ApprovalHandler
	Hooks     *HookHandler
	Sessions  *SessionHandler
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(h Handlers, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(OtelTracing("agentgate"))
	router.Use(RequestLogger(log))
	RegisterRoutes(router, h)
	return router
}

// RegisterRoutes mounts /health, /metrics and /api/v1 on router.
func RegisterRoutes(router *gin.Engine, h Handlers) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "agentgate"})
	})

	gatherer := h.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	if a := h.Approvals; a != nil {
		v1.GET("/approvals", a.List)
		v1.POST("/approvals", a.Request)
		v1.GET("/approvals/:id", a.Get)
		v1.POST("/approvals/:id/approve", a.Approve)
		v1.POST("/approvals/:id/reject", a.Reject)

		v1.POST("/hooks/approval", a.Request)
		v1.GET("/hooks/approval/:id", a.Poll)
	}
	if hk := h.Hooks; hk != nil {
		v1.GET("/hooks", hk.List)
		v1.POST("/hooks", hk.Create)
		v1.POST("/hooks/sync", hk.Sync)
		v1.GET("/hooks/:id", hk.Get)
		v1.PUT("/hooks/:id", hk.Update)
		v1.DELETE("/hooks/:id", hk.Delete)
	}
	if s := h.Sessions; s != nil {
		v1.POST("/sessions", s.Start)
		v1.GET("/sessions/:id", s.Get)
		v1.GET("/sessions/:id/diffs", s.ListDiffs)
		v1.POST("/sessions/:id/stop", s.Stop)
		v1.POST("/sessions/:id/pause", s.Pause)
		v1.POST("/sessions/:id/resume", s.Resume)
		v1.POST("/sessions/:id/retry", s.Retry)
		v1.POST("/sessions/:id/mode", s.SetMode)
		v1.POST("/sessions/:id/messages", s.SendMessage)
	}
}
