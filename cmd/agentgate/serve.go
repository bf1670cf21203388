package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/agentgate/internal/api"
	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/common/logger"
	gateways "github.com/kandev/agentgate/internal/gateway/websocket"
	"github.com/kandev/agentgate/internal/hooks"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the governance server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return runServe(cmd.Context(), cfg, log)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config, log *logger.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting agentgate...")

	svc, err := buildServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.subscribe(); err != nil {
		return err
	}
	if cfg.Hooks.SyncFile != "" {
		result, err := svc.hookSvc.SyncFile(ctx, cfg.Hooks.SyncFile)
		if err != nil {
			return err
		}
		logSync(log, cfg.Hooks.SyncFile, result)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Handlers{
		Approvals: api.NewApprovalHandler(svc.gate, log),
		Hooks:     api.NewHookHandler(svc.hookSvc, cfg.Hooks.SyncFile, log),
		Sessions:  api.NewSessionHandler(svc.manager, svc.tracker, log),
		Gatherer:  svc.registry,
	}, log)
	gateways.RegisterRoutes(router, gateways.NewHandler(svc.hub, log))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		svc.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("HTTP server listening",
			zap.String("addr", server.Addr),
			zap.String("websocket", "/ws"),
			zap.String("http", "/api/v1"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Reconciler.Enabled {
		g.Go(func() error { return svc.reconciler.Run(gctx) })
	}
	if cfg.Hooks.SyncFile != "" && cfg.Hooks.Watch {
		g.Go(func() error {
			return svc.hookSvc.Watch(gctx, cfg.Hooks.SyncFile, func(result *hooks.SyncResult, err error) {
				if err == nil {
					logSync(log, cfg.Hooks.SyncFile, result)
				}
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down agentgate...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := svc.manager.Shutdown(shutdownCtx); err != nil {
			log.Error("Session manager shutdown error", zap.Error(err))
		}
		svc.adapter.Shutdown(shutdownCtx)
		return nil
	})

	err = g.Wait()
	log.Info("agentgate stopped")
	return err
}

func logSync(log *logger.Logger, path string, result *hooks.SyncResult) {
	log.Info("Hooks synced",
		zap.String("path", path),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("disabled", result.Disabled))
}
