package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/agentproc"
	"github.com/kandev/agentgate/internal/approval"
	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/common/metrics"
	"github.com/kandev/agentgate/internal/common/tracing"
	"github.com/kandev/agentgate/internal/diffs"
	"github.com/kandev/agentgate/internal/events"
	"github.com/kandev/agentgate/internal/events/bus"
	gateways "github.com/kandev/agentgate/internal/gateway/websocket"
	"github.com/kandev/agentgate/internal/hooks"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/reconciler"
	"github.com/kandev/agentgate/internal/session"
	"github.com/kandev/agentgate/internal/store"
)

// services holds every wired component of one agentgate process.
type services struct {
	cfg      *config.Config
	store    store.Store
	eventBus bus.EventBus
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	gate       *approval.Gate
	hookExec   *hooks.Executor
	hookSvc    *hooks.Service
	tracker    *diffs.Tracker
	reverter   *diffs.Reverter
	adapter    *agentproc.Adapter
	manager    *session.Manager
	reconciler *reconciler.Reconciler
	hub        *gateways.Hub

	subs     []bus.Subscription
	cleanups []func() error
	log      *logger.Logger
}

// buildServices opens storage and the event bus and wires the engine on top.
// Callers must call close on the result.
func buildServices(ctx context.Context, cfg *config.Config, log *logger.Logger) (*services, error) {
	s := &services{cfg: cfg, log: log}

	if err := tracing.Init(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName); err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
	} else if cfg.Tracing.Endpoint != "" {
		s.cleanups = append(s.cleanups, func() error { return tracing.Shutdown(context.Background()) })
	}

	st, closeStore, err := provideStore(cfg.Database, log)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	s.store = st
	s.cleanups = append(s.cleanups, closeStore)

	provided, closeBus, err := events.Provide(cfg.NATS, log)
	if err != nil {
		s.close()
		return nil, err
	}
	s.eventBus = provided.Bus
	s.cleanups = append(s.cleanups, closeBus)
	if provided.NATS != nil {
		log.Info("Using NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.New(s.registry)

	policy, err := approval.NewPolicy(cfg.Approval)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("invalid approval policy: %w", err)
	}
	s.gate = approval.NewGate(st, policy, approval.ConfigFrom(cfg.Approval), s.eventBus, s.metrics, log)

	s.hookExec = hooks.NewExecutor(st, s.eventBus, s.metrics, log)
	s.hookSvc = hooks.NewService(st, log)

	s.hub = gateways.NewHub(s.gate, log)
	s.gate.SetNotifier(s.hub)
	s.gate.SetSafetyCheck(func(toolName string, input map[string]any) []string {
		return hooks.SafetyReasons(hooks.CheckSafety(toolName, input))
	})
	s.hookExec.SetRunner(models.HookTransportWebsocket, hooks.NewSocketRunner(s.hub))

	s.tracker = diffs.NewTracker(st, log)
	s.reverter = diffs.NewReverter(st, log)

	providers := agentproc.NewProviders(
		agentproc.NewClaude(cfg.Process.ClaudeBinary),
		agentproc.NewCodex(cfg.Process.CodexBinary),
	)
	s.adapter = agentproc.NewAdapter(providers, agentproc.OptionsFromConfig(cfg.Process), log)

	s.manager = session.NewManager(st, s.adapter, s.gate, s.hookExec, s.tracker, s.eventBus, s.metrics,
		session.ConfigFrom(cfg.Process, cfg.Approval), log)

	s.reconciler = reconciler.New(st, st, st, s.gate, s.reverter,
		reconciler.ConfigFrom(cfg.Reconciler), s.eventBus, s.metrics, log)

	return s, nil
}

// subscribe connects the bus-driven parts: approval:pending hooks and socket fan-out.
func (s *services) subscribe() error {
	sub, err := s.manager.WatchApprovals(s.eventBus)
	if err != nil {
		return fmt.Errorf("failed to watch approvals: %w", err)
	}
	s.subs = append(s.subs, sub)

	forwarded, err := s.hub.ForwardEvents(s.eventBus)
	if err != nil {
		return fmt.Errorf("failed to forward events: %w", err)
	}
	s.subs = append(s.subs, forwarded...)
	return nil
}

// close releases subscriptions and runs cleanups in reverse order.
func (s *services) close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		if err := s.cleanups[i](); err != nil {
			s.log.Warn("cleanup failed", zap.Error(err))
		}
	}
	s.cleanups = nil
}
