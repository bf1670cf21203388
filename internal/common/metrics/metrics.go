// Package metrics holds the Prometheus collectors of the governance engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentgate"

// Metrics groups every collector. A nil *Metrics records nothing.
type Metrics struct {
	ApprovalsCreated  *prometheus.CounterVec
	ApprovalsResolved *prometheus.CounterVec
	ApprovalWait      prometheus.Histogram
	HookExecutions    *prometheus.CounterVec
	Sessions          *prometheus.CounterVec
	ReconcilerItems   *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ApprovalsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_created_total",
			Help:      "Approvals persisted for escalated tool calls.",
		}, []string{"kind", "risk"}),
		ApprovalsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_resolved_total",
			Help:      "Terminal approval transitions by status and decision source.",
		}, []string{"status", "source"}),
		ApprovalWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_wait_seconds",
			Help:      "Time between approval creation and resolution.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27m
		}),
		HookExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_executions_total",
			Help:      "Hook runs by transport and outcome.",
		}, []string{"transport", "outcome"}),
		Sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session status transitions.",
		}, []string{"status"}),
		ReconcilerItems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_items_total",
			Help:      "Items handled by the orphan reconciler.",
		}, []string{"action", "outcome"}),
	}
}

func (m *Metrics) ApprovalCreated(kind, risk string) {
	if m == nil {
		return
	}
	m.ApprovalsCreated.WithLabelValues(kind, risk).Inc()
}

func (m *Metrics) ApprovalResolved(status, source string, waited time.Duration) {
	if m == nil {
		return
	}
	m.ApprovalsResolved.WithLabelValues(status, source).Inc()
	if waited > 0 {
		m.ApprovalWait.Observe(waited.Seconds())
	}
}

func (m *Metrics) HookExecuted(transport, outcome string) {
	if m == nil {
		return
	}
	m.HookExecutions.WithLabelValues(transport, outcome).Inc()
}

func (m *Metrics) SessionTransition(status string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(status).Inc()
}

func (m *Metrics) ReconcilerItem(action, outcome string) {
	if m == nil {
		return
	}
	m.ReconcilerItems.WithLabelValues(action, outcome).Inc()
}
