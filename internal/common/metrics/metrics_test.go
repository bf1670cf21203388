package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ApprovalCreated("tool", "dangerous")
	m.ApprovalCreated("tool", "dangerous")
	m.ApprovalResolved("timeout", "timeout", 2*time.Second)
	m.HookExecuted("shell", "failure")
	m.SessionTransition("running")
	m.ReconcilerItem("reject_stale", "success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ApprovalsCreated.WithLabelValues("tool", "dangerous")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsResolved.WithLabelValues("timeout", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HookExecutions.WithLabelValues("shell", "failure")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "agentgate_approval_wait_seconds")
	assert.Contains(t, names, "agentgate_reconciler_items_total")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ApprovalCreated("tool", "safe")
		m.ApprovalResolved("approved", "user", time.Second)
		m.HookExecuted("http", "success")
		m.SessionTransition("failed")
		m.ReconcilerItem("clear_diff", "failure")
	})
}
