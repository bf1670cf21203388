package approval

import (
	"sync"
	"time"

	"github.com/kandev/agentgate/internal/models"
)

// pendingWait parks interactive callers of one approval until it is decided.
// It is removed from the gate's map by whoever resolves first; complete is single-fire.
type pendingWait struct {
	approval *models.Approval
	forced   bool
	timer    *time.Timer
	done     chan struct{}
	once     sync.Once
	decision Decision
}

func newPendingWait(approval *models.Approval, forced bool) *pendingWait {
	return &pendingWait{
		approval: approval,
		forced:   forced,
		done:     make(chan struct{}),
	}
}

func (w *pendingWait) complete(d Decision) {
	w.once.Do(func() {
		w.decision = d
		close(w.done)
	})
}

func (w *pendingWait) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
