package memory

import (
	"testing"

	"github.com/kandev/agentgate/internal/store"
	"github.com/kandev/agentgate/internal/store/storetest"
)

func TestMemoryStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
