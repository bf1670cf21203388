package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/agentgate/internal/common/config"
	"github.com/kandev/agentgate/internal/common/logger"
)

func TestProvide_DefaultsToMemory(t *testing.T) {
	provided, cleanup, err := Provide(config.NATSConfig{URL: "  "}, logger.NewNop())
	require.NoError(t, err)
	require.NotNil(t, provided.Memory)
	assert.Nil(t, provided.NATS)
	assert.True(t, provided.Bus.IsConnected())

	require.NoError(t, cleanup())
	assert.False(t, provided.Bus.IsConnected())
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "session.output.s-1", SessionSubject(SessionOutput, "s-1"))
	assert.Equal(t, "session.output.*", SessionWildcardSubject(SessionOutput))
}
