package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	info, err := NewLogger("info", false)
	require.NoError(t, err)
	assert.True(t, info.V(INFO).Enabled())
	assert.False(t, info.V(DEBUG).Enabled())

	trace, err := NewLogger("trace", true)
	require.NoError(t, err)
	assert.True(t, trace.V(TRACE).Enabled())

	_, err = NewLogger("loud", false)
	require.Error(t, err)
}

func TestDiscard(t *testing.T) {
	assert.False(t, Discard().Enabled())
	assert.True(t, NewTestLogger().V(DEBUG).Enabled())
}
