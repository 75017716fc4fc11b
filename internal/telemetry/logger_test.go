package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("not-a-level", "zonecore-actionserver", "as-1")
	assert.Error(t, err)
}

func TestNewLoggerBuildsAtRequestedLevel(t *testing.T) {
	log, err := NewLogger("debug", "zonecore-actionserver", "as-1")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}
