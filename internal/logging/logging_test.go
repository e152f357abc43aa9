package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/odin-rtps/corewriter/internal/config"
)

func TestNewBuildsLoggerAtConfiguredLevel(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "warn", Encoding: "json"})
	require.NoError(t, err)
	defer logger.Sync()

	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "not-a-level", Encoding: "json"})
	assert.Error(t, err)
}
