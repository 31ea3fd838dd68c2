package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggerReturnsSharedInstance(t *testing.T) {
	first := GetLogger()
	require.NotNil(t, first)
	assert.Same(t, first, GetLogger())
}

func TestInitLoggerConsole(t *testing.T) {
	config := NewDefaultConfig()
	config.Logging.Level = "debug"

	logger := InitLogger(config)
	require.NotNil(t, logger)
	assert.Same(t, logger, GetLogger(), "InitLogger replaces the shared instance")

	// Must not panic on a configured logger.
	logger.Debug().Str("check", "console").Msg("logger smoke test")
}
