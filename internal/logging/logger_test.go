package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // stderr sync fails on some terminals

	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Named("analyzer").Debug("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // stderr sync fails on some terminals

	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
