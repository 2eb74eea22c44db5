package observability_test

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/observability"
)

func TestLoggers(t *testing.T) {
	originalCLI, originalServer := observability.CLILogger, observability.ServerLogger
	t.Cleanup(func() {
		observability.CLILogger = originalCLI
		observability.ServerLogger = originalServer
	})

	t.Run("HelpersAreSafeWithoutLoggers", func(t *testing.T) {
		observability.CLILogger = nil
		observability.ServerLogger = nil

		assert.Nil(t, observability.Logger())
		observability.Debug("ignored")
		observability.Info("ignored")
		observability.Warn("ignored")
	})

	t.Run("CLILogger", func(t *testing.T) {
		observability.InitCLILogger("deadlinecal-test", true)
		require.NotNil(t, observability.CLILogger)

		observability.ServerLogger = nil
		assert.Same(t, observability.CLILogger, observability.Logger())
		observability.Info("cli message", zap.String("command", "test"))
	})

	t.Run("ServerLoggerTakesPrecedence", func(t *testing.T) {
		observability.InitServerLogger("deadlinecal-test", config.LoggingConfig{Level: "warn"}, false)
		require.NotNil(t, observability.ServerLogger)

		assert.Same(t, observability.ServerLogger, observability.Logger())
		observability.Warn("server message", zap.Int("status", 503))
	})
}

func TestInitMetricsDisabled(t *testing.T) {
	original := observability.TelemetrySystem
	t.Cleanup(func() { observability.TelemetrySystem = original })

	require.NoError(t, observability.InitMetrics("deadlinecal", config.MetricsConfig{Enabled: false}))
	assert.Nil(t, observability.TelemetrySystem)
	assert.Equal(t, 0, observability.GetMetricsPort())
}

func TestEmbeddedCrucible(t *testing.T) {
	version := crucible.GetVersion()
	assert.NotEmpty(t, version.Gofulmen)
	assert.NotEmpty(t, version.Crucible)
}
