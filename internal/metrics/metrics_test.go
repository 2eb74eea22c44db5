package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadlinecal/deadlinecal/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: collector})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func TestDomainMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordRateLimitDecision(true)
	RecordRateLimitDecision(false)
	SetRateLimitClients(4, 1)
	RecordFeedRender("all", "ok", 2, 5*time.Millisecond)
	RecordImport("tsv", 3, 1, 0, 2)

	assert.GreaterOrEqual(t, collector.CountMetricsByName(RateLimitDecisionsTotal), 2)
	assert.GreaterOrEqual(t, collector.CountMetricsByName(RateLimitTrackedClients), 1)
	assert.GreaterOrEqual(t, collector.CountMetricsByName(FeedRendersTotal), 1)
	assert.GreaterOrEqual(t, collector.CountMetricsByName(FeedLastSkippedRecords), 1)
	assert.GreaterOrEqual(t, collector.CountMetricsByName(ImportRunsTotal), 1)
	assert.GreaterOrEqual(t, collector.CountMetricsByName(ImportLastRecords), 4)
}

func TestErrorMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordError("RATE_LIMITED", 429)
	RecordErrorByEndpoint("/calendar/*", "RATE_LIMITED")
	RecordPanic()

	assert.GreaterOrEqual(t, collector.CountMetricsByName(ErrorsTotalName), 1)
	assert.GreaterOrEqual(t, collector.CountMetricsByName(ErrorsByEndpointName), 1)
	assert.GreaterOrEqual(t, collector.CountMetricsByName(PanicsTotalName), 1)
}

func TestMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	RecordRateLimitDecision(true)
	RecordFeedRender("all", "ok", 0, time.Millisecond)
	RecordImport("yaml", 0, 0, 0, 0)
	RecordHealthCheck("store", true, time.Millisecond)
	SetServerStartTime(time.Now())
	RecordPanic()
}
