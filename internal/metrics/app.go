package metrics

import (
	"time"

	"github.com/deadlinecal/deadlinecal/internal/observability"
)

// Metric names
const (
	RateLimitDecisionsTotal = "ratelimit_decisions_total"
	RateLimitTrackedClients = "ratelimit_tracked_clients"
	RateLimitSweptClients   = "ratelimit_swept_clients"

	FeedRendersTotal       = "feed_renders_total"
	FeedRenderDuration     = "feed_render_duration_ms"
	FeedLastSkippedRecords = "feed_last_skipped_records"

	ImportRunsTotal   = "import_runs_total"
	ImportLastRecords = "import_last_records"

	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	ServerStartTime = "app_server_start_time_seconds"
)

// RecordRateLimitDecision counts one admission decision.
func RecordRateLimitDecision(allowed bool) {
	decision := "allow"
	if !allowed {
		decision = "deny"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateLimitDecisionsTotal,
			1,
			map[string]string{"decision": decision},
		)
	}
}

// SetRateLimitClients reports the tracked client count and, after a sweep,
// how many keys the sweep removed.
func SetRateLimitClients(tracked int, swept int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(RateLimitTrackedClients, float64(tracked), nil)
		_ = observability.TelemetrySystem.Gauge(RateLimitSweptClients, float64(swept), nil)
	}
}

// RecordFeedRender records one feed render. status is "ok" or "unavailable".
func RecordFeedRender(feed string, status string, skipped int, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	labels := map[string]string{"feed": feed, "status": status}
	_ = observability.TelemetrySystem.Counter(FeedRendersTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(FeedRenderDuration, duration, labels)
	_ = observability.TelemetrySystem.Gauge(
		FeedLastSkippedRecords,
		float64(skipped),
		map[string]string{"feed": feed},
	)
}

// RecordImport records the outcome of one import run.
func RecordImport(format string, inserted, updated, unchanged, skipped int) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(ImportRunsTotal, 1, map[string]string{"format": format})
	for outcome, count := range map[string]int{
		"inserted":  inserted,
		"updated":   updated,
		"unchanged": unchanged,
		"skipped":   skipped,
	} {
		_ = observability.TelemetrySystem.Gauge(
			ImportLastRecords,
			float64(count),
			map[string]string{"format": format, "outcome": outcome},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(t time.Time) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(t.Unix()),
			nil,
		)
	}
}
