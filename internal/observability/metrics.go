package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"

	"github.com/deadlinecal/deadlinecal/internal/config"
)

var (
	// TelemetrySystem is the global telemetry system. Nil disables metric
	// emission everywhere.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts the Prometheus exporter and the telemetry system. A
// disabled configuration leaves TelemetrySystem nil. Port 0 picks a free
// port; GetMetricsPort reports the one bound.
func InitMetrics(namespace string, cfg config.MetricsConfig) error {
	if !cfg.Enabled {
		TelemetrySystem = nil
		PrometheusExporter = nil
		metricsPort = 0
		return nil
	}

	requested := cfg.Port
	if requested < 0 {
		requested = 0
	}
	metricsPort = requested

	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", requested))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter: %w", err)
	}

	if actual, err := resolvePort(exporter.GetAddr()); err == nil {
		metricsPort = actual
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: exporter,
	})
	if err != nil {
		return fmt.Errorf("create telemetry system: %w", err)
	}

	PrometheusExporter = exporter
	TelemetrySystem = sys
	return nil
}

// GetMetricsPort returns the port the Prometheus exporter is listening on,
// or 0 when metrics are disabled.
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
