package config

import (
	"github.com/marmos91/scopedfs/pkg/metrics"
	promMetrics "github.com/marmos91/scopedfs/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// TransferMetrics records copy and move outcomes (never nil, uses noop if disabled)
	TransferMetrics metrics.TransferMetrics

	// GrantMetrics records sweeps and access requests (never nil, uses noop if disabled)
	GrantMetrics metrics.GrantMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			Server:          nil,
			TransferMetrics: metrics.NewNoopTransferMetrics(),
			GrantMetrics:    metrics.NewNoopGrantMetrics(),
		}
	}

	// Initialize global Prometheus registry
	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	return &MetricsResult{
		Server:          server,
		TransferMetrics: promMetrics.NewTransferMetrics(),
		GrantMetrics:    promMetrics.NewGrantMetrics(),
	}
}
