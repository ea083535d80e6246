package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/scopedfs/pkg/metrics"
)

// Collectors are registered once per process; later constructor calls
// return the same instance.
var (
	transferOnce     sync.Once
	transferInstance *transferMetrics

	grantOnce     sync.Once
	grantInstance *grantMetrics
)

// transferMetrics is the Prometheus implementation of metrics.TransferMetrics.
type transferMetrics struct {
	transfersTotal    *prometheus.CounterVec
	transfersInFlight *prometheus.GaugeVec
	filesTotal        *prometheus.CounterVec
	bytesTotal        *prometheus.CounterVec
	duration          *prometheus.HistogramVec
	conflictsTotal    *prometheus.CounterVec
	fastRenamesTotal  *prometheus.CounterVec
}

// NewTransferMetrics creates a Prometheus-backed TransferMetrics.
//
// Returns a no-op implementation if metrics are not enabled.
func NewTransferMetrics() metrics.TransferMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopTransferMetrics()
	}

	transferOnce.Do(func() {
		reg := metrics.GetRegistry()
		transferInstance = &transferMetrics{
			transfersTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "scopedfs_transfers_total",
					Help: "Total number of finished transfers by operation and outcome",
				},
				[]string{"op", "outcome"},
			),
			transfersInFlight: promauto.With(reg).NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "scopedfs_transfers_in_flight",
					Help: "Current number of running transfers",
				},
				[]string{"op"},
			),
			filesTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "scopedfs_transfer_files_total",
					Help: "Total number of files transferred",
				},
				[]string{"op"},
			),
			bytesTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "scopedfs_transfer_bytes_total",
					Help: "Total number of bytes streamed by transfers",
				},
				[]string{"op"},
			),
			duration: promauto.With(reg).NewHistogramVec(
				prometheus.HistogramOpts{
					Name: "scopedfs_transfer_duration_seconds",
					Help: "Duration of transfers in seconds",
					Buckets: []float64{
						0.01, // 10ms
						0.1,  // 100ms
						1,    // 1s
						10,   // 10s
						60,   // 1m
						600,  // 10m
					},
				},
				[]string{"op"},
			),
			conflictsTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "scopedfs_transfer_conflicts_total",
					Help: "Total number of conflicts deferred to the caller",
				},
				[]string{"op", "scope"},
			),
			fastRenamesTotal: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "scopedfs_transfer_fast_renames_total",
					Help: "Total number of transfers completed by an in-place rename",
				},
				[]string{"op"},
			),
		}
	})
	return transferInstance
}

func (m *transferMetrics) RecordTransferStart(op string) {
	m.transfersInFlight.WithLabelValues(op).Inc()
}

func (m *transferMetrics) RecordTransferEnd(op, outcome string, files int, bytes int64, duration time.Duration) {
	m.transfersInFlight.WithLabelValues(op).Dec()
	m.transfersTotal.WithLabelValues(op, outcome).Inc()
	m.filesTotal.WithLabelValues(op).Add(float64(files))
	m.bytesTotal.WithLabelValues(op).Add(float64(bytes))
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *transferMetrics) RecordConflicts(op, scope string, count int) {
	m.conflictsTotal.WithLabelValues(op, scope).Add(float64(count))
}

func (m *transferMetrics) RecordFastRename(op string) {
	m.fastRenamesTotal.WithLabelValues(op).Inc()
}

// grantMetrics is the Prometheus implementation of metrics.GrantMetrics.
type grantMetrics struct {
	sweepsTotal    prometheus.Counter
	releasedTotal  prometheus.Counter
	failedTotal    prometheus.Counter
	sweepDuration  prometheus.Histogram
	grantsHeld     prometheus.Gauge
	accessRequests *prometheus.CounterVec
}

// NewGrantMetrics creates a Prometheus-backed GrantMetrics.
//
// Returns a no-op implementation if metrics are not enabled.
func NewGrantMetrics() metrics.GrantMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopGrantMetrics()
	}

	grantOnce.Do(func() {
		reg := metrics.GetRegistry()
		grantInstance = &grantMetrics{
			sweepsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "scopedfs_grant_sweeps_total",
				Help: "Total number of redundant-grant sweeps",
			}),
			releasedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "scopedfs_grants_released_total",
				Help: "Total number of redundant grants released",
			}),
			failedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "scopedfs_grant_release_failures_total",
				Help: "Total number of grants that failed to release",
			}),
			sweepDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
				Name:    "scopedfs_grant_sweep_duration_seconds",
				Help:    "Duration of redundant-grant sweeps in seconds",
				Buckets: prometheus.DefBuckets,
			}),
			grantsHeld: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
				Name: "scopedfs_grants_held",
				Help: "Number of document-tree grants currently held",
			}),
			accessRequests: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "scopedfs_access_requests_total",
					Help: "Total number of explicit access requests by outcome",
				},
				[]string{"outcome"},
			),
		}
	})
	return grantInstance
}

func (m *grantMetrics) RecordSweep(released, failed int, duration time.Duration) {
	m.sweepsTotal.Inc()
	m.releasedTotal.Add(float64(released))
	m.failedTotal.Add(float64(failed))
	m.sweepDuration.Observe(duration.Seconds())
}

func (m *grantMetrics) SetGrantCount(count int) {
	m.grantsHeld.Set(float64(count))
}

func (m *grantMetrics) RecordAccessRequest(outcome string) {
	m.accessRequests.WithLabelValues(outcome).Inc()
}
