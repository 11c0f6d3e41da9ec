// Package metrics exposes Prometheus instrumentation for the control plane.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts finished operations by kind and terminal status.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackpilot_operations_total",
		Help: "Finished lifecycle operations by kind and status",
	}, []string{"kind", "status"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stackpilot_operation_duration_seconds",
		Help:    "Lifecycle operation duration from start to terminal state",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"kind"})

	OperationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stackpilot_operations_in_flight",
		Help: "Operations accepted but not yet terminal",
	})

	// ConflictsTotal counts requests rejected because a lock was held.
	ConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackpilot_lock_conflicts_total",
		Help: "Operations rejected because the service or stack lock was held",
	}, []string{"kind"})

	AuthAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackpilot_auth_attempts_total",
		Help: "Admin credential checks by result",
	}, []string{"result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stackpilot_sessions_active",
		Help: "Sessions currently held in memory, including revoked tombstones",
	})

	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackpilot_backups_total",
		Help: "Backup creations by result",
	}, []string{"result"})

	BackupBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stackpilot_backup_size_bytes",
		Help:    "Size of created backup archives",
		Buckets: prometheus.ExponentialBuckets(1<<20, 4, 10),
	})

	BackupsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stackpilot_backups_pruned_total",
		Help: "Backup records removed by retention",
	})

	// AccessDeniedTotal counts requests refused by the host or CIDR guards.
	AccessDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackpilot_http_access_denied_total",
		Help: "Requests refused by the host or address allow lists",
	}, []string{"reason"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackpilot_http_rate_limited_total",
		Help: "Requests rejected by the per client rate limiter",
	}, []string{"path"})

	SlotSwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackpilot_slot_switches_total",
		Help: "Slot switch attempts by result",
	}, []string{"result"})
)

// ObserveOperation records a terminal operation.
func ObserveOperation(kind, status string, started time.Time) {
	OperationsTotal.WithLabelValues(kind, status).Inc()
	if !started.IsZero() {
		OperationDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	}
}

// Result maps an error to a "success"/"failure" label.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
