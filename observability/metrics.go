package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	coordinatorMetricsOnce sync.Once
	coordinatorRegistry    *CoordinatorMetrics
)

// CoordinatorMetrics wraps the collectors describing read-model health,
// transaction lifecycle outcomes and wallet reconciliation.
type CoordinatorMetrics struct {
	reads           *prometheus.CounterVec
	readLatency     *prometheus.HistogramVec
	submissions     *prometheus.CounterVec
	confirmLatency  *prometheus.HistogramVec
	pending         prometheus.Gauge
	reconciliations *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	connections     *prometheus.CounterVec
}

// Coordinator returns the lazily-initialised metrics registry shared by every
// coordinator in the process.
func Coordinator() *CoordinatorMetrics {
	coordinatorMetricsOnce.Do(func() {
		coordinatorRegistry = &CoordinatorMetrics{
			reads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votingsync",
				Subsystem: "readmodel",
				Name:      "loads_total",
				Help:      "Read-model loads segmented by entity and outcome.",
			}, []string{"entity", "outcome"}),
			readLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "votingsync",
				Subsystem: "readmodel",
				Name:      "load_duration_seconds",
				Help:      "Latency distribution for contract reads.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"entity"}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votingsync",
				Subsystem: "tx",
				Name:      "submissions_total",
				Help:      "Contract writes segmented by operation and final outcome.",
			}, []string{"operation", "outcome"}),
			confirmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "votingsync",
				Subsystem: "tx",
				Name:      "confirmation_seconds",
				Help:      "Time from submission until the receipt was observed.",
				Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
			}, []string{"operation"}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "votingsync",
				Subsystem: "tx",
				Name:      "pending",
				Help:      "Transactions awaiting a receipt.",
			}),
			reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votingsync",
				Subsystem: "wallet",
				Name:      "reconciliations_total",
				Help:      "Reconciliations triggered by wallet events segmented by trigger and outcome.",
			}, []string{"trigger", "outcome"}),
			notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votingsync",
				Subsystem: "notify",
				Name:      "notifications_total",
				Help:      "User-visible notifications segmented by kind.",
			}, []string{"kind"}),
			connections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votingsync",
				Subsystem: "wallet",
				Name:      "connect_attempts_total",
				Help:      "Wallet connection attempts segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			coordinatorRegistry.reads,
			coordinatorRegistry.readLatency,
			coordinatorRegistry.submissions,
			coordinatorRegistry.confirmLatency,
			coordinatorRegistry.pending,
			coordinatorRegistry.reconciliations,
			coordinatorRegistry.notifications,
			coordinatorRegistry.connections,
		)
	})
	return coordinatorRegistry
}

// ObserveRead records the outcome of a read-model load. Outcomes should be
// stable strings such as "success", "error", "stale" or "unavailable".
func (m *CoordinatorMetrics) ObserveRead(entity, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	entity = label(entity)
	m.reads.WithLabelValues(entity, label(outcome)).Inc()
	m.readLatency.WithLabelValues(entity).Observe(duration.Seconds())
}

// RecordSubmission increments the write counter for the operation.
func (m *CoordinatorMetrics) RecordSubmission(operation, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(label(operation), label(outcome)).Inc()
}

// ObserveConfirmation records how long a receipt took to arrive.
func (m *CoordinatorMetrics) ObserveConfirmation(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.confirmLatency.WithLabelValues(label(operation)).Observe(duration.Seconds())
}

// SetPending publishes the number of in-flight transactions.
func (m *CoordinatorMetrics) SetPending(count int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(count))
}

// RecordReconciliation increments the reconciliation counter.
func (m *CoordinatorMetrics) RecordReconciliation(trigger, outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(label(trigger), label(outcome)).Inc()
}

// RecordNotification increments the notification counter for the kind.
func (m *CoordinatorMetrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(label(kind)).Inc()
}

// RecordConnect increments the connection attempt counter.
func (m *CoordinatorMetrics) RecordConnect(outcome string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(label(outcome)).Inc()
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
