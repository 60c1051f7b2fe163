package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations by type and outcome.",
	}, []string{"type", "outcome"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_seconds",
		Help:    "Ledger operation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	conflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_conflict_retries_total",
		Help: "Unit-of-work retries after a concurrency conflict.",
	})
)

func ObserveOperation(opType, outcome string, d time.Duration) {
	operations.WithLabelValues(opType, outcome).Inc()
	opDuration.WithLabelValues(opType).Observe(d.Seconds())
}

func ConflictRetry() { conflictRetries.Inc() }
