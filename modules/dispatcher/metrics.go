package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usher",
		Subsystem: "dispatcher",
		Name:      "dispatches_total",
		Help:      "Dispatch attempts by outcome.",
	}, []string{"outcome"})

	metricDispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                   "usher",
		Subsystem:                   "dispatcher",
		Name:                        "dispatch_duration_seconds",
		Help:                        "Time from loading a request to its committed assignment.",
		NativeHistogramBucketFactor: 1.1,
	})

	metricCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                   "usher",
		Subsystem:                   "dispatcher",
		Name:                        "candidates_per_dispatch",
		Help:                        "Quota-available users considered per dispatch.",
		Buckets:                     prometheus.ExponentialBuckets(1, 2, 10),
		NativeHistogramBucketFactor: 1.1,
	})

	metricLogWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "usher",
		Subsystem: "dispatcher",
		Name:      "audit_log_write_failures_total",
		Help:      "Committed dispatches whose audit log insert failed.",
	})
)

// Dispatch outcomes. already_assigned counts duplicate deliveries of a
// request that was committed before, making redeliveries observable.
const (
	outcomeDispatched      = "dispatched"
	outcomeAlreadyAssigned = "already_assigned"
	outcomeNoCandidates    = "no_candidates"
	outcomeNotFound        = "not_found"
)
