package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usher",
		Subsystem: "queue",
		Name:      "tasks_processed_total",
		Help:      "Dispatch tasks consumed from the queue by outcome.",
	}, []string{"outcome"})

	metricTaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "usher",
		Subsystem: "queue",
		Name:      "task_retries_total",
		Help:      "In-process retries of failing dispatch tasks.",
	})

	metricTaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace:                   "usher",
		Subsystem:                   "queue",
		Name:                        "task_duration_seconds",
		Help:                        "Time spent handling one dispatch task, including retries.",
		NativeHistogramBucketFactor: 1.1,
	})
)

const (
	outcomeSuccess   = "success"
	outcomeAbandoned = "abandoned"
	outcomeMalformed = "malformed"
)
