package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Registry = prometheus.NewRegistry()

	opCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "MetaDB",
			Name:      "op_total",
			Help:      "metadata operations by name and result",
		},
		[]string{"op", "result"},
	)

	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "MetaDB",
			Name:      "op_duration_seconds",
			Help:      "metadata operation latency by name",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"op"},
	)
)

func init() {
	Registry.MustRegister(
		opCounter,
		opDuration,
	)
}

// Report records one finished operation.
func Report(op string, err error, start time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	opCounter.WithLabelValues(op, result).Inc()
	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
