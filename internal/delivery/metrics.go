package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds delivery Prometheus metrics.
type Metrics struct {
	ItemsProcessed *prometheus.CounterVec
	ItemsRearmed   prometheus.Counter
	SendDuration   prometheus.Histogram
}

// NewMetrics registers delivery metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushgarden",
			Subsystem: "delivery",
			Name:      "items_processed_total",
			Help:      "Queue items resolved by the processor, by outcome.",
		}, []string{"outcome"}),
		ItemsRearmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pushgarden",
			Subsystem: "delivery",
			Name:      "items_rearmed_total",
			Help:      "Recurring items re-enqueued after a successful send.",
		}),
		SendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pushgarden",
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Push transport send latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
