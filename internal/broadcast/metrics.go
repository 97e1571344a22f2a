package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds broadcast Prometheus metrics.
type Metrics struct {
	BroadcastsCreated   prometheus.Counter
	BroadcastsCompleted prometheus.Counter
	BroadcastsCancelled prometheus.Counter
	BroadcastsFailed    prometheus.Counter
	ItemsExpanded       prometheus.Counter
}

// NewMetrics registers broadcast metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pushgarden",
			Subsystem: "broadcast",
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		BroadcastsCreated:   counter("created_total", "Broadcasts accepted for fan-out."),
		BroadcastsCompleted: counter("completed_total", "Broadcasts whose audience is fully expanded."),
		BroadcastsCancelled: counter("cancelled_total", "Broadcasts cancelled before completion."),
		BroadcastsFailed:    counter("failed_total", "Broadcasts rejected during expansion."),
		ItemsExpanded:       counter("items_expanded_total", "Queue items created by fan-out."),
	}
}
