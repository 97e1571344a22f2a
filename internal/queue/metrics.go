package queue

import (
	"context"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds queue-level Prometheus metrics.
type Metrics struct {
	ItemsEnqueued *prometheus.CounterVec
	ItemsPurged   prometheus.Counter
	QueueSize     *prometheus.GaugeVec
}

// NewMetrics registers queue metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ItemsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pushgarden",
			Subsystem: "queue",
			Name:      "items_enqueued_total",
			Help:      "Queue items created, by category.",
		}, []string{"category"}),
		ItemsPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pushgarden",
			Subsystem: "queue",
			Name:      "items_purged_total",
			Help:      "Terminal queue items removed by retention cleanup.",
		}),
		QueueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pushgarden",
			Subsystem: "queue",
			Name:      "size",
			Help:      "Current number of queue items, by status.",
		}, []string{"status"}),
	}
}

// RecordStats publishes queue sizes to the size gauge.
func (m *Metrics) RecordStats(stats *Stats) {
	m.QueueSize.WithLabelValues(string(domain.QueueStatusPending)).Set(float64(stats.Pending))
	m.QueueSize.WithLabelValues(string(domain.QueueStatusSent)).Set(float64(stats.Sent))
	m.QueueSize.WithLabelValues(string(domain.QueueStatusFailed)).Set(float64(stats.Failed))
	m.QueueSize.WithLabelValues(string(domain.QueueStatusSkipped)).Set(float64(stats.Skipped))
}

// defaultStatsInterval backstops a zero or negative configured interval,
// which time.NewTicker would reject.
const defaultStatsInterval = 15 * time.Second

// CollectStats refreshes the queue size gauge on an interval until the
// context is cancelled.
func (s *Service) CollectStats(ctx context.Context, interval time.Duration) {
	if s.metrics == nil {
		return
	}
	if interval <= 0 {
		interval = defaultStatsInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.repo.CountByStatus(ctx)
			if err != nil {
				ctxlog.FromContext(ctx).ErrorContext(ctx, "failed to collect queue stats", "error", err)
				continue
			}
			s.metrics.RecordStats(stats)
		}
	}
}
