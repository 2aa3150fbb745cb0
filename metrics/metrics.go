package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "group_coordinator"

var objectives = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

var (
	PurgatoryPendingCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(namespace, "purgatory", "pending_count")},
	)
	PurgatoryWatchedCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(namespace, "purgatory", "watched_count")},
	)
	PurgatoryExpiredCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "purgatory", "expired_total")},
	)
	PurgatoryCompletedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "purgatory", "completed_total")},
	)
)
