package offline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_offline_fetch_total",
			Help: "Intercepted fetches by outcome",
		},
		[]string{"outcome"},
	)

	lifecycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_offline_lifecycle_total",
			Help: "Install and activate events by result",
		},
		[]string{"event", "result"},
	)

	partitionsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilience_offline_partitions_deleted_total",
			Help: "Stale cache partitions deleted on activation",
		},
	)

	dynamicEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilience_offline_dynamic_evictions_total",
			Help: "Entries evicted from the dynamic partition to honor its size bound",
		},
	)

	syncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_offline_sync_total",
			Help: "Background sync events by tag and result",
		},
		[]string{"tag", "result"},
	)

	pushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_offline_push_total",
			Help: "Push messages by result",
		},
		[]string{"result"},
	)

	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_offline_queue_length",
			Help: "Writes waiting for background sync by queue",
		},
		[]string{"queue"},
	)

	activeVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_offline_active_version",
			Help: "Set to 1 for the version currently controlling requests",
		},
		[]string{"version"},
	)
)
