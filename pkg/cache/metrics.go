package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks Get calls that returned a valid entry.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_cache_hits_total",
			Help: "Total number of TTL cache hits",
		},
		[]string{"cache"},
	)

	// CacheMisses tracks Get calls that found nothing valid.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_cache_misses_total",
			Help: "Total number of TTL cache misses",
		},
		[]string{"cache"},
	)

	// CacheEvictions tracks expired entries removed on read.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_cache_evictions_total",
			Help: "Total number of expired entries lazily evicted on read",
		},
		[]string{"cache"},
	)
)
