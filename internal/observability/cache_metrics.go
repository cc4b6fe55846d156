package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics tracks the busy-interval cache and session store evictions.
type CacheMetrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
}

var (
	defaultCacheMetrics     *CacheMetrics
	defaultCacheMetricsOnce sync.Once
)

// NewCacheMetrics returns the process-wide recorder on the default registry.
func NewCacheMetrics() *CacheMetrics {
	defaultCacheMetricsOnce.Do(func() {
		defaultCacheMetrics = newCacheMetrics(prometheus.DefaultRegisterer)
	})
	return defaultCacheMetrics
}

// NewCacheMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewCacheMetricsWithRegisterer(reg prometheus.Registerer) *CacheMetrics {
	return newCacheMetrics(reg)
}

func newCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &CacheMetrics{
		hits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartsched",
			Subsystem: "cache",
			Name:      "hit_total",
			Help:      "Cache hits by cache name",
		}, []string{"cache"}),
		misses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartsched",
			Subsystem: "cache",
			Name:      "miss_total",
			Help:      "Cache misses by cache name",
		}, []string{"cache"}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartsched",
			Subsystem: "cache",
			Name:      "eviction_total",
			Help:      "Entries evicted by size or idle timeout",
		}, []string{"cache"}),
	}
}

// RecordHit increments the hit counter for cache.
func (m *CacheMetrics) RecordHit(cache string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(cache).Inc()
}

// RecordMiss increments the miss counter for cache.
func (m *CacheMetrics) RecordMiss(cache string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(cache).Inc()
}

// RecordEviction increments the eviction counter for cache.
func (m *CacheMetrics) RecordEviction(cache string) {
	if m == nil {
		return
	}
	m.evictions.WithLabelValues(cache).Inc()
}
