package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
	"smartsched/internal/observability"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 30 * time.Second

	cacheName = "calendar_busy"
)

// CacheConfig configures the busy-interval cache.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// Cached memoizes busy reads per range and collapses concurrent identical
// reads into one call. Any successful write purges the cache.
type Cached struct {
	inner   negotiation.Calendar
	cache   *expirable.LRU[string, []scheduling.BusyInterval]
	group   singleflight.Group
	metrics *observability.CacheMetrics
}

// NewCached wraps inner. metrics may be nil.
func NewCached(inner negotiation.Calendar, cfg CacheConfig, metrics *observability.CacheMetrics) *Cached {
	if cfg.Size <= 0 {
		cfg.Size = defaultCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	c := &Cached{inner: inner, metrics: metrics}
	c.cache = expirable.NewLRU[string, []scheduling.BusyInterval](cfg.Size, func(string, []scheduling.BusyInterval) {
		c.metrics.RecordEviction(cacheName)
	}, cfg.TTL)
	return c
}

func rangeKey(from, to time.Time) string {
	return fmt.Sprintf("%d:%d", from.UnixNano(), to.UnixNano())
}

// BusyIntervals serves from cache when possible.
func (c *Cached) BusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	key := rangeKey(from, to)
	if busy, ok := c.cache.Get(key); ok {
		c.metrics.RecordHit(cacheName)
		return cloneBusy(busy), nil
	}
	c.metrics.RecordMiss(cacheName)

	value, err, _ := c.group.Do(key, func() (any, error) {
		busy, err := c.inner.BusyIntervals(ctx, from, to)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, busy)
		return busy, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneBusy(value.([]scheduling.BusyInterval)), nil
}

// CreateEvent writes through and invalidates cached reads.
func (c *Cached) CreateEvent(ctx context.Context, window scheduling.CandidateWindow, meta negotiation.EventMetadata) (string, error) {
	id, err := c.inner.CreateEvent(ctx, window, meta)
	if err != nil {
		return "", err
	}
	c.cache.Purge()
	return id, nil
}

// Len reports the number of cached ranges.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func cloneBusy(busy []scheduling.BusyInterval) []scheduling.BusyInterval {
	if busy == nil {
		return nil
	}
	out := make([]scheduling.BusyInterval, len(busy))
	copy(out, busy)
	return out
}

var _ negotiation.Calendar = (*Cached)(nil)
