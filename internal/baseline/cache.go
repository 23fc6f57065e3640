package baseline

import (
	"healthloop/domain/core"
	"healthloop/domain/metric"
	"healthloop/internal/cache"
)

type cacheKey struct {
	user   core.UserID
	metric core.MetricKey
	day    core.Day
}

type cached struct {
	baseline    Baseline
	fingerprint core.Hash
}

// Cache memoises baselines per (user, metric, as-of day). An entry is only
// served for the exact series it was computed from, so data arriving later
// in the day forces a recompute.
type Cache struct {
	lru *cache.LRU[cacheKey, cached]
}

// NewCache creates a bounded baseline cache
func NewCache(size int) (*Cache, error) {
	l, err := cache.NewLRU[cacheKey, cached](size, 0)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the baseline computed for this exact series, if cached
func (c *Cache) Get(user core.UserID, m core.MetricKey, day core.Day, series metric.Series) (Baseline, bool) {
	e, ok := c.lru.Get(cacheKey{user, m, day})
	if !ok || e.fingerprint != series.Fingerprint() {
		return Baseline{}, false
	}
	return e.baseline, true
}

// Put stores b together with the series it was estimated from
func (c *Cache) Put(b Baseline, series metric.Series) {
	c.lru.Set(cacheKey{b.UserID, b.MetricKey, b.AsOf}, cached{baseline: b, fingerprint: series.Fingerprint()})
}
