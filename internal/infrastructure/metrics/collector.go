package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/sugi/pkg/cache"
	"github.com/asakaida/sugi/pkg/cache/memorycache"
)

// Collector collects and aggregates metrics for the authorization engine.
type Collector struct {
	// Decision metrics
	decisions    sync.Map // map[string]*uint64 - outcome -> count
	policyErrors uint64   // policies that errored during evaluation

	// Operation metrics
	opRequests sync.Map // map[string]*uint64 - operation -> count
	opErrors   sync.Map // map[string]*uint64 - operation -> error count
	opDuration sync.Map // map[string]*durationValue - operation -> total duration in seconds

	// Cache reference (optional, for querying cache-specific metrics)
	cache cache.Cache
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	Evictions   uint64
}

// EngineMetrics holds decision and operation metrics.
type EngineMetrics struct {
	DecisionCounts       map[string]uint64
	PolicyErrors         uint64
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache cache.Cache) {
	c.cache = cache
}

// RecordDecision records one authorization decision by outcome.
func (c *Collector) RecordDecision(outcome string) {
	counter := c.getOrCreateCounter(&c.decisions, outcome)
	atomic.AddUint64(counter, 1)
}

// RecordPolicyError records one policy that errored during evaluation.
func (c *Collector) RecordPolicyError() {
	atomic.AddUint64(&c.policyErrors, 1)
}

// RecordRequest records one engine operation call.
func (c *Collector) RecordRequest(operation string) {
	counter := c.getOrCreateCounter(&c.opRequests, operation)
	atomic.AddUint64(counter, 1)
}

// RecordError records one failed engine operation call.
func (c *Collector) RecordError(operation string) {
	counter := c.getOrCreateCounter(&c.opErrors, operation)
	atomic.AddUint64(counter, 1)
}

// RecordDuration records the duration of an operation in seconds.
func (c *Collector) RecordDuration(operation string, durationSeconds float64) {
	val, _ := c.opDuration.LoadOrStore(operation, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	result := &CacheMetrics{
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		HitRate:   metrics.HitRate(),
		Evictions: metrics.KeysEvicted,
	}

	if memCache, ok := c.cache.(*memorycache.Cache); ok {
		result.KeysCurrent = int64(memCache.Len())
	}

	return result
}

// GetEngineMetrics returns current decision and operation metrics.
func (c *Collector) GetEngineMetrics() *EngineMetrics {
	result := &EngineMetrics{
		DecisionCounts:       make(map[string]uint64),
		PolicyErrors:         atomic.LoadUint64(&c.policyErrors),
		RequestCounts:        make(map[string]uint64),
		ErrorCounts:          make(map[string]uint64),
		TotalDurationSeconds: make(map[string]float64),
	}

	c.decisions.Range(func(key, value interface{}) bool {
		result.DecisionCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	c.opRequests.Range(func(key, value interface{}) bool {
		result.RequestCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	c.opErrors.Range(func(key, value interface{}) bool {
		result.ErrorCounts[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})

	c.opDuration.Range(func(key, value interface{}) bool {
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[key.(string)] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	return result
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}
