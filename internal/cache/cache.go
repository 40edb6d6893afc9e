package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/councilgo-dev/councilgo/internal/debate"
)

// DefaultCostPerToken is the blended per-token price estimate used for
// cost-saved reporting.
const DefaultCostPerToken = 0.000002

// DefaultMaxEntries bounds the in-memory store.
const DefaultMaxEntries = 1000

// Entry is one cached debate outcome plus the bookkeeping the invalidator
// and stats need.
type Entry struct {
	Key                string         `json:"key"`
	Result             *debate.Result `json:"result"`
	StoredAt           time.Time      `json:"stored_at"`
	ProjectFingerprint string         `json:"project_fingerprint"`
	ObservedConfidence float64        `json:"observed_confidence"` // 0..1
	EstimatedTokens    int64          `json:"estimated_tokens"`
	EstimatedCost      float64        `json:"estimated_cost"`
	ManifestMTimeNanos int64          `json:"manifest_mtime_nanos,omitempty"`
}

// Stats is the cache's cumulative activity counters.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Stores        int64 `json:"stores"`
	Invalidations int64 `json:"invalidations"`
	Evictions     int64 `json:"evictions"`

	TokensSaved int64   `json:"tokens_saved"`
	CostSaved   float64 `json:"cost_saved"`

	// Mean response times, cache hits versus fresh debates, for the
	// time-saved report.
	AvgHitResponseMs   float64 `json:"avg_hit_response_ms"`
	AvgFreshResponseMs float64 `json:"avg_fresh_response_ms"`

	hitCount   int64
	freshCount int64
}

// HitRate is hits over total lookups, 0 when idle.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Backend persists entries beyond process lifetime. Implementations are the
// file store and the redis store; both are optional.
type Backend interface {
	Load(key string) (*Entry, error)
	Save(entry *Entry) error
	Delete(key string) error
	Keys() ([]string, error)
	Close() error
}

// Config tunes the cache.
type Config struct {
	MaxEntries   int
	CostPerToken float64
	Invalidator  InvalidatorConfig
}

// DefaultConfig returns the standard cache tuning.
func DefaultConfig() Config {
	return Config{
		MaxEntries:   DefaultMaxEntries,
		CostPerToken: DefaultCostPerToken,
		Invalidator:  DefaultInvalidatorConfig(),
	}
}

// Cache is the in-memory result store with LRU-by-age eviction, an optional
// persistence backend, and policy-driven invalidation.
type Cache struct {
	config      Config
	invalidator *Invalidator
	backend     Backend // optional

	mu      sync.Mutex
	entries map[string]*Entry
	stats   Stats
}

// New builds a cache. invalidator must not be nil; backend may be nil for
// memory-only operation.
func New(config Config, invalidator *Invalidator, backend Backend) *Cache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if config.CostPerToken <= 0 {
		config.CostPerToken = DefaultCostPerToken
	}
	return &Cache{
		config:      config,
		invalidator: invalidator,
		backend:     backend,
		entries:     make(map[string]*Entry),
	}
}

// Lookup returns a deep copy of the cached result for key, or nil on a miss.
// The copy is marked FromCache with the original store time. Entries the
// invalidator rejects are removed and counted as misses.
func (c *Cache) Lookup(key string, lctx LookupContext) *debate.Result {
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()

	if !ok && c.backend != nil {
		loaded, err := c.backend.Load(key)
		if err == nil && loaded != nil {
			c.mu.Lock()
			c.entries[key] = loaded
			c.mu.Unlock()
			entry, ok = loaded, true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !ok {
		c.stats.Misses++
		return nil
	}

	if stale, _ := c.invalidator.Check(entry, lctx); stale {
		delete(c.entries, key)
		if c.backend != nil {
			_ = c.backend.Delete(key)
		}
		c.stats.Invalidations++
		c.stats.Misses++
		return nil
	}

	c.stats.Hits++
	c.stats.TokensSaved += entry.EstimatedTokens
	c.stats.CostSaved += entry.EstimatedCost

	result := entry.Result.Clone()
	result.FromCache = true
	result.CachedAt = entry.StoredAt
	return result
}

// Store records a completed debate under key. Token and cost estimates come
// from the serialized result size; eviction drops the oldest entry first.
func (c *Cache) Store(key string, result *debate.Result, fingerprint string, manifestMTime int64) error {
	if result == nil {
		return fmt.Errorf("cache: nil result for key %s", key)
	}

	serialized, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache: serialize result: %w", err)
	}
	tokens := estimateTokens(len(serialized))

	confidence := 0.0
	if result.Confidence != nil {
		confidence = result.Confidence.Score / 100
	}

	entry := &Entry{
		Key:                key,
		Result:             result.Clone(),
		StoredAt:           time.Now(),
		ProjectFingerprint: fingerprint,
		ObservedConfidence: confidence,
		EstimatedTokens:    tokens,
		EstimatedCost:      float64(tokens) * c.config.CostPerToken,
		ManifestMTimeNanos: manifestMTime,
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry
	c.stats.Stores++
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.Save(entry); err != nil {
			return fmt.Errorf("cache: persist entry: %w", err)
		}
	}
	return nil
}

// Invalidate removes one key. Returns whether it was present.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
		c.stats.Invalidations++
	}
	c.mu.Unlock()

	if c.backend != nil {
		_ = c.backend.Delete(key)
	}
	return ok
}

// Clear drops every entry.
func (c *Cache) Clear() int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*Entry)
	c.stats.Invalidations += int64(n)
	c.mu.Unlock()

	if c.backend != nil {
		if keys, err := c.backend.Keys(); err == nil {
			for _, k := range keys {
				_ = c.backend.Delete(k)
			}
		}
	}
	return n
}

// Sweep applies the invalidator to every resident entry and removes the
// stale ones. Returns the number removed; the sweeper runs this on a cron.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if stale, _ := c.invalidator.Check(entry, LookupContext{}); stale {
			delete(c.entries, key)
			if c.backend != nil {
				_ = c.backend.Delete(key)
			}
			removed++
		}
	}
	c.stats.Invalidations += int64(removed)
	return removed
}

// ObserveResponse feeds a completed request's latency into the hit/fresh
// running averages.
func (c *Cache) ObserveResponse(fromCache bool, elapsed time.Duration) {
	ms := float64(elapsed.Milliseconds())
	c.mu.Lock()
	defer c.mu.Unlock()
	if fromCache {
		c.stats.hitCount++
		c.stats.AvgHitResponseMs += (ms - c.stats.AvgHitResponseMs) / float64(c.stats.hitCount)
	} else {
		c.stats.freshCount++
		c.stats.AvgFreshResponseMs += (ms - c.stats.AvgFreshResponseMs) / float64(c.stats.freshCount)
	}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len reports the resident entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestLocked drops the entry with the smallest StoredAt.
func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, entry := range c.entries {
		if oldestKey == "" || entry.StoredAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.StoredAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		if c.backend != nil {
			_ = c.backend.Delete(oldestKey)
		}
		c.stats.Evictions++
	}
}

// estimateTokens approximates the token count of a serialized result at four
// bytes per token, rounding up.
func estimateTokens(byteLen int) int64 {
	return int64((byteLen + 3) / 4)
}
