package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilgo-dev/councilgo/internal/debate"
	"github.com/councilgo-dev/councilgo/internal/score"
)

func testResult(confidence float64) *debate.Result {
	return &debate.Result{
		ID:          "r1",
		Question:    "q",
		Workdir:     "/repo",
		ExpertsUsed: []string{"claude", "codex"},
		FinalText:   "the answer",
		Confidence:  &score.Report{Score: confidence},
	}
}

func newMemoryCache() *Cache {
	return New(DefaultConfig(), NewInvalidator(DefaultInvalidatorConfig(), nil), nil)
}

func TestCacheMissThenHit(t *testing.T) {
	c := newMemoryCache()

	assert.Nil(t, c.Lookup("k1", LookupContext{}))
	require.NoError(t, c.Store("k1", testResult(90), "fp", 0))

	got := c.Lookup("k1", LookupContext{})
	require.NotNil(t, got)
	assert.Equal(t, "the answer", got.FinalText)
	assert.True(t, got.FromCache)
	assert.False(t, got.CachedAt.IsZero())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Stores)
	assert.Equal(t, 0.5, stats.HitRate())
	assert.Positive(t, stats.TokensSaved)
	assert.InDelta(t, float64(stats.TokensSaved)*DefaultCostPerToken, stats.CostSaved, 1e-12)
}

func TestCacheHitReturnsIsolatedCopy(t *testing.T) {
	c := newMemoryCache()
	require.NoError(t, c.Store("k1", testResult(90), "fp", 0))

	first := c.Lookup("k1", LookupContext{})
	require.NotNil(t, first)
	first.FinalText = "mutated"
	first.ExpertsUsed[0] = "mutated"

	second := c.Lookup("k1", LookupContext{})
	require.NotNil(t, second)
	assert.Equal(t, "the answer", second.FinalText)
	assert.Equal(t, "claude", second.ExpertsUsed[0])
}

func TestCacheLowConfidenceInvalidated(t *testing.T) {
	c := newMemoryCache()
	require.NoError(t, c.Store("k1", testResult(50), "fp", 0)) // 0.5 < 0.7 bar

	assert.Nil(t, c.Lookup("k1", LookupContext{}))
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Invalidations)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Hits)
}

func TestCacheBypassInvalidates(t *testing.T) {
	c := newMemoryCache()
	require.NoError(t, c.Store("k1", testResult(90), "fp", 0))

	assert.Nil(t, c.Lookup("k1", LookupContext{Bypass: true}))
	// The bypass removed the entry, a second normal lookup misses.
	assert.Nil(t, c.Lookup("k1", LookupContext{}))
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	c := New(cfg, NewInvalidator(DefaultInvalidatorConfig(), nil), nil)

	require.NoError(t, c.Store("first", testResult(90), "fp", 0))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Store("second", testResult(90), "fp", 0))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, c.Store("third", testResult(90), "fp", 0))

	assert.Equal(t, 2, c.Len())
	assert.Nil(t, c.Lookup("first", LookupContext{}))
	assert.NotNil(t, c.Lookup("second", LookupContext{}))
	assert.NotNil(t, c.Lookup("third", LookupContext{}))
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCacheStoreSameKeyDoesNotEvict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 1
	c := New(cfg, NewInvalidator(DefaultInvalidatorConfig(), nil), nil)

	require.NoError(t, c.Store("k", testResult(90), "fp", 0))
	require.NoError(t, c.Store("k", testResult(95), "fp", 0))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(0), c.Stats().Evictions)
}

func TestCacheClear(t *testing.T) {
	c := newMemoryCache()
	require.NoError(t, c.Store("a", testResult(90), "fp", 0))
	require.NoError(t, c.Store("b", testResult(90), "fp", 0))

	assert.Equal(t, 2, c.Clear())
	assert.Equal(t, 0, c.Len())
}

func TestCacheSweepRemovesExpired(t *testing.T) {
	inv := NewInvalidator(InvalidatorConfig{MaxAge: time.Hour, MinConfidence: 0}, nil)
	c := New(DefaultConfig(), inv, nil)

	require.NoError(t, c.Store("fresh", testResult(90), "fp", 0))
	require.NoError(t, c.Store("old", testResult(90), "fp", 0))

	// Age only the "old" entry by moving the clock for the check.
	c.mu.Lock()
	c.entries["old"].StoredAt = time.Now().Add(-2 * time.Hour)
	c.mu.Unlock()

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.NotNil(t, c.Lookup("fresh", LookupContext{}))
}

func TestCacheObserveResponse(t *testing.T) {
	c := newMemoryCache()

	c.ObserveResponse(true, 100*time.Millisecond)
	c.ObserveResponse(true, 200*time.Millisecond)
	c.ObserveResponse(false, 10*time.Second)

	stats := c.Stats()
	assert.InDelta(t, 150, stats.AvgHitResponseMs, 1e-9)
	assert.InDelta(t, 10000, stats.AvgFreshResponseMs, 1e-9)
}

func TestCacheBackendFallthrough(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	writer := New(DefaultConfig(), NewInvalidator(DefaultInvalidatorConfig(), nil), backend)
	require.NoError(t, writer.Store("k1", testResult(90), "fp", 0))

	// A fresh cache sharing the backend warms itself from disk.
	reader := New(DefaultConfig(), NewInvalidator(DefaultInvalidatorConfig(), nil), backend)
	got := reader.Lookup("k1", LookupContext{})
	require.NotNil(t, got)
	assert.Equal(t, "the answer", got.FinalText)
	assert.Equal(t, int64(1), reader.Stats().Hits)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(0), estimateTokens(0))
	assert.Equal(t, int64(1), estimateTokens(1))
	assert.Equal(t, int64(1), estimateTokens(4))
	assert.Equal(t, int64(2), estimateTokens(5))
	assert.Equal(t, int64(250), estimateTokens(1000))
}

func freshEntry() *Entry {
	return &Entry{
		Key:                "k",
		Result:             testResult(90),
		StoredAt:           time.Now(),
		ProjectFingerprint: "fp",
		ObservedConfidence: 0.9,
		ManifestMTimeNanos: 100,
	}
}

func TestInvalidatorFreshEntryValid(t *testing.T) {
	inv := NewInvalidator(DefaultInvalidatorConfig(), nil)

	stale, reasons := inv.Check(freshEntry(), LookupContext{
		ProjectFingerprint: "fp",
		Workdir:            "/repo",
		ExpertIDs:          []string{"codex", "claude"}, // order must not matter
		ManifestMTimeNanos: 100,
	})
	assert.False(t, stale)
	assert.Empty(t, reasons)
	assert.Empty(t, inv.Histogram())
}

func TestInvalidatorReasons(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *Entry, lctx *LookupContext)
		want   string
	}{
		{"bypass", func(e *Entry, l *LookupContext) {
			l.Bypass = true
		}, ReasonUserRequested},
		{"time expired", func(e *Entry, l *LookupContext) {
			e.StoredAt = time.Now().Add(-25 * time.Hour)
		}, ReasonTimeExpired},
		{"fingerprint changed", func(e *Entry, l *LookupContext) {
			l.ProjectFingerprint = "other"
		}, ReasonContextChanged},
		{"workdir changed", func(e *Entry, l *LookupContext) {
			l.Workdir = "/elsewhere"
		}, ReasonContextChanged},
		{"expert set changed", func(e *Entry, l *LookupContext) {
			l.ExpertIDs = []string{"claude", "gemini"}
		}, ReasonContextChanged},
		{"low confidence", func(e *Entry, l *LookupContext) {
			e.ObservedConfidence = 0.4
		}, ReasonLowConfidence},
		{"manifest newer", func(e *Entry, l *LookupContext) {
			l.ManifestMTimeNanos = 200
		}, ReasonDependencyChanged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := NewInvalidator(DefaultInvalidatorConfig(), nil)
			entry := freshEntry()
			lctx := LookupContext{
				ProjectFingerprint: "fp",
				Workdir:            "/repo",
				ExpertIDs:          []string{"claude", "codex"},
				ManifestMTimeNanos: 100,
			}
			tt.mutate(entry, &lctx)

			stale, reasons := inv.Check(entry, lctx)
			assert.True(t, stale)
			assert.Contains(t, reasons, tt.want)
			assert.Equal(t, int64(1), inv.Histogram()[tt.want])
		})
	}
}

func TestInvalidatorCollectsAllReasons(t *testing.T) {
	inv := NewInvalidator(DefaultInvalidatorConfig(), nil)
	entry := freshEntry()
	entry.StoredAt = time.Now().Add(-48 * time.Hour)
	entry.ObservedConfidence = 0.1

	stale, reasons := inv.Check(entry, LookupContext{Bypass: true})
	assert.True(t, stale)
	assert.ElementsMatch(t, []string{ReasonUserRequested, ReasonTimeExpired, ReasonLowConfidence}, reasons)
}

func TestInvalidatorZeroMaxAgeDisablesTimeTrigger(t *testing.T) {
	inv := NewInvalidator(InvalidatorConfig{MaxAge: 0, MinConfidence: 0}, nil)
	entry := freshEntry()
	entry.StoredAt = time.Now().Add(-1000 * time.Hour)

	stale, _ := inv.Check(entry, LookupContext{})
	assert.False(t, stale)
}

func TestInvalidatorReplaceableClock(t *testing.T) {
	inv := NewInvalidator(DefaultInvalidatorConfig(), nil)
	inv.now = func() time.Time { return time.Now().Add(30 * time.Hour) }

	stale, reasons := inv.Check(freshEntry(), LookupContext{})
	assert.True(t, stale)
	assert.Contains(t, reasons, ReasonTimeExpired)
}
