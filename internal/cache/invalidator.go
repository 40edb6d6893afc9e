package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/councilgo-dev/councilgo/internal/project"
)

// Invalidation reasons, also used as histogram labels.
const (
	ReasonTimeExpired       = "timeExpired"
	ReasonContextChanged    = "contextChanged"
	ReasonLowConfidence     = "lowConfidence"
	ReasonUserRequested     = "userRequested"
	ReasonProjectChanged    = "projectChanged"
	ReasonDependencyChanged = "dependencyChanged"
)

// InvalidatorConfig tunes the invalidation policy.
type InvalidatorConfig struct {
	// MaxAge expires entries regardless of other signals. Zero disables the
	// time trigger.
	MaxAge time.Duration

	// MinConfidence invalidates entries whose observed confidence fell below
	// the bar. Results below it are considered worth recomputing.
	MinConfidence float64
}

// DefaultInvalidatorConfig expires after 24h and distrusts entries under 0.7
// confidence.
func DefaultInvalidatorConfig() InvalidatorConfig {
	return InvalidatorConfig{
		MaxAge:        24 * time.Hour,
		MinConfidence: 0.7,
	}
}

// LookupContext carries the current request facts the invalidator compares
// an entry against.
type LookupContext struct {
	ProjectFingerprint string
	Workdir            string
	ExpertIDs          []string
	Bypass             bool

	// ManifestMTimeNanos is the current mtime of the workdir's manifest, 0
	// if none was found.
	ManifestMTimeNanos int64
}

// Invalidator decides whether cached entries are still valid and accumulates
// a reason histogram for reporting.
type Invalidator struct {
	config  InvalidatorConfig
	tracker *project.Tracker // optional

	mu        sync.Mutex
	histogram map[string]int64

	// now is replaceable in tests.
	now func() time.Time
}

// NewInvalidator builds an invalidator; tracker may be nil to disable the
// projectChanged trigger.
func NewInvalidator(config InvalidatorConfig, tracker *project.Tracker) *Invalidator {
	return &Invalidator{
		config:    config,
		tracker:   tracker,
		histogram: make(map[string]int64),
		now:       time.Now,
	}
}

// Check returns whether the entry must be invalidated and the triggered
// reasons. All triggers are evaluated so the histogram stays complete.
func (inv *Invalidator) Check(entry *Entry, ctx LookupContext) (bool, []string) {
	var reasons []string

	if ctx.Bypass {
		reasons = append(reasons, ReasonUserRequested)
	}

	if inv.config.MaxAge > 0 && inv.now().Sub(entry.StoredAt) > inv.config.MaxAge {
		reasons = append(reasons, ReasonTimeExpired)
	}

	if contextChanged(entry, ctx) {
		reasons = append(reasons, ReasonContextChanged)
	}

	if entry.ObservedConfidence < inv.config.MinConfidence {
		reasons = append(reasons, ReasonLowConfidence)
	}

	if inv.tracker != nil && ctx.Workdir != "" {
		if changed, _ := inv.tracker.Changed(ctx.Workdir); changed {
			reasons = append(reasons, ReasonProjectChanged)
		}
	}

	if ctx.ManifestMTimeNanos > 0 && entry.ManifestMTimeNanos > 0 &&
		ctx.ManifestMTimeNanos > entry.ManifestMTimeNanos {
		reasons = append(reasons, ReasonDependencyChanged)
	}

	if len(reasons) > 0 {
		inv.record(reasons)
		return true, reasons
	}
	return false, nil
}

// contextChanged compares fingerprint, workdir, and the requested expert set.
func contextChanged(entry *Entry, ctx LookupContext) bool {
	if ctx.ProjectFingerprint != "" && ctx.ProjectFingerprint != entry.ProjectFingerprint {
		return true
	}
	if ctx.Workdir != "" && entry.Result != nil && ctx.Workdir != entry.Result.Workdir {
		return true
	}
	if len(ctx.ExpertIDs) > 0 && entry.Result != nil {
		if !sameIDSet(ctx.ExpertIDs, entry.Result.ExpertsUsed) {
			return true
		}
	}
	return false
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Histogram returns a snapshot of reason counts.
func (inv *Invalidator) Histogram() map[string]int64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make(map[string]int64, len(inv.histogram))
	for k, v := range inv.histogram {
		out[k] = v
	}
	return out
}

func (inv *Invalidator) record(reasons []string) {
	inv.mu.Lock()
	for _, r := range reasons {
		inv.histogram[r]++
	}
	inv.mu.Unlock()
}
