// Package coordinator drives a debate end to end: cache consultation, expert
// selection, the three-round protocol, scoring, and persistence of the
// outcome.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/councilgo-dev/councilgo/internal/analyze"
	"github.com/councilgo-dev/councilgo/internal/cache"
	"github.com/councilgo-dev/councilgo/internal/debate"
	"github.com/councilgo-dev/councilgo/internal/observability"
	"github.com/councilgo-dev/councilgo/internal/retry"
	"github.com/councilgo-dev/councilgo/internal/score"
	"github.com/councilgo-dev/councilgo/internal/selector"
)

// DefaultDeadline bounds one debate when the caller sets none.
const DefaultDeadline = 60 * time.Minute

// ErrEmptyQuestion rejects requests with no question text.
var ErrEmptyQuestion = errors.New("question must not be empty")

// Request is one consensus question.
type Request struct {
	Question string
	Workdir  string

	// ExpertSpec pins the panel directly ("claude:2,gemini"), bypassing the
	// analyzer. Empty means analyze and select.
	ExpertSpec string

	// BypassCache forces a fresh debate and overwrites the cached entry.
	BypassCache bool

	// Deadline bounds the whole debate; zero means DefaultDeadline.
	Deadline time.Duration

	Debate debate.Options
}

// Coordinator owns the shared pieces a debate needs. All fields except
// runner and selector are optional.
type Coordinator struct {
	selector   *selector.Selector
	runner     *debate.Runner
	cache      *cache.Cache  // nil disables caching
	logDir     string        // empty disables debate logs
	learning   *LearningSink // nil disables the learning feed
	retryStats func() retry.Stats
	progress   debate.ProgressSink
}

// Config wires a coordinator.
type Config struct {
	Selector *selector.Selector
	Runner   *debate.Runner
	Cache    *cache.Cache
	LogDir   string
	Learning *LearningSink

	// RetryStats supplies the controller counters embedded in debate logs.
	RetryStats func() retry.Stats

	Progress debate.ProgressSink
}

// New builds a coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		selector:   cfg.Selector,
		runner:     cfg.Runner,
		cache:      cfg.Cache,
		logDir:     cfg.LogDir,
		learning:   cfg.Learning,
		retryStats: cfg.RetryStats,
		progress:   cfg.Progress,
	}
}

// Debate answers one question via the full pipeline. On cache hit the stored
// result is returned directly; a fresh run that fails returns an error and
// caches nothing.
func (c *Coordinator) Debate(ctx context.Context, req Request) (*debate.Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuestion
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ctx, span := observability.StartSpanWithContext(ctx, "councilgo.debate", map[string]any{
		"question_chars": len(req.Question),
		"bypass_cache":   req.BypassCache,
	})
	defer span.End()

	started := time.Now()
	c.emit(debate.ProgressEvent{Phase: debate.PhaseInitializing, Percentage: 0})

	// Selection runs before the cache check because the replica plan is part
	// of the cache identity.
	c.emit(debate.ProgressEvent{Phase: debate.PhaseSelecting, Percentage: 5})
	plan, err := c.selector.Select(ctx, req.Question, req.Workdir, req.ExpertSpec)
	if err != nil {
		err = fmt.Errorf("select experts: %w", err)
		span.SetError(err)
		return nil, c.fail(req, started, err)
	}
	span.SetAttribute("experts", strings.Join(plan.IDs(), ","))
	for _, w := range plan.Warnings {
		log.Printf("coordinator: %s", w)
	}

	fingerprint := cache.Fingerprint(req.Workdir)
	key, err := c.cacheKey(req, plan, fingerprint)
	if err != nil {
		return nil, c.fail(req, started, err)
	}

	if c.cache != nil {
		c.emit(debate.ProgressEvent{Phase: debate.PhaseCacheCheck, Percentage: 10})
		lctx := cache.LookupContext{
			ProjectFingerprint: fingerprint,
			Workdir:            req.Workdir,
			ExpertIDs:          plan.IDs(),
			Bypass:             req.BypassCache,
			ManifestMTimeNanos: manifestMTime(req.Workdir),
		}
		if hit := c.cache.Lookup(key, lctx); hit != nil {
			hit.ResponseTimeMs = time.Since(started).Milliseconds()
			c.cache.ObserveResponse(true, time.Since(started))
			span.SetAttribute("cache_hit", true)
			c.emit(debate.ProgressEvent{Phase: debate.PhaseDone, Percentage: 100, Message: "cache hit"})
			c.writeLog(hit, false)
			return hit, nil
		}
	}

	outcome, err := c.runner.Run(ctx, req.Question, req.Workdir, plan, req.Debate)
	if err != nil {
		err = mapContextError(ctx, err)
		span.SetError(err)
		return nil, c.fail(req, started, err)
	}

	c.emit(debate.ProgressEvent{Phase: debate.PhaseScoring, Percentage: 90})
	confidence := score.Compute(outcome.Ranking, outcome.Verification, len(outcome.Ranking.Scores))
	span.SetAttribute("confidence", confidence.Score)

	result := &debate.Result{
		ID:             uuid.NewString(),
		Question:       req.Question,
		Workdir:        req.Workdir,
		Analysis:       plan.Analysis,
		ExpertsUsed:    plan.IDs(),
		Proposals:      outcome.Proposals,
		Ranking:        outcome.Ranking,
		Improvements:   outcome.Improvements,
		Verification:   outcome.Verification,
		FinalText:      outcome.FinalText,
		Confidence:     confidence,
		ResponseTimeMs: time.Since(started).Milliseconds(),
	}

	if c.cache != nil {
		c.emit(debate.ProgressEvent{Phase: debate.PhaseStoring, Percentage: 95})
		if err := c.cache.Store(key, result, fingerprint, manifestMTime(req.Workdir)); err != nil {
			log.Printf("coordinator: cache store failed: %v", err)
		}
		c.cache.ObserveResponse(false, time.Since(started))
	}

	c.emit(debate.ProgressEvent{Phase: debate.PhaseDone, Percentage: 100})
	c.writeLog(result, false)
	c.record(result, plan.Analysis)
	return result, nil
}

// cacheKey derives the content key for the request and plan.
func (c *Coordinator) cacheKey(req Request, plan *selector.Plan, fingerprint string) (string, error) {
	complexity := string(analyze.LevelMedium)
	category := ""
	if plan.Analysis != nil {
		complexity = string(plan.Analysis.ComplexityLevel())
		category = plan.Analysis.Category
	}
	key, err := cache.Key(cache.KeyInputs{
		Question:           req.Question,
		Category:           category,
		ComplexityLevel:    complexity,
		Workdir:            req.Workdir,
		ExpertReplicaPlan:  plan.ReplicaPlan(),
		UseAnalyzer:        req.ExpertSpec == "",
		ProjectFingerprint: fingerprint,
	})
	if err != nil {
		return "", fmt.Errorf("derive cache key: %w", err)
	}
	return key, nil
}

// fail logs the failed debate and passes the error through.
func (c *Coordinator) fail(req Request, started time.Time, err error) error {
	c.writeLog(&debate.Result{
		Question:       req.Question,
		Workdir:        req.Workdir,
		ResponseTimeMs: time.Since(started).Milliseconds(),
	}, true)
	return err
}

func (c *Coordinator) emit(e debate.ProgressEvent) {
	if c.progress == nil {
		return
	}
	e.Timestamp = time.Now().UnixNano()
	c.progress(e)
}

func (c *Coordinator) record(result *debate.Result, analysis *analyze.Analysis) {
	if c.learning == nil {
		return
	}
	c.learning.Record(result, analysis)
}

// mapContextError gives deadline and cancellation errors a stable shape.
func mapContextError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("debate deadline exceeded: %w", context.DeadlineExceeded)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("debate cancelled: %w", context.Canceled)
	default:
		return err
	}
}
