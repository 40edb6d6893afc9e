// Package councilgo orchestrates a panel of CLI AI assistants through a
// structured debate and returns a synthesized answer with a 0-100 confidence
// score.
package councilgo

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/councilgo-dev/councilgo/internal/analyze"
	"github.com/councilgo-dev/councilgo/internal/cache"
	"github.com/councilgo-dev/councilgo/internal/coordinator"
	"github.com/councilgo-dev/councilgo/internal/debate"
	"github.com/councilgo-dev/councilgo/internal/evaluate"
	"github.com/councilgo-dev/councilgo/internal/expert"
	"github.com/councilgo-dev/councilgo/internal/project"
	"github.com/councilgo-dev/councilgo/internal/retry"
	"github.com/councilgo-dev/councilgo/internal/runner"
	"github.com/councilgo-dev/councilgo/internal/selector"
	"github.com/councilgo-dev/councilgo/internal/verify"
	"github.com/councilgo-dev/councilgo/internal/worker"
	"github.com/councilgo-dev/councilgo/pkg/config"
	"github.com/councilgo-dev/councilgo/pkg/observability"
)

// defaultCommands maps catalog expert ids to the CLI command each one runs
// when the config does not override it.
var defaultCommands = map[string]string{
	"claude":   "claude",
	"codex":    "codex",
	"gemini":   "gemini",
	"qwen":     "qwen",
	"aider":    "aider",
	"opencode": "opencode",
}

// Request is one consensus question. It mirrors coordinator.Request so
// callers only import this package.
type Request = coordinator.Request

// Result is the debate outcome.
type Result = debate.Result

// ProgressEvent reports pipeline progress.
type ProgressEvent = debate.ProgressEvent

// Engine is the top-level facade: it owns the expert registry, the worker
// pool, the cache, and the debate coordinator. Construct it once and share it;
// all methods are safe for concurrent use.
type Engine struct {
	cfg         *config.Config
	registry    *expert.Registry
	coordinator *coordinator.Coordinator
	cache       *cache.Cache
	sweeper     *cache.Sweeper
	backend     cache.Backend
	controller  *retry.Controller
	obsServer   *observability.Server
	active      int64
}

// Option customizes engine construction.
type Option func(*engineOptions)

type engineOptions struct {
	progress debate.ProgressSink
	factory  worker.Factory
}

// WithProgress registers a sink for progress events.
func WithProgress(sink debate.ProgressSink) Option {
	return func(o *engineOptions) { o.progress = sink }
}

// WithWorkerFactory replaces the subprocess workers, primarily for tests.
func WithWorkerFactory(f worker.Factory) Option {
	return func(o *engineOptions) { o.factory = f }
}

// New assembles an engine from configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var eo engineOptions
	for _, opt := range opts {
		opt(&eo)
	}

	registry := expert.DefaultRegistry()

	factory := eo.factory
	if factory == nil {
		factory = buildSubprocessFactory(cfg, registry)
	}

	policy := retry.Policy{
		MaxRetries:        cfg.Retry.MaxAttempts,
		InitialDelay:      time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		BackoffMultiplier: cfg.Retry.Multiplier,
		JitterFraction:    cfg.Retry.JitterFraction,
	}
	var observer func(retry.Event)
	if cfg.Observability.Enabled {
		observer = func(e retry.Event) {
			if e.Type == "retry" {
				observability.RecordRetry(string(e.Kind))
			}
		}
	}
	controller := retry.NewController(observer)

	var analyzer analyze.Analyzer
	var evaluator evaluate.Evaluator
	if cfg.OpenAIKey != "" {
		if cfg.Debate.UseAnalyzer {
			analyzer = analyze.NewOpenAIAnalyzer(cfg.OpenAIKey, cfg.OpenAIBase, cfg.AnalyzerModel)
		}
		evaluator = evaluate.NewOpenAIEvaluator(cfg.OpenAIKey, cfg.OpenAIBase, cfg.JudgeModel)
	}

	instances := runner.New(factory, controller, policy)
	verifier := verify.New(registry, factory, controller, policy)
	debateRunner := debate.NewRunner(registry, instances, evaluator, verifier, eo.progress)
	sel := selector.New(registry, analyzer)

	resultCache, backend, sweeper, err := buildCache(cfg)
	if err != nil {
		return nil, err
	}

	var learning *coordinator.LearningSink
	if cfg.LearningFile != "" {
		learning, err = coordinator.NewLearningSink(cfg.LearningFile)
		if err != nil {
			return nil, fmt.Errorf("open learning sink: %w", err)
		}
	}

	coord := coordinator.New(coordinator.Config{
		Selector:   sel,
		Runner:     debateRunner,
		Cache:      resultCache,
		LogDir:     cfg.LogDir,
		Learning:   learning,
		RetryStats: controller.Stats,
		Progress:   eo.progress,
	})

	eng := &Engine{
		cfg:         cfg,
		registry:    registry,
		coordinator: coord,
		cache:       resultCache,
		sweeper:     sweeper,
		backend:     backend,
		controller:  controller,
	}

	if cfg.Observability.Enabled {
		observability.InitMetrics()
		registerHealthChecks(cfg, registry, backend)
		eng.obsServer = observability.NewServer(cfg.Observability.Addr)
		go func() { _ = eng.obsServer.Start() }()
	}
	if sweeper != nil {
		sweeper.Start()
	}

	return eng, nil
}

// Debate answers one question through the full pipeline.
func (e *Engine) Debate(ctx context.Context, req Request) (*Result, error) {
	if req.Deadline <= 0 {
		req.Deadline = e.cfg.Deadline()
	}

	var tokensBefore int64
	if e.cfg.Observability.Enabled {
		observability.SetActiveDebates(int(atomic.AddInt64(&e.active, 1)))
		observability.SetGoroutines(runtime.NumGoroutine())
		if e.cache != nil {
			tokensBefore = e.cache.Stats().TokensSaved
		}
	}

	started := time.Now()
	result, err := e.coordinator.Debate(ctx, req)

	if e.cfg.Observability.Enabled {
		observability.SetActiveDebates(int(atomic.AddInt64(&e.active, -1)))

		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case result.FromCache:
			outcome = "cache-hit"
		}
		observability.RecordDebate(outcome, time.Since(started))
		if err == nil && result.Confidence != nil {
			observability.RecordConfidence(result.Confidence.Score)
		}
		if err == nil && e.cache != nil {
			if result.FromCache {
				observability.RecordCacheLookup("hit")
				observability.AddCacheTokensSaved(e.cache.Stats().TokensSaved - tokensBefore)
			} else {
				observability.RecordCacheLookup("miss")
			}
		}
	}
	return result, err
}

// Experts lists the expert catalog.
func (e *Engine) Experts() []*expert.Descriptor {
	return e.registry.All()
}

// CacheStats reports cache activity; the zero value when caching is off.
func (e *Engine) CacheStats() cache.Stats {
	if e.cache == nil {
		return cache.Stats{}
	}
	return e.cache.Stats()
}

// ClearCache drops every cached result and returns the removed count.
func (e *Engine) ClearCache() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Clear()
}

// RetryStats reports retry activity across all expert invocations.
func (e *Engine) RetryStats() retry.Stats {
	return e.controller.Stats()
}

// Close releases background resources.
func (e *Engine) Close() error {
	if e.sweeper != nil {
		e.sweeper.Stop()
	}
	if e.obsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.obsServer.Shutdown(ctx)
	}
	if e.backend != nil {
		return e.backend.Close()
	}
	return nil
}

// buildSubprocessFactory wires one worker per catalog expert, gated by the
// shared concurrency limit. A command of the form "openai:<model>" routes the
// expert through the chat API instead of a subprocess.
func buildSubprocessFactory(cfg *config.Config, registry *expert.Registry) worker.Factory {
	gate := worker.NewGate(int64(cfg.Worker.MaxConcurrent), cfg.Worker.RequestsPerSec)

	overrides := make(map[string]worker.Worker)
	for _, desc := range registry.All() {
		command := resolveCommand(cfg, desc.ID)

		var w worker.Worker
		if model, ok := strings.CutPrefix(command, "openai:"); ok {
			w = worker.NewOpenAIWorker(cfg.OpenAIKey, cfg.OpenAIBase, model)
		} else {
			w = worker.NewSubprocessWorker(command)
		}
		w = &worker.Gated{Worker: w, Gate: gate}
		if cfg.Observability.Enabled {
			w = &instrumentedWorker{id: desc.ID, next: w}
		}
		overrides[desc.ID] = w
	}

	return &worker.StaticFactory{Overrides: overrides}
}

// resolveCommand picks the CLI command (or "openai:<model>" route) for an
// expert, preferring the config override.
func resolveCommand(cfg *config.Config, expertID string) string {
	if c, ok := cfg.ExpertCommands[expertID]; ok && c != "" {
		return c
	}
	if c, ok := defaultCommands[expertID]; ok {
		return c
	}
	return expertID
}

// instrumentedWorker records invocation counts and durations around the
// wrapped worker.
type instrumentedWorker struct {
	id   string
	next worker.Worker
}

func (w *instrumentedWorker) Invoke(ctx context.Context, inv worker.Invocation) (string, error) {
	start := time.Now()
	out, err := w.next.Invoke(ctx, inv)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordExpertInvocation(w.id, status, time.Since(start))
	return out, err
}

// registerHealthChecks adds per-expert command probes and a backend ping to
// the global health checker.
func registerHealthChecks(cfg *config.Config, registry *expert.Registry, backend cache.Backend) {
	checker := observability.InitHealthChecker()
	for _, desc := range registry.All() {
		command := resolveCommand(cfg, desc.ID)
		if strings.HasPrefix(command, "openai:") {
			continue
		}
		checker.RegisterCheck(observability.ExpertCheck(desc.ID, command))
	}
	if pinger, ok := backend.(interface{ Ping(context.Context) error }); ok {
		checker.RegisterCheck(observability.CacheBackendCheck(pinger.Ping))
	}
}

// buildCache assembles the cache stack configured by cfg; all three return
// values are nil when caching is disabled.
func buildCache(cfg *config.Config) (*cache.Cache, cache.Backend, *cache.Sweeper, error) {
	if !cfg.Cache.Enabled {
		return nil, nil, nil, nil
	}

	var backend cache.Backend
	var err error
	switch cfg.Cache.Backend {
	case "file":
		backend, err = cache.NewFileBackend(cfg.Cache.FileDir)
	case "redis":
		backend, err = cache.NewRedisBackend(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			EntryTTL: time.Duration(cfg.Cache.Redis.TTLHours) * time.Hour,
		})
	case "memory":
		// memory-only, no backend
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build cache backend: %w", err)
	}

	invalidator := cache.NewInvalidator(cache.InvalidatorConfig{
		MaxAge:        time.Duration(cfg.Cache.MaxAgeHours) * time.Hour,
		MinConfidence: cfg.Cache.MinConfidence,
	}, project.NewTracker())

	resultCache := cache.New(cache.Config{
		MaxEntries:   cfg.Cache.MaxEntries,
		CostPerToken: cfg.Cache.CostPerToken,
	}, invalidator, backend)

	sweeper, err := cache.NewSweeper(resultCache, cfg.Cache.SweepSchedule)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("schedule cache sweep: %w", err)
	}

	return resultCache, backend, sweeper, nil
}
