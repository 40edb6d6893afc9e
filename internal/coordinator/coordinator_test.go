package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilgo-dev/councilgo/internal/analyze"
	"github.com/councilgo-dev/councilgo/internal/cache"
	"github.com/councilgo-dev/councilgo/internal/debate"
	"github.com/councilgo-dev/councilgo/internal/evaluate"
	"github.com/councilgo-dev/councilgo/internal/expert"
	"github.com/councilgo-dev/councilgo/internal/retry"
	"github.com/councilgo-dev/councilgo/internal/runner"
	"github.com/councilgo-dev/councilgo/internal/selector"
	"github.com/councilgo-dev/councilgo/internal/worker"
)

// countingWorker answers every prompt with a canned text and counts calls.
type countingWorker struct {
	calls int64
	reply func(prompt string) (string, error)
}

func (w *countingWorker) Invoke(ctx context.Context, inv worker.Invocation) (string, error) {
	atomic.AddInt64(&w.calls, 1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return w.reply(inv.Prompt)
}

type oneWorkerFactory struct{ w worker.Worker }

func (f oneWorkerFactory) WorkerFor(string) (worker.Worker, error) { return f.w, nil }

type testHarness struct {
	coordinator *Coordinator
	cache       *cache.Cache
	worker      *countingWorker
	logDir      string
	learnFile   string
	workdir     string
}

func newHarness(t *testing.T, reply func(prompt string) (string, error)) *testHarness {
	t.Helper()

	w := &countingWorker{reply: reply}
	factory := oneWorkerFactory{w: w}
	controller := retry.NewController(nil)
	policy := retry.Policy{}

	registry := expert.DefaultRegistry()
	instances := runner.New(factory, controller, policy)
	evaluator := evaluate.EvaluatorFunc(func(ctx context.Context, question string, proposals map[string]string) (*evaluate.Ranking, error) {
		scores := make(map[string]float64, len(proposals))
		best := ""
		for id := range proposals {
			scores[id] = 80
			if best == "" || id < best {
				best = id
			}
		}
		scores[best] = 90
		return &evaluate.Ranking{Best: best, Scores: scores}, nil
	})
	debateRunner := debate.NewRunner(registry, instances, evaluator, nil, nil)

	store := cache.New(cache.DefaultConfig(), cache.NewInvalidator(cache.DefaultInvalidatorConfig(), nil), nil)

	logDir := t.TempDir()
	learnFile := filepath.Join(t.TempDir(), "learning.jsonl")
	learning, err := NewLearningSink(learnFile)
	require.NoError(t, err)

	workdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "go.mod"), []byte("module example\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "main.go"), []byte("package main\n"), 0o644))

	coord := New(Config{
		Selector:   selector.New(registry, nil),
		Runner:     debateRunner,
		Cache:      store,
		LogDir:     logDir,
		Learning:   learning,
		RetryStats: controller.Stats,
	})

	return &testHarness{
		coordinator: coord,
		cache:       store,
		worker:      w,
		logDir:      logDir,
		learnFile:   learnFile,
		workdir:     workdir,
	}
}

func plainReply(prompt string) (string, error) {
	if strings.Contains(prompt, "## Leading proposal") {
		return "an improvement", nil
	}
	return "a proposal of reasonable length", nil
}

func TestDebateEmptyQuestion(t *testing.T) {
	h := newHarness(t, plainReply)

	_, err := h.coordinator.Debate(context.Background(), Request{Question: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestDebateFullPipeline(t *testing.T) {
	h := newHarness(t, plainReply)

	result, err := h.coordinator.Debate(context.Background(), Request{
		Question:   "how should we split this service",
		Workdir:    h.workdir,
		ExpertSpec: "claude,codex",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "how should we split this service", result.Question)
	assert.ElementsMatch(t, []string{"claude", "codex"}, result.ExpertsUsed)
	assert.Len(t, result.Proposals, 2)
	require.NotNil(t, result.Ranking)
	assert.Equal(t, "claude", result.Ranking.Best)
	assert.Contains(t, result.FinalText, "a proposal of reasonable length")
	require.NotNil(t, result.Confidence)
	assert.Greater(t, result.Confidence.Score, 0.0)
	assert.False(t, result.FromCache)

	// One debate log on disk.
	entries, err := os.ReadDir(h.logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "debate_"))

	var logged struct {
		Failed     bool           `json:"failed"`
		Result     *debate.Result `json:"result"`
		RetryStats *retry.Stats   `json:"retry_stats"`
	}
	data, err := os.ReadFile(filepath.Join(h.logDir, entries[0].Name()))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &logged))
	assert.False(t, logged.Failed)
	assert.Equal(t, result.ID, logged.Result.ID)
	require.NotNil(t, logged.RetryStats)
	assert.Positive(t, logged.RetryStats.Attempts)

	// One learning record appended.
	file, err := os.Open(h.learnFile)
	require.NoError(t, err)
	defer file.Close()
	scanner := bufio.NewScanner(file)
	require.True(t, scanner.Scan())
	var rec map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, "how should we split this service", rec["question"])
	assert.Equal(t, "claude", rec["best_expert"])
	assert.False(t, scanner.Scan())

	assert.Equal(t, int64(1), h.cache.Stats().Stores)
}

func TestDebateCacheHit(t *testing.T) {
	h := newHarness(t, plainReply)
	req := Request{
		Question:   "how should we split this service",
		Workdir:    h.workdir,
		ExpertSpec: "claude,codex",
	}

	first, err := h.coordinator.Debate(context.Background(), req)
	require.NoError(t, err)
	callsAfterFirst := atomic.LoadInt64(&h.worker.calls)

	second, err := h.coordinator.Debate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.False(t, second.CachedAt.IsZero())
	assert.Equal(t, first.FinalText, second.FinalText)
	// No expert was invoked for the cached answer.
	assert.Equal(t, callsAfterFirst, atomic.LoadInt64(&h.worker.calls))
	assert.Equal(t, int64(1), h.cache.Stats().Hits)
}

func TestDebateCacheBypass(t *testing.T) {
	h := newHarness(t, plainReply)
	req := Request{
		Question:   "how should we split this service",
		Workdir:    h.workdir,
		ExpertSpec: "claude,codex",
	}

	_, err := h.coordinator.Debate(context.Background(), req)
	require.NoError(t, err)
	callsAfterFirst := atomic.LoadInt64(&h.worker.calls)

	req.BypassCache = true
	fresh, err := h.coordinator.Debate(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, fresh.FromCache)
	assert.Greater(t, atomic.LoadInt64(&h.worker.calls), callsAfterFirst)
}

func TestDebateQuestionChangesKey(t *testing.T) {
	h := newHarness(t, plainReply)

	_, err := h.coordinator.Debate(context.Background(), Request{
		Question: "question one", Workdir: h.workdir, ExpertSpec: "claude,codex",
	})
	require.NoError(t, err)

	second, err := h.coordinator.Debate(context.Background(), Request{
		Question: "question two", Workdir: h.workdir, ExpertSpec: "claude,codex",
	})
	require.NoError(t, err)
	assert.False(t, second.FromCache)
	assert.Equal(t, int64(2), h.cache.Stats().Stores)
}

func TestDebateFailureNotCached(t *testing.T) {
	h := newHarness(t, func(prompt string) (string, error) {
		return "", errors.New("400 bad request")
	})

	_, err := h.coordinator.Debate(context.Background(), Request{
		Question:   "doomed question",
		Workdir:    h.workdir,
		ExpertSpec: "claude,codex",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, debate.ErrInsufficientExperts)

	assert.Equal(t, int64(0), h.cache.Stats().Stores)

	// The failure is logged with the failed marker.
	entries, readErr := os.ReadDir(h.logDir)
	require.NoError(t, readErr)
	require.Len(t, entries, 1)
	data, readErr := os.ReadFile(filepath.Join(h.logDir, entries[0].Name()))
	require.NoError(t, readErr)
	var logged struct {
		Failed bool `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(data, &logged))
	assert.True(t, logged.Failed)

	// No learning record for a failed debate.
	_, statErr := os.Stat(h.learnFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDebateDeadlineExceeded(t *testing.T) {
	h := newHarness(t, func(string) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	})

	_, err := h.coordinator.Debate(context.Background(), Request{
		Question:   "slow question",
		Workdir:    h.workdir,
		ExpertSpec: "claude,codex",
		Deadline:   30 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestDebateAllUnknownExpertsFallsBackToAnalysis(t *testing.T) {
	h := newHarness(t, plainReply)

	result, err := h.coordinator.Debate(context.Background(), Request{
		Question:   "how should we split this service",
		Workdir:    h.workdir,
		ExpertSpec: "bogus1,bogus2",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ExpertsUsed)
	require.NotNil(t, result.Analysis)
	assert.Equal(t, analyze.SourceFallback, result.Analysis.Source)
}

func TestDebateInvalidExpertSpec(t *testing.T) {
	h := newHarness(t, plainReply)

	_, err := h.coordinator.Debate(context.Background(), Request{
		Question:   "q",
		Workdir:    h.workdir,
		ExpertSpec: "claude:notanumber",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "select experts")
}

func TestDebateProgressPhases(t *testing.T) {
	var phases []debate.Phase
	h := newHarness(t, plainReply)
	h.coordinator.progress = func(e debate.ProgressEvent) { phases = append(phases, e.Phase) }

	_, err := h.coordinator.Debate(context.Background(), Request{
		Question:   "q",
		Workdir:    h.workdir,
		ExpertSpec: "claude,codex",
	})
	require.NoError(t, err)

	assert.Equal(t, debate.PhaseInitializing, phases[0])
	assert.Contains(t, phases, debate.PhaseSelecting)
	assert.Contains(t, phases, debate.PhaseCacheCheck)
	assert.Contains(t, phases, debate.PhaseScoring)
	assert.Contains(t, phases, debate.PhaseStoring)
	assert.Equal(t, debate.PhaseDone, phases[len(phases)-1])
}
