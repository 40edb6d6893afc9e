package councilgo

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilgo-dev/councilgo/internal/analyze"
	"github.com/councilgo-dev/councilgo/internal/worker"
	"github.com/councilgo-dev/councilgo/pkg/config"
)

type stubWorker struct{ calls int64 }

func (w *stubWorker) Invoke(ctx context.Context, inv worker.Invocation) (string, error) {
	atomic.AddInt64(&w.calls, 1)
	if strings.Contains(inv.Prompt, "## Leading proposal") {
		return "a review contribution", nil
	}
	return "a stub proposal", nil
}

type stubFactory struct{ w *stubWorker }

func (f *stubFactory) WorkerFor(string) (worker.Worker, error) { return f.w, nil }

func testEngineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.OpenAIKey = ""
	cfg.Cache.Backend = "memory"
	cfg.LogDir = t.TempDir()
	cfg.LearningFile = ""
	cfg.Observability.Enabled = false
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.Cache.Backend = "carrier-pigeon"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestEngineDebate(t *testing.T) {
	factory := &stubFactory{w: &stubWorker{}}
	eng, err := New(testEngineConfig(t), WithWorkerFactory(factory))
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	result, err := eng.Debate(context.Background(), Request{
		Question:   "how should we organize this module",
		ExpertSpec: "claude,codex",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.ElementsMatch(t, []string{"claude", "codex"}, result.ExpertsUsed)
	assert.Contains(t, result.FinalText, "a stub proposal")
	require.NotNil(t, result.Confidence)
	// Without an LLM judge the ranking degrades to the fallback.
	assert.True(t, result.Ranking.Fallback)

	assert.Equal(t, int64(1), eng.CacheStats().Stores)
	assert.Positive(t, atomic.LoadInt64(&factory.w.calls))
}

func TestEngineProgressSink(t *testing.T) {
	var events int64
	eng, err := New(testEngineConfig(t),
		WithWorkerFactory(&stubFactory{w: &stubWorker{}}),
		WithProgress(func(ProgressEvent) { atomic.AddInt64(&events, 1) }),
	)
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	_, err = eng.Debate(context.Background(), Request{
		Question:   "how should we organize this module",
		ExpertSpec: "claude,codex",
	})
	require.NoError(t, err)
	assert.Positive(t, atomic.LoadInt64(&events))
}

func TestEngineExpertsAndCache(t *testing.T) {
	eng, err := New(testEngineConfig(t), WithWorkerFactory(&stubFactory{w: &stubWorker{}}))
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	experts := eng.Experts()
	assert.Len(t, experts, 6)

	_, err = eng.Debate(context.Background(), Request{
		Question:   "how should we organize this module",
		ExpertSpec: "claude,codex",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, eng.ClearCache())
	assert.Equal(t, 0, eng.ClearCache())

	stats := eng.RetryStats()
	assert.Positive(t, stats.Attempts)
}

func TestEngineCachingDisabled(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.Cache.Enabled = false

	eng, err := New(cfg, WithWorkerFactory(&stubFactory{w: &stubWorker{}}))
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	_, err = eng.Debate(context.Background(), Request{
		Question:   "how should we organize this module",
		ExpertSpec: "claude,codex",
	})
	require.NoError(t, err)

	assert.Zero(t, eng.CacheStats().Stores)
	assert.Equal(t, 0, eng.ClearCache())
}

func TestEngineAnalyzerDisabled(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.OpenAIKey = "test-key"
	cfg.OpenAIBase = "http://127.0.0.1:1/v1"
	cfg.Debate.UseAnalyzer = false

	var logs bytes.Buffer
	log.SetOutput(&logs)
	defer log.SetOutput(os.Stderr)

	eng, err := New(cfg, WithWorkerFactory(&stubFactory{w: &stubWorker{}}))
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	result, err := eng.Debate(context.Background(), Request{
		Question: "how should we organize this module",
	})
	require.NoError(t, err)

	require.NotNil(t, result.Analysis)
	assert.Equal(t, analyze.SourceFallback, result.Analysis.Source)
	assert.NotContains(t, logs.String(), "analyzer failed")
}
