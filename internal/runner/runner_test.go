package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilgo-dev/councilgo/internal/expert"
	"github.com/councilgo-dev/councilgo/internal/retry"
	"github.com/councilgo-dev/councilgo/internal/worker"
)

// scriptedWorker answers replica invocations by instance index and lets the
// synthesis invocation be scripted separately.
type scriptedWorker struct {
	mu        sync.Mutex
	replies   map[int]string // instance index -> text ("" means fail)
	synthesis string
	synthErr  error
	prompts   []string
}

func (w *scriptedWorker) Invoke(ctx context.Context, inv worker.Invocation) (string, error) {
	w.mu.Lock()
	w.prompts = append(w.prompts, inv.Prompt)
	w.mu.Unlock()

	if inv.Instance != nil && inv.Instance.FocusLabel == expert.FocusSynthesizer {
		return w.synthesis, w.synthErr
	}
	idx := 0
	if inv.Instance != nil {
		idx = inv.Instance.InstanceIndex
	}
	text, ok := w.replies[idx]
	if !ok || text == "" {
		return "", errors.New("400 invalid request")
	}
	return text, nil
}

type singleFactory struct{ w worker.Worker }

func (f singleFactory) WorkerFor(string) (worker.Worker, error) { return f.w, nil }

func noRetryPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 0}
}

func newTestRunner(w worker.Worker) *Runner {
	return New(singleFactory{w: w}, retry.NewController(nil), noRetryPolicy())
}

func echoPrompt(spec expert.InstanceSpec) string { return spec.FocusLabel }

func mustDescriptor(t *testing.T, id string) *expert.Descriptor {
	t.Helper()
	d, err := expert.DefaultRegistry().Get(id)
	require.NoError(t, err)
	return d
}

func TestRunSingleReplica(t *testing.T) {
	w := &scriptedWorker{replies: map[int]string{1: "the answer"}}
	r := newTestRunner(w)
	desc := mustDescriptor(t, "claude")

	p, err := r.Run(context.Background(), desc, expert.BuildInstances("claude", 1), "", echoPrompt)
	require.NoError(t, err)

	assert.Equal(t, OriginSingle, p.Origin)
	assert.Equal(t, "the answer", p.Text)
	assert.Equal(t, "claude", p.ExpertID)
	assert.Equal(t, 1, p.ReplicaCount)
	assert.False(t, p.Failed())
}

func TestRunSynthesizesMultipleReplicas(t *testing.T) {
	w := &scriptedWorker{
		replies:   map[int]string{1: "draft one", 2: "draft two", 3: "draft three"},
		synthesis: "merged answer",
	}
	r := newTestRunner(w)
	desc := mustDescriptor(t, "codex")

	p, err := r.Run(context.Background(), desc, expert.BuildInstances("codex", 3), "", echoPrompt)
	require.NoError(t, err)

	assert.Equal(t, OriginSynthesized, p.Origin)
	assert.Equal(t, "merged answer", p.Text)
	assert.Equal(t, 3, p.ReplicaCount)

	// The last invocation is the merge; drafts appear in replica order.
	last := w.prompts[len(w.prompts)-1]
	one := strings.Index(last, "draft one")
	two := strings.Index(last, "draft two")
	three := strings.Index(last, "draft three")
	require.NotEqual(t, -1, one)
	assert.Less(t, one, two)
	assert.Less(t, two, three)
}

func TestRunOneSurvivorSkipsSynthesis(t *testing.T) {
	w := &scriptedWorker{replies: map[int]string{2: "only survivor"}}
	r := newTestRunner(w)
	desc := mustDescriptor(t, "gemini")

	p, err := r.Run(context.Background(), desc, expert.BuildInstances("gemini", 3), "", echoPrompt)
	require.NoError(t, err)

	assert.Equal(t, OriginSingle, p.Origin)
	assert.Equal(t, "only survivor", p.Text)
	// Two replica failures, one success, no synthesis call.
	assert.Len(t, w.prompts, 3)
}

func TestRunSynthesisFailureFallsBackToLongest(t *testing.T) {
	w := &scriptedWorker{
		replies:  map[int]string{1: "short", 2: "the considerably longer draft"},
		synthErr: errors.New("503 service unavailable"),
	}
	r := newTestRunner(w)
	desc := mustDescriptor(t, "qwen")

	p, err := r.Run(context.Background(), desc, expert.BuildInstances("qwen", 2), "", echoPrompt)
	require.NoError(t, err)

	assert.Equal(t, OriginFallbackLongest, p.Origin)
	assert.Equal(t, "the considerably longer draft", p.Text)
}

func TestRunAllReplicasFailed(t *testing.T) {
	w := &scriptedWorker{replies: map[int]string{}}
	r := newTestRunner(w)
	desc := mustDescriptor(t, "aider")

	p, err := r.Run(context.Background(), desc, expert.BuildInstances("aider", 3), "", echoPrompt)
	require.NoError(t, err)

	assert.Equal(t, OriginFailed, p.Origin)
	assert.True(t, p.Failed())
	assert.Empty(t, p.Text)
}

func TestRunNoSpecs(t *testing.T) {
	r := newTestRunner(&scriptedWorker{})
	desc := mustDescriptor(t, "claude")

	_, err := r.Run(context.Background(), desc, nil, "", echoPrompt)
	assert.Error(t, err)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &scriptedWorker{replies: map[int]string{1: "x"}}
	r := newTestRunner(w)
	desc := mustDescriptor(t, "claude")

	_, err := r.Run(ctx, desc, expert.BuildInstances("claude", 2), "", echoPrompt)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSynthesisPromptTruncatesDrafts(t *testing.T) {
	desc := mustDescriptor(t, "claude")
	long := strings.Repeat("x", SummaryLimit+500)

	prompt := SynthesisPrompt(desc, []string{long, "tiny"})

	assert.Contains(t, prompt, desc.DisplayName)
	assert.Contains(t, prompt, "## Draft 1")
	assert.Contains(t, prompt, "## Draft 2")
	assert.Contains(t, prompt, strings.Repeat("x", SummaryLimit)+"…")
	assert.NotContains(t, prompt, strings.Repeat("x", SummaryLimit+1))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "abcde", Truncate("abcde", 5))
	assert.Equal(t, "abcde…", Truncate("abcdef", 5))

	// Code points, not bytes.
	assert.Equal(t, "héllo", Truncate("héllo", 5))
	assert.Equal(t, "héll…", Truncate("héllow", 4))
}
