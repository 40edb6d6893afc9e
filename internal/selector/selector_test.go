package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilgo-dev/councilgo/internal/analyze"
	"github.com/councilgo-dev/councilgo/internal/expert"
)

func newSelector(analyzer analyze.Analyzer) *Selector {
	return New(expert.DefaultRegistry(), analyzer)
}

func TestSelectDirectSpec(t *testing.T) {
	s := newSelector(nil)

	plan, err := s.Select(context.Background(), "q", "", "claude:2,gemini")
	require.NoError(t, err)

	assert.Equal(t, []string{"claude", "gemini"}, plan.IDs())
	assert.Equal(t, map[string]int{"claude": 2, "gemini": 1}, plan.ReplicaPlan())
	assert.Equal(t, analyze.SourceUserDirect, plan.Analysis.Source)
}

func TestSelectDirectMergesDuplicates(t *testing.T) {
	s := newSelector(nil)

	plan, err := s.Select(context.Background(), "q", "", "codex:1,codex:2")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"codex": 3}, plan.ReplicaPlan())
}

func TestSelectDirectSkipsUnknownWithWarning(t *testing.T) {
	s := newSelector(nil)

	plan, err := s.Select(context.Background(), "q", "", "claude,notreal:2")
	require.NoError(t, err)
	assert.Equal(t, []string{"claude"}, plan.IDs())
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "notreal")
}

func TestSelectDirectAllUnknownFallsBackToAnalysis(t *testing.T) {
	s := newSelector(nil)

	plan, err := s.Select(context.Background(), "refactor the auth module for production", "", "bogus1,bogus2")
	require.NoError(t, err)

	assert.NotEmpty(t, plan.Experts)
	assert.Equal(t, analyze.SourceFallback, plan.Analysis.Source)
	require.Len(t, plan.Warnings, 2)
	assert.Contains(t, plan.Warnings[0], "bogus1")
	assert.Contains(t, plan.Warnings[1], "bogus2")
}

func TestSelectDirectInvalidCount(t *testing.T) {
	s := newSelector(nil)

	_, err := s.Select(context.Background(), "q", "", "claude:zero")
	assert.Error(t, err)

	_, err = s.Select(context.Background(), "q", "", "claude:0")
	assert.Error(t, err)
}

func fixedAnalyzer(a *analyze.Analysis) analyze.Analyzer {
	return analyze.AnalyzerFunc(func(ctx context.Context, question, workdir string) (*analyze.Analysis, error) {
		return a, nil
	})
}

func TestSelectAnalyzedMinimumThreeExperts(t *testing.T) {
	s := newSelector(fixedAnalyzer(&analyze.Analysis{
		Category:    "debugging",
		Complexity:  0.3, // low: base 2
		Criticality: 0.3,
	}))

	plan, err := s.Select(context.Background(), "why does this crash", "", "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(plan.Experts), MinExperts)
}

func TestSelectAnalyzedTrivialAllowsFewer(t *testing.T) {
	s := newSelector(fixedAnalyzer(&analyze.Analysis{
		Category:    "general/factual",
		Complexity:  0.1, // trivial: base 1
		Criticality: 0.1,
	}))

	plan, err := s.Select(context.Background(), "what is a slice", "", "")
	require.NoError(t, err)
	assert.Len(t, plan.Experts, 1)
}

func TestSelectAnalyzedDoublesTopTwoWhenHighStakes(t *testing.T) {
	s := newSelector(fixedAnalyzer(&analyze.Analysis{
		Category:    "security",
		Complexity:  0.75,
		Criticality: 0.85,
	}))

	plan, err := s.Select(context.Background(), "audit this auth flow", "", "")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(plan.Experts), 2)

	assert.Equal(t, 2, plan.Experts[0].Replicas)
	assert.Equal(t, 2, plan.Experts[1].Replicas)
	for _, c := range plan.Experts[2:] {
		assert.Equal(t, 1, c.Replicas)
	}
}

func TestSelectAnalyzedFallsBackToHeuristicOnAnalyzerError(t *testing.T) {
	s := newSelector(analyze.AnalyzerFunc(func(ctx context.Context, question, workdir string) (*analyze.Analysis, error) {
		return nil, errors.New("llm unavailable")
	}))

	plan, err := s.Select(context.Background(), "review this security token handling", "", "")
	require.NoError(t, err)
	assert.Equal(t, analyze.SourceFallback, plan.Analysis.Source)
	assert.Equal(t, "security", plan.Analysis.Category)
}

func TestSelectAnalyzedPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSelector(analyze.AnalyzerFunc(func(ctx context.Context, question, workdir string) (*analyze.Analysis, error) {
		cancel()
		return nil, ctx.Err()
	}))

	_, err := s.Select(ctx, "q", "", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectAnalyzedPrefersSpecialists(t *testing.T) {
	s := newSelector(fixedAnalyzer(&analyze.Analysis{
		Category:    "security",
		Complexity:  0.5,
		Criticality: 0.6,
	}))

	plan, err := s.Select(context.Background(), "is this endpoint vulnerable", "", "")
	require.NoError(t, err)

	// claude and gemini are the security specialists; both must be selected.
	ids := plan.IDs()
	assert.Contains(t, ids, "claude")
	assert.Contains(t, ids, "gemini")
}

func TestSelectAnalyzedLowCriticalityFavoursFreeExperts(t *testing.T) {
	s := newSelector(fixedAnalyzer(&analyze.Analysis{
		Category:    "refactoring",
		Complexity:  0.45,
		Criticality: 0.2, // low
	}))

	plan, err := s.Select(context.Background(), "tidy up this package", "", "")
	require.NoError(t, err)

	// Zero-cost specialists outrank the expensive ones at low criticality:
	// qwen and aider both list refactoring and score the free-expert bonus.
	ids := plan.IDs()
	assert.Contains(t, ids, "qwen")
	assert.Contains(t, ids, "aider")
}

func TestPlanSize(t *testing.T) {
	tests := []struct {
		name        string
		complexity  float64
		criticality float64
		want        int
	}{
		{"trivial low", 0.1, 0.1, 1},
		{"low low", 0.3, 0.3, 2},
		{"medium low", 0.5, 0.3, 3},
		{"medium medium rounds up", 0.5, 0.5, 4},
		{"high low", 0.7, 0.3, 4},
		{"high high clamped to max", 0.7, 0.7, 5},
		{"critical critical clamped to max", 0.9, 0.9, 7},
		{"trivial critical within max", 0.1, 0.9, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planSize(&analyze.Analysis{Complexity: tt.complexity, Criticality: tt.criticality})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScoreCandidatesUrgencyFavoursSpeed(t *testing.T) {
	s := newSelector(nil)

	calm := s.scoreCandidates("q", &analyze.Analysis{Category: "architecture", Urgency: 0.3, Criticality: 0.6})
	urgent := s.scoreCandidates("q", &analyze.Analysis{Category: "architecture", Urgency: 0.9, Criticality: 0.6})

	find := func(list []scoredCandidate, id string) scoredCandidate {
		for _, c := range list {
			if c.desc.ID == id {
				return c
			}
		}
		t.Fatalf("missing %s", id)
		return scoredCandidate{}
	}

	// Urgency adds speed*5 to everyone; faster experts gain more.
	slow := find(urgent, "claude").score - find(calm, "claude").score
	fast := find(urgent, "qwen").score - find(calm, "qwen").score
	assert.Equal(t, 15.0, slow)
	assert.Equal(t, 25.0, fast)
}
