package score

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/councilgo-dev/councilgo/internal/evaluate"
	"github.com/councilgo-dev/councilgo/internal/verify"
)

func ranking(best string, scores map[string]float64) *evaluate.Ranking {
	return &evaluate.Ranking{Best: best, Scores: scores}
}

func TestComputeEvaluatorOnly(t *testing.T) {
	// Two experts at the same score: agreement 1.0 adds +5, no panel bonus.
	r := Compute(ranking("claude", map[string]float64{"claude": 80, "codex": 80}), nil, 2)

	assert.InDelta(t, 85, r.Score, 1e-9)
	assert.Equal(t, LevelVeryHigh, r.Level)
	assert.False(t, r.Factors.VerificationRan)
	assert.Equal(t, 1.0, r.Factors.Agreement)
}

func TestComputeBlendsVerification(t *testing.T) {
	v := &verify.Report{Enabled: true, OverallConfidence: 0.5}
	r := Compute(ranking("claude", map[string]float64{"claude": 90, "codex": 90}), v, 2)

	// 0.8*90 + 0.2*50 = 82, plus agreement +5.
	assert.InDelta(t, 87, r.Score, 1e-9)
	assert.True(t, r.Factors.VerificationRan)
	assert.Equal(t, 0.5, r.Factors.VerificationConfidence)
}

func TestComputeDisabledVerificationIgnored(t *testing.T) {
	v := &verify.Report{Enabled: false, OverallConfidence: 0.1}
	r := Compute(ranking("claude", map[string]float64{"claude": 70, "codex": 70}), v, 2)

	assert.InDelta(t, 75, r.Score, 1e-9)
	assert.False(t, r.Factors.VerificationRan)
}

func TestComputeDisagreementPenalty(t *testing.T) {
	// Spread 0..100: agreement 0 subtracts the full 5 points.
	r := Compute(ranking("claude", map[string]float64{"claude": 100, "codex": 0}), nil, 2)
	assert.InDelta(t, 95, r.Score, 1e-9)
}

func TestComputePanelBonusCapped(t *testing.T) {
	scores := map[string]float64{"a": 60, "b": 60, "c": 60, "d": 60, "e": 60, "f": 60, "g": 60}
	base := Compute(ranking("a", map[string]float64{"a": 60, "b": 60}), nil, 2).Score

	three := Compute(ranking("a", scores), nil, 3).Score
	five := Compute(ranking("a", scores), nil, 5).Score
	seven := Compute(ranking("a", scores), nil, 7).Score

	assert.InDelta(t, base+2, three, 1e-9)
	assert.InDelta(t, base+6, five, 1e-9)
	// More than three extra experts earn nothing further.
	assert.InDelta(t, five, seven, 1e-9)
}

func TestComputeFallbackPenalty(t *testing.T) {
	rk := ranking("claude", map[string]float64{"claude": 50, "codex": 50})
	rk.Fallback = true

	r := Compute(rk, nil, 2)
	// 50 + 5 agreement - 10 fallback.
	assert.InDelta(t, 45, r.Score, 1e-9)
	assert.True(t, r.Factors.FallbackRanking)
}

func TestComputeClampsToRange(t *testing.T) {
	low := Compute(&evaluate.Ranking{Best: "a", Scores: map[string]float64{"a": 0, "b": 0}, Fallback: true}, nil, 1)
	assert.GreaterOrEqual(t, low.Score, 0.0)

	high := Compute(ranking("a", map[string]float64{"a": 100, "b": 100}), nil, 6)
	assert.LessOrEqual(t, high.Score, 100.0)
	assert.Equal(t, 100.0, high.Score)
}

func TestLevelBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelVeryLow},
		{19.9, LevelVeryLow},
		{20, LevelLow},
		{39.9, LevelLow},
		{40, LevelMedium},
		{59.9, LevelMedium},
		{60, LevelHigh},
		{79.9, LevelHigh},
		{80, LevelVeryHigh},
		{100, LevelVeryHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, levelOf(tt.score), "score %.1f", tt.score)
	}
}

func TestRecommendationReflectsVerification(t *testing.T) {
	r := Compute(ranking("a", map[string]float64{"a": 95, "b": 95}), &verify.Report{Enabled: true, OverallConfidence: 0.95, SecurityVerifiedOverall: true}, 2)
	assert.Contains(t, r.Recommendation, "cross-verification")

	plain := Compute(ranking("a", map[string]float64{"a": 95, "b": 95}), nil, 2)
	assert.Contains(t, plain.Recommendation, "consider verification")

	low := Compute(ranking("a", map[string]float64{"a": 25, "b": 25}), nil, 2)
	assert.Equal(t, LevelLow, low.Level)
	assert.Contains(t, low.Recommendation, "starting point")
}
