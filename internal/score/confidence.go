// Package score combines debate signals into a single 0-100 confidence.
package score

import (
	"fmt"

	"github.com/councilgo-dev/councilgo/internal/evaluate"
	"github.com/councilgo-dev/councilgo/internal/verify"
)

// Level is the qualitative confidence bucket.
type Level string

const (
	LevelVeryLow  Level = "very-low"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelVeryHigh Level = "very-high"
)

// Factors records the inputs that produced a score, for reporting.
type Factors struct {
	EvaluatorScore         float64 `json:"evaluator_score"`
	VerificationRan        bool    `json:"verification_ran"`
	VerificationConfidence float64 `json:"verification_confidence,omitempty"`
	Agreement              float64 `json:"agreement"`
	SurvivingExperts       int     `json:"surviving_experts"`
	FallbackRanking        bool    `json:"fallback_ranking"`
}

// Report is the scorer output.
type Report struct {
	Score          float64 `json:"score"`
	Level          Level   `json:"level"`
	Factors        Factors `json:"factors"`
	Recommendation string  `json:"recommendation"`
}

// Compute combines the ranking, optional verification report, and debate
// shape into the final confidence. The result is always within [0, 100].
func Compute(ranking *evaluate.Ranking, verification *verify.Report, survivingExperts int) *Report {
	factors := Factors{
		EvaluatorScore:   ranking.BestScore(),
		Agreement:        evaluate.Agreement(ranking.Scores),
		SurvivingExperts: survivingExperts,
		FallbackRanking:  ranking.Fallback,
	}

	score := factors.EvaluatorScore
	if verification != nil && verification.Enabled {
		factors.VerificationRan = true
		factors.VerificationConfidence = verification.OverallConfidence
		score = 0.8*factors.EvaluatorScore + 0.2*factors.VerificationConfidence*100
	}

	// Debate-shape adjustments: dispersion around the winner, breadth of the
	// surviving panel, and whether ranking degraded to the fallback.
	score += (factors.Agreement - 0.5) * 10
	if extra := survivingExperts - 2; extra > 0 {
		if extra > 3 {
			extra = 3
		}
		score += float64(extra) * 2
	}
	if factors.FallbackRanking {
		score -= 10
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	level := levelOf(score)
	return &Report{
		Score:          score,
		Level:          level,
		Factors:        factors,
		Recommendation: recommendation(level, verification),
	}
}

func levelOf(score float64) Level {
	switch {
	case score < 20:
		return LevelVeryLow
	case score < 40:
		return LevelLow
	case score < 60:
		return LevelMedium
	case score < 80:
		return LevelHigh
	default:
		return LevelVeryHigh
	}
}

func recommendation(level Level, verification *verify.Report) string {
	verified := verification != nil && verification.Enabled
	switch level {
	case LevelVeryHigh:
		if verified && verification.SecurityVerifiedOverall {
			return "Safe to act on: strong consensus and the answer passed cross-verification."
		}
		if verified {
			return "Strong consensus, but review the verification warnings before acting."
		}
		return "Strong consensus; consider verification for critical use."
	case LevelHigh:
		if verified {
			return "Solid answer; skim the verification warnings and proceed."
		}
		return "Solid answer; a quick expert review is advisable for critical use."
	case LevelMedium:
		return "Moderate confidence; validate the key claims before acting."
	case LevelLow:
		return "Low confidence; treat this as a starting point, not an answer."
	default:
		return fmt.Sprintf("Confidence is %s; rerun with more experts or a refined question.", level)
	}
}
