// Package evaluate ranks competing proposals. The production evaluator is
// LLM-backed; a deterministic fallback keeps the debate alive when it fails.
package evaluate

import (
	"context"
	"fmt"
	"sort"
)

// ItemNote carries the evaluator's qualitative judgment of one proposal.
type ItemNote struct {
	Strengths  string `json:"strengths,omitempty"`
	Weaknesses string `json:"weaknesses,omitempty"`
}

// Ranking is the evaluator's verdict over a set of proposals.
type Ranking struct {
	// Best is the winning expert id. Invariant: Best is a key of Scores and
	// holds the maximum score.
	Best string `json:"best"`

	// Scores maps expert id to a 0-100 score.
	Scores map[string]float64 `json:"scores"`

	// Items holds optional per-proposal notes.
	Items map[string]ItemNote `json:"items,omitempty"`

	// Notes is optional free text from the evaluator.
	Notes string `json:"notes,omitempty"`

	// Fallback marks a ranking produced by FallbackRanking rather than the
	// evaluator.
	Fallback bool `json:"fallback,omitempty"`
}

// BestScore returns the score of the winning proposal.
func (r *Ranking) BestScore() float64 {
	return r.Scores[r.Best]
}

// Validate checks the Ranking invariants.
func (r *Ranking) Validate() error {
	if r.Best == "" {
		return fmt.Errorf("ranking has no best expert")
	}
	best, ok := r.Scores[r.Best]
	if !ok {
		return fmt.Errorf("best expert %q has no score", r.Best)
	}
	for id, s := range r.Scores {
		if s > best {
			return fmt.Errorf("expert %q scores %.1f above best %q (%.1f)", id, s, r.Best, best)
		}
	}
	return nil
}

// Evaluator ranks proposals for a question. Implementations may call an LLM;
// the engine treats the result as authoritative for leader selection.
type Evaluator interface {
	Rank(ctx context.Context, question string, proposals map[string]string) (*Ranking, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, question string, proposals map[string]string) (*Ranking, error)

// Rank implements Evaluator.
func (f EvaluatorFunc) Rank(ctx context.Context, question string, proposals map[string]string) (*Ranking, error) {
	return f(ctx, question, proposals)
}

// FallbackScore is assigned to every proposal when the evaluator fails.
const FallbackScore = 50

// FallbackRanking selects the longest non-empty proposal and scores every
// proposal 50. Ties break on expert id so the result is deterministic.
func FallbackRanking(proposals map[string]string) (*Ranking, error) {
	ids := make([]string, 0, len(proposals))
	for id, text := range proposals {
		if text != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no non-empty proposals to rank")
	}
	sort.Strings(ids)

	best := ids[0]
	for _, id := range ids[1:] {
		if len(proposals[id]) > len(proposals[best]) {
			best = id
		}
	}

	scores := make(map[string]float64, len(ids))
	for _, id := range ids {
		scores[id] = FallbackScore
	}

	return &Ranking{
		Best:     best,
		Scores:   scores,
		Notes:    "evaluator unavailable; selected longest proposal",
		Fallback: true,
	}, nil
}

// Agreement measures inter-expert score dispersion as 1 - normalized spread.
// A single proposal counts as full agreement.
func Agreement(scores map[string]float64) float64 {
	if len(scores) <= 1 {
		return 1
	}
	lo, hi := 101.0, -1.0
	for _, s := range scores {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	spread := (hi - lo) / 100
	if spread < 0 {
		spread = 0
	}
	if spread > 1 {
		spread = 1
	}
	return 1 - spread
}
