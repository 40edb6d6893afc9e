// Package debate implements the three-round consensus protocol: independent
// proposals, evaluation with optional cross-verification, improvement
// reviews, and final synthesis.
package debate

import (
	"errors"
	"time"

	"github.com/councilgo-dev/councilgo/internal/analyze"
	"github.com/councilgo-dev/councilgo/internal/evaluate"
	"github.com/councilgo-dev/councilgo/internal/runner"
	"github.com/councilgo-dev/councilgo/internal/score"
	"github.com/councilgo-dev/councilgo/internal/verify"
)

// ErrInsufficientExperts aborts a debate when fewer than two experts produced
// usable output. No partial result is returned or cached.
var ErrInsufficientExperts = errors.New("insufficient experts produced usable output")

// Phase names emitted in progress events, in pipeline order.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseCacheCheck   Phase = "cache-checking"
	PhaseSelecting    Phase = "selecting"
	PhaseRound1       Phase = "round1-propose"
	PhaseEvaluating   Phase = "evaluating"
	PhaseVerifying    Phase = "verifying"
	PhaseRound2       Phase = "round2-improve"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseScoring      Phase = "scoring"
	PhaseStoring      Phase = "storing"
	PhaseDone         Phase = "done"
)

// ExpertStatus is the per-expert state reported in progress events.
type ExpertStatus string

const (
	StatusWaiting   ExpertStatus = "waiting"
	StatusStarting  ExpertStatus = "starting"
	StatusRunning   ExpertStatus = "running"
	StatusCompleted ExpertStatus = "completed"
	StatusFailed    ExpertStatus = "failed"
)

// ProgressEvent reports pipeline progress to the optional sink.
type ProgressEvent struct {
	Phase      Phase        `json:"phase"`
	Percentage float64      `json:"percentage"`
	ExpertID   string       `json:"expert_id,omitempty"`
	Status     ExpertStatus `json:"status,omitempty"`
	Message    string       `json:"message,omitempty"`
	Timestamp  int64        `json:"timestamp_ns"` // monotonic nanos
}

// ProgressSink receives progress events. A nil sink drops events; sinks must
// not block for long, events are delivered synchronously.
type ProgressSink func(ProgressEvent)

// Result is the complete outcome of one debate.
type Result struct {
	ID           string                      `json:"id"`
	Question     string                      `json:"question"`
	Workdir      string                      `json:"workdir"`
	Analysis     *analyze.Analysis           `json:"analysis,omitempty"`
	ExpertsUsed  []string                    `json:"experts_used"`
	Proposals    map[string]*runner.Proposal `json:"proposals"`
	Ranking      *evaluate.Ranking           `json:"ranking"`
	Improvements map[string]string           `json:"improvements,omitempty"`
	Verification *verify.Report              `json:"verification,omitempty"`
	FinalText    string                      `json:"final_text"`
	Confidence   *score.Report               `json:"confidence"`

	ResponseTimeMs int64     `json:"response_time_ms"`
	FromCache      bool      `json:"from_cache"`
	CachedAt       time.Time `json:"cached_at,omitzero"`
}

// Clone deep-copies the result so cached entries cannot alias caller state.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r

	out.ExpertsUsed = append([]string(nil), r.ExpertsUsed...)

	if r.Analysis != nil {
		a := *r.Analysis
		a.ContextClues = append([]string(nil), r.Analysis.ContextClues...)
		out.Analysis = &a
	}

	if r.Proposals != nil {
		out.Proposals = make(map[string]*runner.Proposal, len(r.Proposals))
		for id, p := range r.Proposals {
			cp := *p
			out.Proposals[id] = &cp
		}
	}

	if r.Ranking != nil {
		rk := *r.Ranking
		rk.Scores = make(map[string]float64, len(r.Ranking.Scores))
		for id, s := range r.Ranking.Scores {
			rk.Scores[id] = s
		}
		if r.Ranking.Items != nil {
			rk.Items = make(map[string]evaluate.ItemNote, len(r.Ranking.Items))
			for id, n := range r.Ranking.Items {
				rk.Items[id] = n
			}
		}
		out.Ranking = &rk
	}

	if r.Improvements != nil {
		out.Improvements = make(map[string]string, len(r.Improvements))
		for id, t := range r.Improvements {
			out.Improvements[id] = t
		}
	}

	if r.Verification != nil {
		v := *r.Verification
		if r.Verification.PerProposal != nil {
			v.PerProposal = make(map[string]*verify.ProposalReport, len(r.Verification.PerProposal))
			for id, pr := range r.Verification.PerProposal {
				cp := *pr
				cp.Warnings = append([]string(nil), pr.Warnings...)
				v.PerProposal[id] = &cp
			}
		}
		out.Verification = &v
	}

	if r.Confidence != nil {
		c := *r.Confidence
		out.Confidence = &c
	}

	return &out
}
