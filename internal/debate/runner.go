package debate

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/councilgo-dev/councilgo/internal/evaluate"
	"github.com/councilgo-dev/councilgo/internal/expert"
	"github.com/councilgo-dev/councilgo/internal/runner"
	"github.com/councilgo-dev/councilgo/internal/selector"
	"github.com/councilgo-dev/councilgo/internal/verify"
)

// Options tune one debate run.
type Options struct {
	// ForceVerification runs cross-verification regardless of triggers.
	ForceVerification bool

	// SkipVerification suppresses cross-verification unless forced.
	SkipVerification bool

	// Ultrathink prepends the deeper-reasoning marker to the first expert's
	// round-1 prompt.
	Ultrathink bool
}

// Runner drives the three-round protocol for an already-selected plan.
type Runner struct {
	registry  *expert.Registry
	instances *runner.Runner
	evaluator evaluate.Evaluator
	verifier  *verify.Verifier
	progress  ProgressSink
}

// NewRunner builds a debate runner. verifier may be nil to disable
// verification entirely; progress may be nil.
func NewRunner(registry *expert.Registry, instances *runner.Runner, evaluator evaluate.Evaluator, verifier *verify.Verifier, progress ProgressSink) *Runner {
	return &Runner{
		registry:  registry,
		instances: instances,
		evaluator: evaluator,
		verifier:  verifier,
		progress:  progress,
	}
}

// Outcome carries everything the protocol produced, for the coordinator to
// assemble into a Result.
type Outcome struct {
	Proposals    map[string]*runner.Proposal
	Ranking      *evaluate.Ranking
	Improvements map[string]string
	Verification *verify.Report
	FinalText    string
}

// Run executes Propose -> Evaluate -> (Verify) -> Improve -> Synthesize.
func (r *Runner) Run(ctx context.Context, question, workdir string, plan *selector.Plan, opts Options) (*Outcome, error) {
	proposals, err := r.round1(ctx, question, workdir, plan, opts.Ultrathink)
	if err != nil {
		return nil, err
	}

	texts := usableTexts(proposals)
	if len(texts) < 2 {
		return nil, fmt.Errorf("%w: %d of %d experts answered", ErrInsufficientExperts, len(texts), len(plan.Experts))
	}

	ranking := r.evaluateRound(ctx, question, texts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	verification := r.verifyRound(ctx, question, plan, texts, opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	improvements := r.round2(ctx, question, workdir, ranking, texts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.emit(ProgressEvent{Phase: PhaseSynthesizing, Percentage: 85})
	bestDesc, err := r.registry.Get(ranking.Best)
	if err != nil {
		return nil, err
	}
	final := composeFinal(bestDesc, ranking, texts[ranking.Best], improvements, verification)

	return &Outcome{
		Proposals:    proposals,
		Ranking:      ranking,
		Improvements: improvements,
		Verification: verification,
		FinalText:    final,
	}, nil
}

// round1 fans every selected expert (with its replicas) out in parallel.
// Per-expert failures are isolated; the round fails only via ctx.
func (r *Runner) round1(ctx context.Context, question, workdir string, plan *selector.Plan, ultrathink bool) (map[string]*runner.Proposal, error) {
	r.emit(ProgressEvent{Phase: PhaseRound1, Percentage: 20, Message: fmt.Sprintf("%d experts", len(plan.Experts))})
	for _, c := range plan.Experts {
		r.emit(ProgressEvent{Phase: PhaseRound1, Percentage: 20, ExpertID: c.Expert.ID, Status: StatusWaiting})
	}

	proposals := make(map[string]*runner.Proposal, len(plan.Experts))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for i, cand := range plan.Experts {
		wg.Add(1)
		go func(cand selector.Candidate, first bool) {
			defer wg.Done()
			desc := cand.Expert
			r.emit(ProgressEvent{Phase: PhaseRound1, Percentage: 25, ExpertID: desc.ID, Status: StatusStarting})

			specs := expert.BuildInstances(desc.ID, cand.Replicas)
			r.emit(ProgressEvent{Phase: PhaseRound1, Percentage: 30, ExpertID: desc.ID, Status: StatusRunning})

			proposal, err := r.instances.Run(ctx, desc, specs, workdir, func(spec expert.InstanceSpec) string {
				return proposePrompt(desc, spec, question, workdir, ultrathink && first)
			})
			if err != nil {
				log.Printf("debate: expert %s failed in round 1: %v", desc.ID, err)
				r.emit(ProgressEvent{Phase: PhaseRound1, Percentage: 50, ExpertID: desc.ID, Status: StatusFailed})
				return
			}

			status := StatusCompleted
			if proposal.Failed() {
				status = StatusFailed
			}
			r.emit(ProgressEvent{Phase: PhaseRound1, Percentage: 50, ExpertID: desc.ID, Status: status})

			mu.Lock()
			proposals[desc.ID] = proposal
			mu.Unlock()
		}(cand, i == 0)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return proposals, nil
}

// evaluateRound ranks proposals, degrading to the longest-text fallback if
// the evaluator fails.
func (r *Runner) evaluateRound(ctx context.Context, question string, texts map[string]string) *evaluate.Ranking {
	r.emit(ProgressEvent{Phase: PhaseEvaluating, Percentage: 55})

	if r.evaluator != nil {
		ranking, err := r.evaluator.Rank(ctx, question, texts)
		if err == nil {
			if verr := ranking.Validate(); verr == nil {
				return ranking
			} else {
				log.Printf("debate: evaluator returned invalid ranking: %v", verr)
			}
		} else if ctx.Err() == nil {
			log.Printf("debate: evaluator failed (%v), using fallback ranking", err)
		}
	}

	ranking, err := evaluate.FallbackRanking(texts)
	if err != nil {
		// texts is non-empty here; FallbackRanking cannot fail.
		panic(err)
	}
	return ranking
}

// verifyRound runs cross-verification when triggered. A verifier failure
// degrades to a disabled report with a warning; it never aborts the debate.
func (r *Runner) verifyRound(ctx context.Context, question string, plan *selector.Plan, texts map[string]string, opts Options) *verify.Report {
	category := ""
	if plan.Analysis != nil {
		category = plan.Analysis.Category
	}
	if r.verifier == nil || !verify.ShouldVerify(question, category, opts.ForceVerification, opts.SkipVerification) {
		return verify.Disabled()
	}

	r.emit(ProgressEvent{Phase: PhaseVerifying, Percentage: 65})
	report, err := r.verifier.Verify(ctx, question, texts)
	if err != nil {
		if ctx.Err() != nil {
			return verify.Disabled()
		}
		log.Printf("debate: verification failed: %v", err)
		return verify.DegradedReport(fmt.Sprintf("verification failed: %v", err))
	}
	return report
}

// round2 asks every non-winning expert to review and improve the leading
// proposal. Failures drop the contribution silently.
func (r *Runner) round2(ctx context.Context, question, workdir string, ranking *evaluate.Ranking, texts map[string]string) map[string]string {
	r.emit(ProgressEvent{Phase: PhaseRound2, Percentage: 75})

	bestText := texts[ranking.Best]
	improvements := make(map[string]string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for id := range texts {
		if id == ranking.Best {
			continue
		}
		desc, err := r.registry.Get(id)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(desc *expert.Descriptor) {
			defer wg.Done()
			r.emit(ProgressEvent{Phase: PhaseRound2, Percentage: 78, ExpertID: desc.ID, Status: StatusRunning})

			specs := expert.BuildInstances(desc.ID, 1)
			proposal, err := r.instances.Run(ctx, desc, specs, workdir, func(expert.InstanceSpec) string {
				return reviewPrompt(desc, question, bestText)
			})
			if err != nil || proposal.Failed() {
				r.emit(ProgressEvent{Phase: PhaseRound2, Percentage: 80, ExpertID: desc.ID, Status: StatusFailed})
				return
			}

			r.emit(ProgressEvent{Phase: PhaseRound2, Percentage: 80, ExpertID: desc.ID, Status: StatusCompleted})
			mu.Lock()
			improvements[desc.ID] = proposal.Text
			mu.Unlock()
		}(desc)
	}
	wg.Wait()

	return improvements
}

func (r *Runner) emit(e ProgressEvent) {
	if r.progress == nil {
		return
	}
	e.Timestamp = time.Now().UnixNano()
	r.progress(e)
}

// usableTexts filters proposals down to those with text.
func usableTexts(proposals map[string]*runner.Proposal) map[string]string {
	texts := make(map[string]string, len(proposals))
	for id, p := range proposals {
		if !p.Failed() {
			texts[id] = p.Text
		}
	}
	return texts
}
