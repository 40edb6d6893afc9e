// Package runner fans out parallel replicas of a single expert and merges
// their outputs into one proposal.
package runner

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/councilgo-dev/councilgo/internal/expert"
	"github.com/councilgo-dev/councilgo/internal/observability"
	"github.com/councilgo-dev/councilgo/internal/retry"
	"github.com/councilgo-dev/councilgo/internal/worker"
)

// Origin records how a proposal's text came to be.
type Origin string

const (
	// OriginSingle is a plain single-replica answer.
	OriginSingle Origin = "single"
	// OriginSynthesized is the merge of two or more replica answers.
	OriginSynthesized Origin = "synthesized"
	// OriginFallbackLongest is the longest replica answer, used when the
	// synthesis step failed.
	OriginFallbackLongest Origin = "fallback-longest"
	// OriginFailed marks a proposal with no usable text.
	OriginFailed Origin = "failed"
)

// Proposal is one expert's first-round answer.
type Proposal struct {
	ExpertID     string    `json:"expert_id"`
	Text         string    `json:"text"`
	ProducedAt   time.Time `json:"produced_at"`
	DurationMs   int64     `json:"duration_ms"`
	ReplicaCount int       `json:"replica_count"`
	Origin       Origin    `json:"origin"`
}

// Failed reports whether the proposal carries no usable text.
func (p *Proposal) Failed() bool { return p.Origin == OriginFailed || p.Text == "" }

// SummaryLimit caps each replica's contribution to the synthesis prompt, in
// code points.
const SummaryLimit = 2000

// Runner executes replica fan-out for one expert at a time.
type Runner struct {
	factory    worker.Factory
	controller *retry.Controller
	policy     retry.Policy
}

// New builds a runner.
func New(factory worker.Factory, controller *retry.Controller, policy retry.Policy) *Runner {
	return &Runner{factory: factory, controller: controller, policy: policy}
}

// PromptBuilder renders the full prompt for one replica. The runner never
// builds round prompts itself; the debate owns prompt text.
type PromptBuilder func(spec expert.InstanceSpec) string

// Run launches every spec concurrently, each invocation wrapped in the retry
// controller, and returns a single merged proposal:
//
//	0 successes -> a failed proposal (the debate continues without this expert)
//	1 success   -> that text, origin "single"
//	2+          -> one more invocation merging the outputs, origin "synthesized";
//	               if the merge fails, the longest output, origin "fallback-longest"
func (r *Runner) Run(ctx context.Context, desc *expert.Descriptor, specs []expert.InstanceSpec, workdir string, prompt PromptBuilder) (*Proposal, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("no instance specs for expert %s", desc.ID)
	}

	ctx, span := observability.StartSpanWithOtel(ctx, "expert.fanout")
	defer span.End()
	span.SetAttributes(
		attribute.String("expert", desc.ID),
		attribute.Int("replicas", len(specs)),
	)

	start := time.Now()
	w, err := r.factory.WorkerFor(desc.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve worker for %s: %w", desc.ID, err)
	}

	type replicaResult struct {
		index int
		text  string
	}

	var (
		mu        sync.Mutex
		succeeded []replicaResult
		wg        sync.WaitGroup
	)

	for _, spec := range specs {
		wg.Add(1)
		go func(spec expert.InstanceSpec) {
			defer wg.Done()
			text, err := r.invoke(ctx, w, worker.Invocation{
				Prompt:   prompt(spec),
				Workdir:  workdir,
				Instance: &spec,
			})
			if err != nil {
				log.Printf("runner: %s replica %d/%d failed: %v",
					desc.ID, spec.InstanceIndex, spec.ReplicaCount, err)
				return
			}
			if strings.TrimSpace(text) == "" {
				return
			}
			mu.Lock()
			succeeded = append(succeeded, replicaResult{index: spec.InstanceIndex, text: text})
			mu.Unlock()
		}(spec)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proposal := &Proposal{
		ExpertID:     desc.ID,
		ProducedAt:   start,
		ReplicaCount: len(specs),
	}

	switch len(succeeded) {
	case 0:
		proposal.Origin = OriginFailed
	case 1:
		proposal.Text = succeeded[0].text
		proposal.Origin = OriginSingle
	default:
		sort.Slice(succeeded, func(i, j int) bool { return succeeded[i].index < succeeded[j].index })
		outputs := make([]string, len(succeeded))
		for i, res := range succeeded {
			outputs[i] = res.text
		}

		merged, err := r.synthesize(ctx, w, desc, outputs, workdir, len(specs))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("runner: %s synthesis failed (%v), using longest replica output", desc.ID, err)
			proposal.Text = longest(outputs)
			proposal.Origin = OriginFallbackLongest
		} else {
			proposal.Text = merged
			proposal.Origin = OriginSynthesized
		}
	}

	proposal.DurationMs = time.Since(start).Milliseconds()
	return proposal, nil
}

func (r *Runner) invoke(ctx context.Context, w worker.Worker, inv worker.Invocation) (string, error) {
	return retry.Execute(ctx, r.controller, r.policy, func(ctx context.Context) (string, error) {
		return w.Invoke(ctx, inv)
	})
}

// synthesize sends the replica outputs back to the same expert for merging.
func (r *Runner) synthesize(ctx context.Context, w worker.Worker, desc *expert.Descriptor, outputs []string, workdir string, replicaCount int) (string, error) {
	spec := expert.SynthesisInstance(desc.ID, replicaCount)
	return r.invoke(ctx, w, worker.Invocation{
		Prompt:   SynthesisPrompt(desc, outputs),
		Workdir:  workdir,
		Instance: &spec,
	})
}

// SynthesisPrompt builds the fixed-template merge prompt. Each replica
// summary is truncated to SummaryLimit code points.
func SynthesisPrompt(desc *expert.Descriptor, outputs []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s).\n\n", desc.DisplayName, desc.RoleTag)
	fmt.Fprintf(&b, "You produced %d independent draft answers to the same question. Merge them into one final answer.\n\n", len(outputs))
	for i, out := range outputs {
		fmt.Fprintf(&b, "## Draft %d\n%s\n\n", i+1, Truncate(out, SummaryLimit))
	}
	b.WriteString("## Instructions\n")
	b.WriteString("Combine the strongest points of every draft into one coherent answer. ")
	b.WriteString("Resolve contradictions explicitly. Do not mention the drafts; present the merged answer directly.\n")
	return b.String()
}

// Truncate limits s to n code points, appending the truncation marker when
// text was dropped.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func longest(outputs []string) string {
	best := ""
	for _, out := range outputs {
		if len(out) > len(best) {
			best = out
		}
	}
	return best
}
