// Package selector turns a question (or an explicit expert spec) into a
// replica plan: which experts to run and how many parallel instances of each.
package selector

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/councilgo-dev/councilgo/internal/analyze"
	"github.com/councilgo-dev/councilgo/internal/expert"
)

// Candidate is one selected expert with its replica count.
type Candidate struct {
	Expert   *expert.Descriptor `json:"expert"`
	Replicas int                `json:"replicas"`
}

// Plan is the selector output consumed by the debate runner.
type Plan struct {
	Experts  []Candidate       `json:"experts"`
	Analysis *analyze.Analysis `json:"analysis"`
	Warnings []string          `json:"warnings,omitempty"`
}

// IDs returns the selected expert ids in plan order.
func (p *Plan) IDs() []string {
	ids := make([]string, 0, len(p.Experts))
	for _, c := range p.Experts {
		ids = append(ids, c.Expert.ID)
	}
	return ids
}

// ReplicaPlan returns the id->replicas map used in the cache key.
func (p *Plan) ReplicaPlan() map[string]int {
	m := make(map[string]int, len(p.Experts))
	for _, c := range p.Experts {
		m[c.Expert.ID] = c.Replicas
	}
	return m
}

// Selector builds plans from either a direct expert spec or question
// analysis.
type Selector struct {
	registry *expert.Registry
	analyzer analyze.Analyzer
}

// New builds a selector. analyzer may be nil; analysis then always uses the
// keyword heuristic.
func New(registry *expert.Registry, analyzer analyze.Analyzer) *Selector {
	return &Selector{registry: registry, analyzer: analyzer}
}

// MinExperts is the floor of distinct experts for any non-trivial question.
const MinExperts = 3

// Select builds a plan. A non-empty spec ("claude:2,codex") bypasses
// analysis entirely; otherwise the question is analyzed (with heuristic
// fallback) and the replica-planning rules applied.
func (s *Selector) Select(ctx context.Context, question, workdir, spec string) (*Plan, error) {
	if strings.TrimSpace(spec) != "" {
		return s.selectDirect(ctx, question, workdir, spec)
	}
	return s.selectAnalyzed(ctx, question, workdir)
}

// selectDirect parses "<id>(:<count>)?(,...)*". Unknown ids are dropped with
// a warning; when every id is unknown the spec carries no usable pinning and
// selection falls back to the analyzed path.
func (s *Selector) selectDirect(ctx context.Context, question, workdir, spec string) (*Plan, error) {
	plan := &Plan{
		Analysis: &analyze.Analysis{Source: analyze.SourceUserDirect},
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, count := part, 1
		if idx := strings.IndexByte(part, ':'); idx >= 0 {
			id = strings.TrimSpace(part[:idx])
			n, err := strconv.Atoi(strings.TrimSpace(part[idx+1:]))
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid replica count in spec %q", part)
			}
			count = n
		}

		desc, err := s.registry.Get(id)
		if err != nil {
			warning := fmt.Sprintf("unknown expert %q skipped", id)
			log.Printf("selector: %s", warning)
			plan.Warnings = append(plan.Warnings, warning)
			continue
		}

		// Merge duplicate mentions of the same expert.
		merged := false
		for i := range plan.Experts {
			if plan.Experts[i].Expert.ID == id {
				plan.Experts[i].Replicas += count
				merged = true
				break
			}
		}
		if !merged {
			plan.Experts = append(plan.Experts, Candidate{Expert: desc, Replicas: count})
		}
	}

	if len(plan.Experts) == 0 {
		fallback, err := s.selectAnalyzed(ctx, question, workdir)
		if err != nil {
			return nil, err
		}
		fallback.Warnings = append(plan.Warnings, fallback.Warnings...)
		return fallback, nil
	}

	return plan, nil
}

// selectAnalyzed classifies the question and applies the planning rules.
func (s *Selector) selectAnalyzed(ctx context.Context, question, workdir string) (*Plan, error) {
	var analysis *analyze.Analysis
	if s.analyzer != nil {
		a, err := s.analyzer.Analyze(ctx, question, workdir)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("selector: analyzer failed (%v), using heuristic", err)
			analysis = analyze.Heuristic(question)
		} else {
			analysis = a
		}
	} else {
		analysis = analyze.Heuristic(question)
	}

	plan := &Plan{Analysis: analysis}
	size := planSize(analysis)

	scored := s.scoreCandidates(question, analysis)
	for _, sc := range scored {
		if len(plan.Experts) >= size {
			break
		}
		plan.Experts = append(plan.Experts, Candidate{Expert: sc.desc, Replicas: 1})
	}

	// High-stakes questions double their two strongest selections.
	if analysis.Criticality >= 0.8 && analysis.Complexity >= 0.7 {
		for i := 0; i < len(plan.Experts) && i < 2; i++ {
			plan.Experts[i].Replicas = 2
		}
	}

	// Pad to the minimum with the next best unused experts.
	if analysis.ComplexityLevel() != analyze.LevelTrivial {
		for _, sc := range scored {
			if len(plan.Experts) >= MinExperts {
				break
			}
			if !planContains(plan, sc.desc.ID) {
				plan.Experts = append(plan.Experts, Candidate{Expert: sc.desc, Replicas: 1})
			}
		}
	}

	return plan, nil
}

// planSize derives the number of distinct experts from complexity and
// criticality: a complexity-level base scaled by the criticality multiplier
// and clamped to the complexity-level maximum.
func planSize(a *analyze.Analysis) int {
	var base, max int
	switch a.ComplexityLevel() {
	case analyze.LevelTrivial:
		base, max = 1, 2
	case analyze.LevelLow:
		base, max = 2, 3
	case analyze.LevelMedium:
		base, max = 3, 4
	case analyze.LevelHigh:
		base, max = 4, 5
	default: // critical
		base, max = 4, 7
	}

	var mult float64
	switch a.CriticalityLevel() {
	case analyze.LevelLow:
		mult = 1.0
	case analyze.LevelMedium:
		mult = 1.2
	case analyze.LevelHigh:
		mult = 1.5
	default: // critical
		mult = 2.0
	}

	size := int(math.Round(float64(base) * mult))
	if size > max {
		size = max
	}
	if size < 1 {
		size = 1
	}
	return size
}

type scoredCandidate struct {
	desc  *expert.Descriptor
	score float64
	rank  int // shortlist position; catalog order after that
}

// scoreCandidates scores every catalog expert for the analysis and returns
// them best-first. The category shortlist breaks score ties.
func (s *Selector) scoreCandidates(question string, a *analyze.Analysis) []scoredCandidate {
	shortlistPos := make(map[string]int)
	for i, id := range s.registry.Shortlist(a.Category) {
		shortlistPos[id] = i
	}

	q := strings.ToLower(question)
	lowCriticality := a.CriticalityLevel() == analyze.LevelLow
	highComplexity := a.ComplexityLevel() == analyze.LevelHigh || a.ComplexityLevel() == analyze.LevelCritical

	var out []scoredCandidate
	for i, desc := range s.registry.All() {
		score := 0.0
		if desc.HasSpecialty(a.Category) {
			score += 30
		}
		if matchesStrength(desc, q, a.ContextClues) {
			score += 20
		}
		if a.Urgency > 0.7 {
			score += float64(desc.RelativeSpeed) * 5
		}
		if lowCriticality {
			score += (10 - desc.RelativeCost) * 4
			if desc.RelativeCost == 0 {
				score += 35
			}
		}
		if highComplexity && desc.DeepReasoning {
			score += 15
		}

		rank := len(shortlistPos) + i
		if p, ok := shortlistPos[desc.ID]; ok {
			rank = p
		}
		out = append(out, scoredCandidate{desc: desc, score: score, rank: rank})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		return out[i].desc.ID < out[j].desc.ID
	})
	return out
}

// matchesStrength reports whether any strength cue appears in the question or
// the analysis context clues.
func matchesStrength(desc *expert.Descriptor, question string, clues []string) bool {
	for _, strength := range desc.Strengths {
		s := strings.ToLower(strength)
		if strings.Contains(question, s) {
			return true
		}
		for _, clue := range clues {
			if strings.Contains(s, strings.ToLower(clue)) || strings.Contains(strings.ToLower(clue), s) {
				return true
			}
		}
	}
	return false
}

func planContains(p *Plan, id string) bool {
	for _, c := range p.Experts {
		if c.Expert.ID == id {
			return true
		}
	}
	return false
}
