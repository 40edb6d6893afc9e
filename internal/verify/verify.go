// Package verify runs layered scrutiny of debate proposals: fact checks by
// other experts, static code pattern checks, and adversarial challenges.
package verify

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/councilgo-dev/councilgo/internal/expert"
	"github.com/councilgo-dev/councilgo/internal/retry"
	"github.com/councilgo-dev/councilgo/internal/worker"
)

// criticalKeywords trigger verification regardless of category. The set is
// part of the external contract and must not shrink.
var criticalKeywords = []string{
	"security", "auth", "authentication", "authorization", "password",
	"token", "encrypt", "decrypt", "secret", "credential", "payment",
	"financial", "production", "deploy", "migration", "delete", "drop",
	"compliance", "gdpr", "hipaa", "audit", "vulnerability",
}

// alwaysVerifyCategories require verification whenever selected.
var alwaysVerifyCategories = map[string]bool{
	"security":       true,
	"financial":      true,
	"production":     true,
	"data-migration": true,
	"compliance":     true,
}

// ShouldVerify decides whether cross-verification runs. force wins over skip;
// skip wins over keyword/category triggers.
func ShouldVerify(question, category string, force, skip bool) bool {
	if force {
		return true
	}
	if skip {
		return false
	}
	if alwaysVerifyCategories[category] {
		return true
	}
	q := strings.ToLower(question)
	for _, kw := range criticalKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

// ProposalReport is the verification outcome for one proposal.
type ProposalReport struct {
	FactAccuracy     float64  `json:"fact_accuracy"`
	CodeCorrectness  float64  `json:"code_correctness"`
	SecurityVerified bool     `json:"security_verified"`
	ChallengesPassed int      `json:"challenges_passed"`
	TotalChallenges  int      `json:"total_challenges"`
	Confidence       float64  `json:"confidence"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Report is the verifier's output across all proposals.
type Report struct {
	Enabled                 bool                       `json:"enabled"`
	PerProposal             map[string]*ProposalReport `json:"per_proposal,omitempty"`
	OverallConfidence       float64                    `json:"overall_confidence"`
	SecurityVerifiedOverall bool                       `json:"security_verified_overall"`

	// Degraded marks a report disabled by a verifier failure rather than by
	// configuration.
	Degraded bool   `json:"degraded,omitempty"`
	Warning  string `json:"warning,omitempty"`
}

// Disabled returns the report used when verification is not triggered.
func Disabled() *Report {
	return &Report{Enabled: false}
}

// DegradedReport returns the report used when the verifier itself failed.
func DegradedReport(reason string) *Report {
	return &Report{Enabled: false, Degraded: true, Warning: reason}
}

// Verifier runs the three verification layers through other experts.
type Verifier struct {
	registry   *expert.Registry
	factory    worker.Factory
	controller *retry.Controller
	policy     retry.Policy
}

// New builds a verifier.
func New(registry *expert.Registry, factory worker.Factory, controller *retry.Controller, policy retry.Policy) *Verifier {
	return &Verifier{registry: registry, factory: factory, controller: controller, policy: policy}
}

// Verify scrutinizes every proposal. Layers for one proposal run strictly in
// sequence (fact -> code -> adversarial); different proposals overlap.
func (v *Verifier) Verify(ctx context.Context, question string, proposals map[string]string) (*Report, error) {
	report := &Report{
		Enabled:     true,
		PerProposal: make(map[string]*ProposalReport, len(proposals)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for id, text := range proposals {
		if strings.TrimSpace(text) == "" {
			continue
		}
		wg.Add(1)
		go func(id, text string) {
			defer wg.Done()
			pr := v.verifyProposal(ctx, question, id, text)
			mu.Lock()
			report.PerProposal[id] = pr
			mu.Unlock()
		}(id, text)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.SecurityVerifiedOverall = true
	total := 0.0
	for _, pr := range report.PerProposal {
		total += pr.Confidence
		if !pr.SecurityVerified {
			report.SecurityVerifiedOverall = false
		}
	}
	if n := len(report.PerProposal); n > 0 {
		report.OverallConfidence = total / float64(n)
	}
	return report, nil
}

// verifyProposal runs the three layers for one proposal and combines them
// into the composite confidence.
func (v *Verifier) verifyProposal(ctx context.Context, question, authorID, text string) *ProposalReport {
	pr := &ProposalReport{}

	fact, warnings := v.factCheck(ctx, question, authorID, text)
	pr.FactAccuracy = fact
	pr.Warnings = append(pr.Warnings, warnings...)

	code, codeWarnings := CheckCodePatterns(text)
	pr.CodeCorrectness = code
	pr.Warnings = append(pr.Warnings, codeWarnings...)

	adv := v.runChallenges(ctx, question, authorID, text)
	pr.ChallengesPassed = adv.passed
	pr.TotalChallenges = adv.total
	pr.SecurityVerified = adv.securityVerified
	pr.Warnings = append(pr.Warnings, adv.warnings...)

	pr.Confidence = compositeConfidence(pr)
	return pr
}

// compositeConfidence implements the fixed weighting:
// 0.4*fact + 0.3*code + 0.2*security + 0.1*(passed/5 capped) minus a warning
// penalty, clamped at 0.1.
func compositeConfidence(pr *ProposalReport) float64 {
	security := 0.5
	if pr.SecurityVerified {
		security = 1.0
	}
	challenge := float64(pr.ChallengesPassed) / 5
	if challenge > 1 {
		challenge = 1
	}

	c := 0.4*pr.FactAccuracy + 0.3*pr.CodeCorrectness + 0.2*security + 0.1*challenge

	penalty := 0.05 * float64(len(pr.Warnings))
	if penalty > 0.3 {
		penalty = 0.3
	}
	c -= penalty

	if c < 0.1 {
		c = 0.1
	}
	return c
}

// otherExperts returns up to limit catalog experts excluding the author,
// preferring the category shortlist order.
func (v *Verifier) otherExperts(authorID, category string, limit int) []*expert.Descriptor {
	var out []*expert.Descriptor
	seen := map[string]bool{authorID: true}

	for _, id := range v.registry.Shortlist(category) {
		if len(out) >= limit {
			return out
		}
		if seen[id] {
			continue
		}
		if desc, err := v.registry.Get(id); err == nil {
			out = append(out, desc)
			seen[id] = true
		}
	}
	for _, desc := range v.registry.All() {
		if len(out) >= limit {
			break
		}
		if !seen[desc.ID] {
			out = append(out, desc)
			seen[desc.ID] = true
		}
	}
	return out
}

func (v *Verifier) invokeExpert(ctx context.Context, desc *expert.Descriptor, prompt string) (string, error) {
	w, err := v.factory.WorkerFor(desc.ID)
	if err != nil {
		return "", err
	}
	return retry.Execute(ctx, v.controller, v.policy, func(ctx context.Context) (string, error) {
		return w.Invoke(ctx, worker.Invocation{Prompt: prompt})
	})
}

func logVerifyFailure(layer, expertID string, err error) {
	log.Printf("verify: %s via %s failed: %v", layer, expertID, err)
}
