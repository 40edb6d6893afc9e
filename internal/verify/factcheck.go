package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/councilgo-dev/councilgo/internal/expert"
	"github.com/councilgo-dev/councilgo/internal/runner"
)

// factCheckers is the number of other experts asked to verify one proposal.
const factCheckers = 3

// factCheckResponse is the machine-readable schema requested from checking
// experts.
type factCheckResponse struct {
	Accuracy     float64  `json:"accuracy"`
	Security     float64  `json:"security"`
	Logic        float64  `json:"logic"`
	Completeness float64  `json:"completeness"`
	BestPractice float64  `json:"best_practice"`
	Confidence   float64  `json:"confidence"`
	Issues       []string `json:"issues"`
}

// factCheck asks up to three other experts to verify the proposal and
// aggregates their accuracy assessments into a confidence-weighted mean.
// Checker failures are tolerated; zero usable checks yields a neutral 0.5.
func (v *Verifier) factCheck(ctx context.Context, question, authorID, text string) (float64, []string) {
	checkers := v.otherExperts(authorID, "", factCheckers)

	var (
		weightedSum float64
		totalWeight float64
		warnings    []string
	)

	for _, checker := range checkers {
		if ctx.Err() != nil {
			break
		}
		raw, err := v.invokeExpert(ctx, checker, factCheckPrompt(checker, question, text))
		if err != nil {
			logVerifyFailure("fact check", checker.ID, err)
			continue
		}
		parsed, err := parseFactCheck(raw)
		if err != nil {
			logVerifyFailure("fact check parse", checker.ID, err)
			continue
		}

		weight := clamp01(parsed.Confidence)
		if weight == 0 {
			weight = 0.5
		}
		weightedSum += clamp01(parsed.Accuracy) * weight
		totalWeight += weight

		for _, issue := range parsed.Issues {
			issue = strings.TrimSpace(issue)
			if issue != "" {
				warnings = append(warnings, fmt.Sprintf("%s: %s", checker.ID, issue))
			}
		}
	}

	if totalWeight == 0 {
		return 0.5, warnings
	}
	return weightedSum / totalWeight, warnings
}

// factCheckPrompt is the stable template for the verify-this-answer request.
func factCheckPrompt(checker *expert.Descriptor, question, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s).\n\n", checker.DisplayName, checker.RoleTag)
	b.WriteString("Verify the following answer produced by another expert.\n\n")
	fmt.Fprintf(&b, "## Question\n%s\n\n", question)
	fmt.Fprintf(&b, "## Answer under review\n%s\n\n", runner.Truncate(text, 3000))
	b.WriteString("## Instructions\n")
	b.WriteString("Assess the answer for factual accuracy, security, logical soundness, completeness, and adherence to best practice.\n")
	b.WriteString("Respond with ONLY a JSON object:\n")
	b.WriteString(`{"accuracy": 0-1, "security": 0-1, "logic": 0-1, "completeness": 0-1, "best_practice": 0-1, "confidence": 0-1, "issues": ["..."]}`)
	return b.String()
}

func parseFactCheck(raw string) (*factCheckResponse, error) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	var parsed factCheckResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse fact check response: %w", err)
	}
	return &parsed, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
