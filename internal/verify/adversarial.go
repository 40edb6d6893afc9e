package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/councilgo-dev/councilgo/internal/expert"
	"github.com/councilgo-dev/councilgo/internal/runner"
)

// challenge is one adversarial probe from the fixed catalogue.
type challenge struct {
	name     string
	security bool   // findings here can fail SecurityVerified
	category string // preferred expert shortlist category
	task     string
}

// challengeCatalogue is fixed; TotalChallenges equals its length.
var challengeCatalogue = []challenge{
	{
		name:     "Security Vulnerability Hunt",
		security: true,
		category: "security",
		task:     "Attack this answer as a hostile security reviewer. Hunt for injection points, authentication gaps, secrets handling mistakes, and unsafe defaults.",
	},
	{
		name:     "Edge Case Discovery",
		category: "testing",
		task:     "Find inputs and conditions under which this answer breaks: empty values, huge values, unicode, concurrency, clock skew, partial failures.",
	},
	{
		name:     "Performance Stress",
		category: "performance",
		task:     "Assume this answer runs at 1000x the expected load. Identify the first bottleneck, unbounded growth, and any quadratic behaviour.",
	},
	{
		name:     "Logic Error Hunt",
		category: "debugging",
		task:     "Trace the reasoning step by step and hunt for logical errors: off-by-one, inverted conditions, unhandled branches, wrong assumptions.",
	},
	{
		name:     "Integration Failure Points",
		category: "architecture",
		task:     "Consider how this answer interacts with surrounding systems. Identify failure points at boundaries: serialization, retries, versioning, partial deployment.",
	},
}

// noIssuesMarker is the token challenged experts reply with when the answer
// survives the probe.
const noIssuesMarker = "NO_ISSUES_FOUND"

type adversarialOutcome struct {
	passed           int
	total            int
	securityVerified bool
	warnings         []string
}

// runChallenges sends every catalogue challenge to a challenge-appropriate
// other expert and counts clean passes. A challenge whose expert fails to
// answer counts as not passed but produces no warning; only reported issues
// warn. SecurityVerified holds unless a security challenge reports a
// high-severity issue.
func (v *Verifier) runChallenges(ctx context.Context, question, authorID, text string) adversarialOutcome {
	out := adversarialOutcome{total: len(challengeCatalogue), securityVerified: true}

	for _, ch := range challengeCatalogue {
		if ctx.Err() != nil {
			break
		}
		attacker := v.pickAttacker(authorID, ch.category)
		if attacker == nil {
			continue
		}

		raw, err := v.invokeExpert(ctx, attacker, challengePrompt(attacker, ch, question, text))
		if err != nil {
			logVerifyFailure("challenge "+ch.name, attacker.ID, err)
			continue
		}

		issues, high := parseChallengeResponse(raw)
		if len(issues) == 0 {
			out.passed++
			continue
		}
		if ch.security && high {
			out.securityVerified = false
		}
		for _, issue := range issues {
			out.warnings = append(out.warnings, fmt.Sprintf("%s: %s", ch.name, issue))
		}
	}
	return out
}

// pickAttacker prefers a specialist for the challenge category, excluding
// the proposal author.
func (v *Verifier) pickAttacker(authorID, category string) *expert.Descriptor {
	candidates := v.otherExperts(authorID, category, 1)
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

// challengePrompt is the stable adversarial template.
func challengePrompt(attacker *expert.Descriptor, ch challenge, question, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s).\n\n", attacker.DisplayName, attacker.RoleTag)
	fmt.Fprintf(&b, "## Challenge: %s\n%s\n\n", ch.name, ch.task)
	fmt.Fprintf(&b, "## Question\n%s\n\n", question)
	fmt.Fprintf(&b, "## Answer under attack\n%s\n\n", runner.Truncate(text, 3000))
	b.WriteString("## Instructions\n")
	fmt.Fprintf(&b, "If you find no real issues, reply with exactly %q.\n", noIssuesMarker)
	b.WriteString("Otherwise list each issue on its own line as: SEVERITY(high|medium|low): description\n")
	return b.String()
}

// parseChallengeResponse extracts issue lines and reports whether any is
// high severity.
func parseChallengeResponse(raw string) (issues []string, high bool) {
	if strings.Contains(raw, noIssuesMarker) {
		return nil, false
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "high:"):
			high = true
			issues = append(issues, line)
		case strings.HasPrefix(lower, "medium:"), strings.HasPrefix(lower, "low:"):
			issues = append(issues, line)
		}
	}
	// A response with neither the marker nor parseable issues is treated as
	// one unclassified issue so sloppy attackers cannot grant free passes.
	if len(issues) == 0 {
		issues = append(issues, "unstructured findings: "+runner.Truncate(strings.TrimSpace(raw), 200))
	}
	return issues, high
}
