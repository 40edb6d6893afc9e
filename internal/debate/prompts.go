package debate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/councilgo-dev/councilgo/internal/evaluate"
	"github.com/councilgo-dev/councilgo/internal/expert"
	"github.com/councilgo-dev/councilgo/internal/runner"
	"github.com/councilgo-dev/councilgo/internal/verify"
)

// UltrathinkMarker is prepended to the first expert's round-1 prompt when the
// caller requests deeper reasoning. It must pass through to the worker
// unchanged.
const UltrathinkMarker = "ultrathink"

// BestProposalLimit caps the best-proposal excerpt inside review prompts, in
// code points.
const BestProposalLimit = 3000

// ImprovementLimit caps each contributor's section in the final synthesis.
const ImprovementLimit = 2000

// proposePrompt builds the round-1 prompt for one replica. For a single
// replica the instance block is omitted entirely, which keeps the prompt
// identical to a plain invocation of the expert.
func proposePrompt(desc *expert.Descriptor, spec expert.InstanceSpec, question, workdir string, ultrathink bool) string {
	var b strings.Builder
	if ultrathink {
		b.WriteString(UltrathinkMarker + "\n\n")
	}
	fmt.Fprintf(&b, "You are %s (%s).\n", desc.DisplayName, desc.RoleTag)
	fmt.Fprintf(&b, "Your expertise: %s\n\n", desc.Expertise)
	fmt.Fprintf(&b, "## Question\n%s\n\n", question)

	if spec.ReplicaCount > 1 {
		fmt.Fprintf(&b, "## Instance context\nYou are instance %d of %d, focus: %s.\n%s\n\n",
			spec.InstanceIndex, spec.ReplicaCount, spec.FocusLabel, spec.Instructions)
	}

	if workdir != "" {
		fmt.Fprintf(&b, "## Working directory\n%s\n\n", workdir)
	}

	b.WriteString("## Instructions\n")
	b.WriteString("1. Understand the project context before answering.\n")
	b.WriteString("2. Read the relevant files in the working directory.\n")
	b.WriteString("3. Run commands if needed to verify your understanding.\n")
	b.WriteString("4. Provide a concrete, actionable solution.\n")
	return b.String()
}

// reviewPrompt builds the round-2 prompt asking a non-winning expert to
// improve the leading proposal.
func reviewPrompt(desc *expert.Descriptor, question, bestText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s).\n", desc.DisplayName, desc.RoleTag)
	fmt.Fprintf(&b, "Your expertise: %s\n\n", desc.Expertise)
	fmt.Fprintf(&b, "## Question\n%s\n\n", question)
	fmt.Fprintf(&b, "## Leading proposal\n%s\n\n", runner.Truncate(bestText, BestProposalLimit))
	b.WriteString("## Instructions\n")
	b.WriteString("Review the leading proposal and improve it. Do not rewrite it from scratch.\n")
	b.WriteString("1. Point out concrete mistakes or risks, if any.\n")
	b.WriteString("2. Add what your expertise contributes that the proposal lacks.\n")
	b.WriteString("3. Keep your response focused; skip praise and restatement.\n")
	return b.String()
}

// composeFinal renders the structured final answer: header, optional
// verification section, the winning proposal verbatim, contributions from the
// other experts, and the evaluator's table when present.
func composeFinal(best *expert.Descriptor, ranking *evaluate.Ranking, bestText string, improvements map[string]string, verification *verify.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Consensus Answer\n\n")
	fmt.Fprintf(&b, "**Lead expert:** %s (%s), score %.0f/100\n\n", best.DisplayName, best.ID, ranking.BestScore())

	if verification != nil && verification.Enabled {
		b.WriteString("## Verification\n\n")
		fmt.Fprintf(&b, "Overall verification confidence: %.0f%%. ", verification.OverallConfidence*100)
		if verification.SecurityVerifiedOverall {
			b.WriteString("Security checks passed.\n")
		} else {
			b.WriteString("Security checks raised issues.\n")
		}
		if warnings := collectWarnings(verification); len(warnings) > 0 {
			b.WriteString("\nWarnings:\n")
			for _, w := range warnings {
				fmt.Fprintf(&b, "- %s\n", w)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Solution\n\n")
	b.WriteString(bestText)
	b.WriteString("\n")

	if len(improvements) > 0 {
		b.WriteString("\n## Enhancements from other experts\n")
		for _, id := range sortedKeys(improvements) {
			fmt.Fprintf(&b, "\n### %s\n\n%s\n", id, runner.Truncate(improvements[id], ImprovementLimit))
		}
	}

	if len(ranking.Items) > 0 {
		b.WriteString("\n## Expert evaluation\n\n")
		b.WriteString("| Expert | Score | Strengths | Weaknesses |\n")
		b.WriteString("|--------|-------|-----------|------------|\n")
		ids := make([]string, 0, len(ranking.Scores))
		for id := range ranking.Scores {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			note := ranking.Items[id]
			fmt.Fprintf(&b, "| %s | %.0f | %s | %s |\n",
				id, ranking.Scores[id], tableCell(note.Strengths), tableCell(note.Weaknesses))
		}
	}

	return b.String()
}

func collectWarnings(v *verify.Report) []string {
	var out []string
	for _, id := range sortedReportKeys(v.PerProposal) {
		for _, w := range v.PerProposal[id].Warnings {
			out = append(out, fmt.Sprintf("[%s] %s", id, w))
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedReportKeys(m map[string]*verify.ProposalReport) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	if s == "" {
		return "-"
	}
	return s
}
