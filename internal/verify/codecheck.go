package verify

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity of a static code finding; the multiplier downgrades the
// code-correctness score.
type severity struct {
	label      string
	multiplier float64
}

var (
	severityHigh   = severity{"high", 0.7}
	severityMedium = severity{"medium", 0.8}
	severityLow    = severity{"low", 0.9}
)

// codePattern is one static check applied to extracted code blocks.
type codePattern struct {
	name     string
	severity severity
	match    func(block string) bool
}

var (
	evalRe        = regexp.MustCompile(`\b(eval|exec)\s*\(|new\s+Function\s*\(`)
	htmlSinkRe    = regexp.MustCompile(`\.innerHTML\s*=|document\.write\s*\(|dangerouslySetInnerHTML`)
	credentialLog = regexp.MustCompile(`(?i)(console\.(log|error|warn)|print|log\.|logger\.|fmt\.Print)\w*\s*\([^)]*(password|secret|token|api_?key|credential|process\.env)`)
	awaitInLoopRe = regexp.MustCompile(`for\s*(\(|\w).*\{[^}]*\bawait\b`)
	shellExecRe   = regexp.MustCompile(`os\.system\s*\(|subprocess\.call\s*\([^)]*shell\s*=\s*True|child_process|\bexec\.Command\([^)]*sh\s*,\s*"-c"`)
	sqlConcatRe   = regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE)[^;]*("\s*\+|'\s*\+|\+\s*"|\$\{)`)
)

// codePatterns is the fixed static check catalogue.
var codePatterns = []codePattern{
	{"unbalanced braces", severityMedium, func(b string) bool {
		return strings.Count(b, "{") != strings.Count(b, "}")
	}},
	{"eval-like construct", severityHigh, func(b string) bool {
		return evalRe.MatchString(b)
	}},
	{"unsanitized HTML assignment", severityHigh, func(b string) bool {
		return htmlSinkRe.MatchString(b)
	}},
	{"credentials or environment logged", severityHigh, func(b string) bool {
		return credentialLog.MatchString(b)
	}},
	{"sequential await inside loop", severityLow, func(b string) bool {
		return awaitInLoopRe.MatchString(b) && !strings.Contains(b, "Promise.all")
	}},
	{"shell execution of dynamic input", severityHigh, func(b string) bool {
		return shellExecRe.MatchString(b)
	}},
	{"SQL built by string concatenation", severityMedium, func(b string) bool {
		return sqlConcatRe.MatchString(b)
	}},
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9+_-]*\n(.*?)```")

// ExtractCodeBlocks returns the contents of fenced code blocks in text.
func ExtractCodeBlocks(text string) []string {
	matches := fenceRe.FindAllStringSubmatch(text, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		if strings.TrimSpace(m[1]) != "" {
			blocks = append(blocks, m[1])
		}
	}
	return blocks
}

// CheckCodePatterns scores the proposal's code blocks against the static
// pattern catalogue. The score starts at 1.0 and each distinct finding
// downgrades it multiplicatively by its severity. Proposals without code
// score 1.0.
func CheckCodePatterns(text string) (float64, []string) {
	blocks := ExtractCodeBlocks(text)
	if len(blocks) == 0 {
		return 1.0, nil
	}

	score := 1.0
	var warnings []string
	for i, block := range blocks {
		for _, p := range codePatterns {
			if p.match(block) {
				score *= p.severity.multiplier
				warnings = append(warnings,
					fmt.Sprintf("code block %d: %s (%s severity)", i+1, p.name, p.severity.label))
			}
		}
	}
	return score, warnings
}
