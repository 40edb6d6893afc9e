// Package analyze classifies questions: category, complexity, criticality and
// urgency drive expert selection and verification triggering.
package analyze

import (
	"context"
	"strings"
)

// Level buckets a continuous score for selection rules.
type Level string

const (
	LevelTrivial  Level = "trivial"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Source records where an analysis came from.
type Source string

const (
	SourceAnalyzer   Source = "analyzer"
	SourceFallback   Source = "fallback-heuristic"
	SourceUserDirect Source = "user-direct"
)

// FallbackCategory is used when no category matches.
const FallbackCategory = "general/analysis"

// Analysis is the classification of one question.
type Analysis struct {
	Category     string   `json:"category"`
	Complexity   float64  `json:"complexity"`
	Criticality  float64  `json:"criticality"`
	Urgency      float64  `json:"urgency"`
	ContextClues []string `json:"context_clues,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`
	Confidence   float64  `json:"confidence"`
	Source       Source   `json:"source"`
}

// ComplexityLevel thresholds the complexity score.
func (a *Analysis) ComplexityLevel() Level { return levelOf(a.Complexity) }

// CriticalityLevel thresholds the criticality score. Trivial does not apply
// to criticality; scores below the low threshold report low.
func (a *Analysis) CriticalityLevel() Level {
	l := levelOf(a.Criticality)
	if l == LevelTrivial {
		return LevelLow
	}
	return l
}

func levelOf(score float64) Level {
	switch {
	case score < 0.2:
		return LevelTrivial
	case score < 0.4:
		return LevelLow
	case score < 0.6:
		return LevelMedium
	case score < 0.8:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Analyzer classifies a question. Production implementations are LLM-backed;
// the engine falls back to Heuristic when the analyzer fails.
type Analyzer interface {
	Analyze(ctx context.Context, question, workdir string) (*Analysis, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, question, workdir string) (*Analysis, error)

// Analyze implements Analyzer.
func (f AnalyzerFunc) Analyze(ctx context.Context, question, workdir string) (*Analysis, error) {
	return f(ctx, question, workdir)
}

// categoryKeywords maps categories to trigger keywords for the deterministic
// fallback. Order matters: the first category with a match wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"security", []string{"security", "vulnerability", "exploit", "auth", "password", "encrypt", "token", "csrf", "xss", "injection"}},
	{"financial", []string{"payment", "billing", "invoice", "financial", "money", "transaction", "currency"}},
	{"compliance", []string{"gdpr", "hipaa", "compliance", "audit", "regulation", "privacy policy"}},
	{"data-migration", []string{"migration", "migrate", "schema change", "backfill"}},
	{"production", []string{"production", "outage", "incident", "rollback", "hotfix"}},
	{"database", []string{"database", "sql", "query", "index", "postgres", "mysql", "transaction isolation"}},
	{"debugging", []string{"bug", "debug", "crash", "stack trace", "panic", "segfault", "error message"}},
	{"performance", []string{"performance", "slow", "latency", "optimize", "profil", "throughput", "memory usage"}},
	{"testing", []string{"test", "coverage", "mock", "assertion", "flaky"}},
	{"refactoring", []string{"refactor", "clean up", "rename", "extract", "restructure"}},
	{"architecture", []string{"architecture", "design pattern", "microservice", "monolith", "scalab", "system design"}},
	{"api-design", []string{"api", "endpoint", "rest", "grpc", "graphql", "versioning"}},
	{"concurrency", []string{"concurren", "race", "deadlock", "mutex", "goroutine", "thread", "parallel"}},
	{"networking", []string{"network", "tcp", "udp", "http", "dns", "tls", "socket"}},
	{"frontend", []string{"frontend", "css", "react", "component", "browser", "dom"}},
	{"devops", []string{"docker", "kubernetes", "ci", "pipeline", "deploy", "terraform", "helm"}},
	{"machine-learning", []string{"model", "training", "inference", "embedding", "neural", "llm"}},
	{"algorithms", []string{"algorithm", "complexity", "big o", "sort", "graph", "tree"}},
	{"documentation", []string{"document", "readme", "docstring", "changelog"}},
	{"code-generation", []string{"write a", "implement", "generate", "create a function", "build a"}},
	{"code-review", []string{"review", "feedback on", "critique"}},
	{"research", []string{"research", "compare", "survey", "state of the art", "which library"}},
	{"general/factual", []string{"what is", "who is", "when did", "how many", "define"}},
}

// simpleVocabulary marks questions about basic programming constructs; such
// questions get low complexity and criticality.
var simpleVocabulary = []string{
	"variable", "function", "loop", "string", "array", "list", "print",
	"syntax", "operator", "boolean",
}

// Heuristic is the deterministic keyword classifier used when the analyzer
// collaborator fails. It tokenizes the lowercased question and applies a
// fixed adjustment table.
func Heuristic(question string) *Analysis {
	q := strings.ToLower(question)

	category := FallbackCategory
	var clues []string
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(q, kw) {
				category = entry.category
				clues = append(clues, kw)
				break
			}
		}
		if category != FallbackCategory {
			break
		}
	}

	complexity := 0.5
	criticality := 0.3
	urgency := 0.3

	if containsAnyWord(q, "critical", "urgent", "production") {
		criticality = 0.8
		urgency = 0.8
	}
	if strings.Contains(q, "complex") {
		complexity += 0.3
		if complexity > 1.0 {
			complexity = 1.0
		}
	}
	if containsAnyWord(q, simpleVocabulary...) {
		complexity = 0.2
		criticality = 0.1
	}

	return &Analysis{
		Category:     category,
		Complexity:   complexity,
		Criticality:  criticality,
		Urgency:      urgency,
		ContextClues: clues,
		Reasoning:    "keyword heuristic (analyzer unavailable)",
		Confidence:   0.4,
		Source:       SourceFallback,
	}
}

func containsAnyWord(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
