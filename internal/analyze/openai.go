package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAnalyzer classifies questions with an OpenAI-compatible chat model.
// The model is asked for a strict JSON object; anything unparseable is an
// error so the caller can fall back to the keyword heuristic.
type OpenAIAnalyzer struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnalyzer builds an analyzer for the given key and model. baseURL
// overrides the endpoint for OpenAI-compatible servers.
func NewOpenAIAnalyzer(apiKey, baseURL, model string) *OpenAIAnalyzer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAnalyzer{client: openai.NewClientWithConfig(cfg), model: model}
}

// NewOpenAIAnalyzerFromClient wraps an existing client (tests).
func NewOpenAIAnalyzerFromClient(client *openai.Client, model string) *OpenAIAnalyzer {
	return &OpenAIAnalyzer{client: client, model: model}
}

const analyzePromptTemplate = `Classify the following question for a multi-expert consensus engine.

Question: %s
Working directory: %s

Respond with ONLY a JSON object, no prose, with these fields:
{
  "category": one of [architecture, code-generation, code-review, debugging, refactoring, testing, security, performance, database, data-migration, api-design, frontend, backend, devops, infrastructure, documentation, algorithms, concurrency, networking, machine-learning, financial, production, compliance, research, general/factual, general/analysis],
  "complexity": number 0..1,
  "criticality": number 0..1,
  "urgency": number 0..1,
  "context_clues": array of short strings,
  "reasoning": one sentence,
  "confidence": number 0..1
}`

type analyzerResponse struct {
	Category     string   `json:"category"`
	Complexity   float64  `json:"complexity"`
	Criticality  float64  `json:"criticality"`
	Urgency      float64  `json:"urgency"`
	ContextClues []string `json:"context_clues"`
	Reasoning    string   `json:"reasoning"`
	Confidence   float64  `json:"confidence"`
}

// Analyze implements Analyzer.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, question, workdir string) (*Analysis, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(analyzePromptTemplate, question, workdir)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("analyzer returned no choices")
	}

	parsed, err := parseAnalyzerJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		Category:     parsed.Category,
		Complexity:   clamp01(parsed.Complexity),
		Criticality:  clamp01(parsed.Criticality),
		Urgency:      clamp01(parsed.Urgency),
		ContextClues: parsed.ContextClues,
		Reasoning:    parsed.Reasoning,
		Confidence:   clamp01(parsed.Confidence),
		Source:       SourceAnalyzer,
	}
	if analysis.Category == "" {
		analysis.Category = FallbackCategory
	}
	return analysis, nil
}

// parseAnalyzerJSON tolerates markdown fences around the JSON object but
// nothing else.
func parseAnalyzerJSON(content string) (*analyzerResponse, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}
	var parsed analyzerResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("parse analyzer response: %w", err)
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
