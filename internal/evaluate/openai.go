package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEvaluator judges proposals with an OpenAI-compatible chat model.
type OpenAIEvaluator struct {
	client *openai.Client
	model  string
}

// NewOpenAIEvaluator builds an evaluator for the given key and model.
func NewOpenAIEvaluator(apiKey, baseURL, model string) *OpenAIEvaluator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEvaluator{client: openai.NewClientWithConfig(cfg), model: model}
}

// NewOpenAIEvaluatorFromClient wraps an existing client (tests).
func NewOpenAIEvaluatorFromClient(client *openai.Client, model string) *OpenAIEvaluator {
	return &OpenAIEvaluator{client: client, model: model}
}

type judgeResponse struct {
	Best   string `json:"best"`
	Scores map[string]struct {
		Score      float64 `json:"score"`
		Strengths  string  `json:"strengths"`
		Weaknesses string  `json:"weaknesses"`
	} `json:"scores"`
	Notes string `json:"notes"`
}

// Rank implements Evaluator.
func (e *OpenAIEvaluator) Rank(ctx context.Context, question string, proposals map[string]string) (*Ranking, error) {
	if len(proposals) == 0 {
		return nil, fmt.Errorf("no proposals to rank")
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildJudgePrompt(question, proposals)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("evaluator completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("evaluator returned no choices")
	}

	return parseJudgeResponse(resp.Choices[0].Message.Content, proposals)
}

func buildJudgePrompt(question string, proposals map[string]string) string {
	ids := make([]string, 0, len(proposals))
	for id := range proposals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("You are judging competing answers to a question. Score each answer 0-100 for correctness, completeness, and practicality.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	for _, id := range ids {
		fmt.Fprintf(&b, "--- Answer from %s ---\n%s\n\n", id, proposals[id])
	}
	b.WriteString("Respond with ONLY a JSON object:\n")
	b.WriteString(`{"best": "<id>", "scores": {"<id>": {"score": 0-100, "strengths": "...", "weaknesses": "..."}}, "notes": "..."}`)
	return b.String()
}

func parseJudgeResponse(content string, proposals map[string]string) (*Ranking, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			content = content[start : end+1]
		}
	}

	var parsed judgeResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("parse evaluator response: %w", err)
	}

	ranking := &Ranking{
		Best:   parsed.Best,
		Scores: make(map[string]float64),
		Items:  make(map[string]ItemNote),
		Notes:  parsed.Notes,
	}
	for id, item := range parsed.Scores {
		if _, known := proposals[id]; !known {
			continue
		}
		score := item.Score
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
		ranking.Scores[id] = score
		ranking.Items[id] = ItemNote{Strengths: item.Strengths, Weaknesses: item.Weaknesses}
	}

	// Repair a best pointer the model got wrong rather than failing the round.
	if err := ranking.Validate(); err != nil {
		best, top := "", -1.0
		for id, s := range ranking.Scores {
			if s > top || (s == top && id < best) {
				best, top = id, s
			}
		}
		if best == "" {
			return nil, fmt.Errorf("evaluator response unusable: %w", err)
		}
		ranking.Best = best
	}
	return ranking, nil
}
