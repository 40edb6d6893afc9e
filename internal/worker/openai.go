package worker

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/councilgo-dev/councilgo/internal/retry"
)

// OpenAIWorker drives an expert through an OpenAI-compatible chat API instead
// of a subprocess. Useful for experts hosted behind an HTTP endpoint and for
// local OpenAI-compatible runtimes.
type OpenAIWorker struct {
	client *openai.Client
	model  string
}

// NewOpenAIWorker builds a worker for the given API key and model. baseURL
// overrides the endpoint for OpenAI-compatible servers; empty keeps the
// default.
func NewOpenAIWorker(apiKey, baseURL, model string) *OpenAIWorker {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIWorker{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// NewOpenAIWorkerFromClient wraps an existing client (tests).
func NewOpenAIWorkerFromClient(client *openai.Client, model string) *OpenAIWorker {
	return &OpenAIWorker{client: client, model: model}
}

// Invoke implements Worker.
func (w *OpenAIWorker) Invoke(ctx context.Context, inv Invocation) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: w.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: inv.Prompt},
		},
	}
	if inv.Instance != nil {
		req.Temperature = float32(inv.Instance.Temperature)
		seed := inv.Instance.Seed
		req.Seed = &seed
	}

	resp, err := w.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &retry.ClassifiedError{Kind: retry.KindServer, Err: fmt.Errorf("empty completion for model %s", w.model)}
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyAPIError maps go-openai errors onto the retry taxonomy using the
// HTTP status when available.
func classifyAPIError(err error) error {
	if apiErr, ok := err.(*openai.APIError); ok {
		kind := retry.KindUnknown
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			kind = retry.KindRateLimit
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			kind = retry.KindAuth
		case apiErr.HTTPStatusCode >= 500:
			kind = retry.KindServer
		case apiErr.HTTPStatusCode >= 400:
			kind = retry.KindClient
		}
		return &retry.ClassifiedError{Kind: kind, Err: err}
	}
	return retry.Classify(err)
}
