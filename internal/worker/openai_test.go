package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councilgo-dev/councilgo/internal/expert"
	"github.com/councilgo-dev/councilgo/internal/retry"
)

func newChatServer(t *testing.T, handler func(req map[string]any) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(handler(req)))
	}))
}

func TestOpenAIWorkerInvoke(t *testing.T) {
	var gotModel string
	var gotTemp float64
	srv := newChatServer(t, func(req map[string]any) any {
		gotModel = req["model"].(string)
		gotTemp, _ = req["temperature"].(float64)
		return map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"role": "assistant", "content": "api answer"}},
			},
		}
	})
	defer srv.Close()

	w := NewOpenAIWorker("test-key", srv.URL+"/v1", "gpt-4o-mini")
	spec := expert.InstanceSpec{Seed: 2000, Temperature: 0.45, InstanceIndex: 2, ReplicaCount: 3}

	out, err := w.Invoke(context.Background(), Invocation{Prompt: "q", Instance: &spec})
	require.NoError(t, err)
	assert.Equal(t, "api answer", out)
	assert.Equal(t, "gpt-4o-mini", gotModel)
	assert.InDelta(t, 0.45, gotTemp, 1e-6)
}

func TestOpenAIWorkerEmptyChoices(t *testing.T) {
	srv := newChatServer(t, func(map[string]any) any {
		return map[string]any{"choices": []any{}}
	})
	defer srv.Close()

	clientCfg := openai.DefaultConfig("test-key")
	clientCfg.BaseURL = srv.URL + "/v1"
	w := NewOpenAIWorkerFromClient(openai.NewClientWithConfig(clientCfg), "gpt-4o-mini")
	_, err := w.Invoke(context.Background(), Invocation{Prompt: "q"})

	var ce *retry.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, retry.KindServer, ce.Kind)
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		status int
		want   retry.ErrorKind
	}{
		{http.StatusTooManyRequests, retry.KindRateLimit},
		{http.StatusUnauthorized, retry.KindAuth},
		{http.StatusForbidden, retry.KindAuth},
		{http.StatusBadGateway, retry.KindServer},
		{http.StatusUnprocessableEntity, retry.KindClient},
	}

	for _, tt := range tests {
		err := classifyAPIError(&openai.APIError{HTTPStatusCode: tt.status})
		var ce *retry.ClassifiedError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, tt.want, ce.Kind, "status %d", tt.status)
	}

	// Non-API errors fall back to text classification.
	err := classifyAPIError(errors.New("connection refused"))
	var ce *retry.ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, retry.KindNetwork, ce.Kind)
}
