package openaichat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/inference"
	"github.com/BaSui01/visionflow/types"
)

func TestClient_Name(t *testing.T) {
	c := New(Config{Name: "vision"}, zap.NewNop())
	assert.Equal(t, "vision", c.Name())

	c = New(Config{}, zap.NewNop())
	assert.Equal(t, "openaichat", c.Name())
}

func TestClient_Defaults(t *testing.T) {
	c := New(Config{APIKey: "test-key"}, zap.NewNop())
	require.NotNil(t, c)
	assert.Equal(t, "https://open.bigmodel.cn/api/paas/v4", c.cfg.BaseURL)
	assert.Equal(t, 30*time.Second, c.client.Timeout)
}

// completionServer returns a test server that records the decoded request
// body and replies with the given handler.
func completionServer(t *testing.T, captured *apiRequest, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		handler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func okResponse(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "chatcmpl-1",
			"model": "glm-4v",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": content},
				},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46},
		})
	}
}

func TestClient_Complete(t *testing.T) {
	var got apiRequest
	srv := completionServer(t, &got, okResponse(`{"page_type":"login"}`))

	c := New(Config{
		Name:        "vision",
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Model:       "glm-4v",
		Temperature: 0.2,
		MaxTokens:   2048,
	}, zap.NewNop())

	resp, err := c.Complete(context.Background(), &inference.ChatRequest{
		Messages: []inference.Message{
			{Role: inference.RoleSystem, Content: "You analyze UI screenshots."},
			{Role: inference.RoleUser, Content: "Describe the page."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, `{"page_type":"login"}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 46, resp.Usage.TotalTokens)

	// Config defaults filled into the wire request.
	assert.Equal(t, "glm-4v", got.Model)
	assert.Equal(t, float32(0.2), got.Temperature)
	assert.Equal(t, 2048, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestClient_Complete_ImageParts(t *testing.T) {
	var rawBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rawBody))
		okResponse("ok")(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(Config{Name: "vision", BaseURL: srv.URL, APIKey: "k", Model: "glm-4v"}, zap.NewNop())

	_, err := c.Complete(context.Background(), &inference.ChatRequest{
		Messages: []inference.Message{
			{
				Role:    inference.RoleUser,
				Content: "Extract the UI schema.",
				Images:  []inference.ImagePart{{Data: []byte{0x89, 0x50, 0x4e, 0x47}, MIME: "image/png"}},
			},
		},
	})
	require.NoError(t, err)

	msgs := rawBody["messages"].([]any)
	require.Len(t, msgs, 1)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)

	text := content[0].(map[string]any)
	assert.Equal(t, "text", text["type"])
	assert.Equal(t, "Extract the UI schema.", text["text"])

	img := content[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	url := img["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestClient_Complete_JSONMode(t *testing.T) {
	var got apiRequest
	srv := completionServer(t, &got, okResponse("{}"))

	c := New(Config{Name: "reasoning", BaseURL: srv.URL, APIKey: "k", Model: "glm-4"}, zap.NewNop())
	_, err := c.Complete(context.Background(), &inference.ChatRequest{
		Messages: []inference.Message{{Role: inference.RoleUser, Content: "plan"}},
		JSONMode: true,
	})
	require.NoError(t, err)
	require.NotNil(t, got.ResponseFormat)
	rf := got.ResponseFormat.(map[string]any)
	assert.Equal(t, "json_object", rf["type"])
}

func TestClient_Complete_ErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantCode      types.ErrorCode
		wantRetryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, types.ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, types.ErrUnauthorized, false},
		{"rate limited", http.StatusTooManyRequests, types.ErrRateLimited, true},
		{"bad request", http.StatusBadRequest, types.ErrInvalidRequest, false},
		{"not found", http.StatusNotFound, types.ErrNotFound, false},
		{"bad gateway", http.StatusBadGateway, types.ErrTransientService, true},
		{"service unavailable", http.StatusServiceUnavailable, types.ErrTransientService, true},
		{"internal server error", http.StatusInternalServerError, types.ErrTransientService, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := completionServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "upstream says no"},
				})
			})

			c := New(Config{Name: "vision", BaseURL: srv.URL, APIKey: "k", Model: "m"}, zap.NewNop())
			_, err := c.Complete(context.Background(), &inference.ChatRequest{
				Messages: []inference.Message{{Role: inference.RoleUser, Content: "hi"}},
			})
			require.Error(t, err)

			appErr, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, appErr.Code)
			assert.Equal(t, tt.wantRetryable, appErr.Retryable)
			assert.Equal(t, "vision", appErr.Service)
		})
	}
}

func TestClient_Complete_EmptyChoices(t *testing.T) {
	srv := completionServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "x", "choices": []any{}})
	})

	c := New(Config{Name: "vision", BaseURL: srv.URL, APIKey: "k", Model: "m"}, zap.NewNop())
	_, err := c.Complete(context.Background(), &inference.ChatRequest{
		Messages: []inference.Message{{Role: inference.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTransientService))
}

func TestClient_Complete_AuthHeader(t *testing.T) {
	var auth string
	srv := completionServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		okResponse("ok")(w, r)
	})

	c := New(Config{Name: "vision", BaseURL: srv.URL, APIKey: "secret-key", Model: "m"}, zap.NewNop())
	_, err := c.Complete(context.Background(), &inference.ChatRequest{
		Messages: []inference.Message{{Role: inference.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-key", auth)
}

func TestClient_HealthCheck(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(Config{Name: "vision", BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	status, err := c.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Greater(t, status.Latency, time.Duration(0))
}

func TestClient_HealthCheck_Unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{Name: "vision", BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	status, err := c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.False(t, status.Healthy)
}
