// Package openaichat implements the OpenAI-compatible chat completions
// protocol used by both inference services. Zhipu GLM (智谱), DeepSeek and
// most self-hosted gateways expose this format, so one client covers the
// vision and reasoning backends alike.
package openaichat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/inference"
	"github.com/BaSui01/visionflow/internal/tlsutil"
	"github.com/BaSui01/visionflow/types"
)

// Config configures one chat completions backend.
type Config struct {
	// Name identifies the service in logs and errors ("vision", "reasoning").
	Name string

	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// Temperature and MaxTokens are defaults applied when the request
	// leaves them unset.
	Temperature float32
	MaxTokens   int
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a chat completions client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "openaichat"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://open.bigmodel.cn/api/paas/v4"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger.With(zap.String("service", cfg.Name)),
	}
}

func (c *Client) Name() string { return c.cfg.Name }

// HealthCheck probes the backend via the models listing endpoint.
func (c *Client) HealthCheck(ctx context.Context) (*inference.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/models", strings.TrimRight(c.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &inference.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readErrMsg(resp.Body)
		return &inference.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("%s health check failed: status=%d msg=%s", c.cfg.Name, resp.StatusCode, msg)
	}

	return &inference.HealthStatus{Healthy: true, Latency: latency}, nil
}

// OpenAI-compatible wire types. Content is either a plain string or a
// list of parts when images are attached.
type apiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type apiContentPart struct {
	Type     string       `json:"type"` // "text" | "image_url"
	Text     string       `json:"text,omitempty"`
	ImageURL *apiImageURL `json:"image_url,omitempty"`
}

type apiImageURL struct {
	URL string `json:"url"`
}

type apiRequest struct {
	Model          string       `json:"model"`
	Messages       []apiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	Temperature    float32      `json:"temperature,omitempty"`
	Stream         bool         `json:"stream,omitempty"`
	ResponseFormat any          `json:"response_format,omitempty"`
}

type apiChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Usage   *apiUsage   `json:"usage,omitempty"`
	Created int64       `json:"created,omitempty"`
}

type apiErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *Client) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func convertMessages(msgs []inference.Message) []apiMessage {
	out := make([]apiMessage, 0, len(msgs))
	for _, m := range msgs {
		am := apiMessage{Role: string(m.Role)}
		if len(m.Images) == 0 {
			am.Content = m.Content
		} else {
			parts := make([]apiContentPart, 0, len(m.Images)+1)
			if m.Content != "" {
				parts = append(parts, apiContentPart{Type: "text", Text: m.Content})
			}
			for _, img := range m.Images {
				parts = append(parts, apiContentPart{
					Type:     "image_url",
					ImageURL: &apiImageURL{URL: img.DataURL()},
				})
			}
			am.Content = parts
		}
		out = append(out, am)
	}
	return out
}

// mapError translates an upstream HTTP status to the shared error taxonomy.
func (c *Client) mapError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg).
			WithHTTPStatus(status).WithService(c.cfg.Name)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).
			WithHTTPStatus(status).WithRetryable(true).WithService(c.cfg.Name)
	case http.StatusBadRequest:
		return types.NewError(types.ErrInvalidRequest, msg).
			WithHTTPStatus(status).WithService(c.cfg.Name)
	case http.StatusNotFound:
		return types.NewError(types.ErrNotFound, msg).
			WithHTTPStatus(status).WithService(c.cfg.Name)
	case http.StatusRequestTimeout, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return types.NewTransientService(c.cfg.Name, fmt.Errorf("status=%d msg=%s", status, msg))
	default:
		if status >= 500 {
			return types.NewTransientService(c.cfg.Name, fmt.Errorf("status=%d msg=%s", status, msg))
		}
		return types.NewError(types.ErrInternalError, msg).
			WithHTTPStatus(status).WithService(c.cfg.Name)
	}
}

// Complete implements inference.Client.
func (c *Client) Complete(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error) {
	body := apiRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.Model == "" {
		body.Model = c.cfg.Model
	}
	if body.MaxTokens == 0 {
		body.MaxTokens = c.cfg.MaxTokens
	}
	if body.Temperature == 0 {
		body.Temperature = c.cfg.Temperature
	}
	if req.JSONMode {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}
	payload, _ := json.Marshal(body)

	endpoint := fmt.Sprintf("%s/chat/completions", strings.TrimRight(c.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	c.buildHeaders(httpReq)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.NewTransientService(c.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		c.logger.Warn("chat completion rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return nil, c.mapError(resp.StatusCode, msg)
	}

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, types.NewTransientService(c.cfg.Name, fmt.Errorf("decode response: %w", err))
	}
	if len(ar.Choices) == 0 {
		return nil, types.NewTransientService(c.cfg.Name, fmt.Errorf("response has no choices"))
	}

	c.logger.Debug("chat completion finished",
		zap.String("model", ar.Model),
		zap.Duration("latency", time.Since(start)),
	)

	out := &inference.ChatResponse{
		ID:           ar.ID,
		Model:        ar.Model,
		Content:      ar.Choices[0].Message.Content,
		FinishReason: ar.Choices[0].FinishReason,
	}
	if ar.Usage != nil {
		out.Usage = inference.ChatUsage{
			PromptTokens:     ar.Usage.PromptTokens,
			CompletionTokens: ar.Usage.CompletionTokens,
			TotalTokens:      ar.Usage.TotalTokens,
		}
	}
	return out, nil
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp apiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(data)
}
