// Package ocr is the HTTP client for the text extraction side-channel.
// Extracted text is advisory input for the vision prompt; callers treat
// failures as non-fatal.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/internal/tlsutil"
	"github.com/BaSui01/visionflow/types"
)

// Config configures the OCR client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Language is the recognition hint, e.g. "chi_sim+eng".
	Language string
}

// Result is one extraction outcome.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Client calls the OCR service.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates an OCR client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8089"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger.With(zap.String("component", "ocr")),
	}
}

type extractRequest struct {
	Image    string `json:"image"` // base64
	Language string `json:"language,omitempty"`
}

// Extract runs text recognition over the image bytes.
func (c *Client) Extract(ctx context.Context, image []byte) (*Result, error) {
	if len(image) == 0 {
		return nil, types.NewInvalidInput("ocr: image payload is empty")
	}

	payload, _ := json.Marshal(extractRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		Language: c.cfg.Language,
	})

	endpoint := fmt.Sprintf("%s/ocr", strings.TrimRight(c.cfg.BaseURL, "/"))
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.NewTransientService("ocr", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return nil, types.NewTransientService("ocr", fmt.Errorf("status=%d msg=%s", resp.StatusCode, body))
		}
		return nil, types.NewError(types.ErrInvalidRequest, string(body)).
			WithHTTPStatus(resp.StatusCode).WithService("ocr")
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, types.NewTransientService("ocr", fmt.Errorf("decode response: %w", err))
	}

	c.logger.Debug("text extracted",
		zap.Int("chars", len(result.Text)),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("latency", time.Since(start)),
	)

	return &result, nil
}
