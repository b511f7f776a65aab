package llm

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

	"github.com/researchforge/researchd/internal/metrics"
)

// HTTPClient calls an OpenAI-compatible chat completions endpoint. Covers
// OpenAI itself, local gateways (Ollama, llama.cpp server) and most hosted
// proxies.
type HTTPClient struct {
	baseURL string
	apiKey  string
	catalog *Catalog
	client  *http.Client
	logger  *zap.Logger
}

// Options configures an HTTPClient.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Catalog *Catalog
}

// NewHTTPClient builds a client with a bounded per-call timeout.
func NewHTTPClient(opts Options, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		catalog: catalog,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion request and classifies failures into
// the {rate_limited, invalid_response, unavailable} taxonomy.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := c.complete(ctx, req)
	metrics.LLMCallDuration.WithLabelValues(req.Role).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LLMCalls.WithLabelValues(req.Role, status).Inc()
	return resp, err
}

func (c *HTTPClient) complete(ctx context.Context, req Request) (*Response, error) {
	model := c.catalog.ModelFor(req.Role)

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: model %s", ErrRateLimited, model)
	case httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, httpResp.StatusCode)
	case httpResp.StatusCode != http.StatusOK:
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, httpResp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}

	c.logger.Debug("LLM call completed",
		zap.String("role", req.Role),
		zap.String("model", model),
		zap.Int("tokens", parsed.Usage.TotalTokens),
	)
	return &Response{
		Text:       parsed.Choices[0].Message.Content,
		Model:      model,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}
