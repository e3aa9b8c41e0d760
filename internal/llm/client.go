package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexiqai/trades-chat/internal/observability"
	"github.com/lexiqai/trades-chat/internal/resilience"
)

// Config holds OpenAI-compatible client configuration
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // per attempt
	Breaker     *resilience.CircuitBreaker
	Retry       *resilience.RetryConfig
}

// Client is an OpenAI-compatible chat completion client
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new OpenAI-compatible client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		config:     cfg,
		httpClient: &http.Client{},
	}, nil
}

// Configured reports whether an API key is set
func (c *Client) Configured() bool {
	return c.config.APIKey != ""
}

// Complete sends prompt as a single user message and returns the first choice
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	var content string
	op := func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		out, err := c.complete(callCtx, prompt)
		if err != nil {
			return err
		}
		content = out
		return nil
	}

	guarded := op
	if c.config.Breaker != nil {
		guarded = func(ctx context.Context) error {
			err := c.config.Breaker.Call(func() error { return op(ctx) })
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return fmt.Errorf("%s: %w", c.config.Breaker.Name(), err)
			}
			return err
		}
	}

	var err error
	if c.config.Retry != nil {
		err = resilience.Retry(ctx, guarded, c.config.Retry, resilience.IsRetryableNetworkError)
	} else {
		err = guarded(ctx)
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.config.Model,
		Messages: []message{
			{Role: "user", Content: prompt},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.config.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("llm API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", resilience.NewRetryableError(err)
		}
		return "", err
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	observability.FromContext(ctx).Debug().
		Str("model", chatResp.Model).
		Int("tokens", chatResp.Usage.TotalTokens).
		Dur("latency", time.Since(start)).
		Msg("LLM completion received")

	return chatResp.Choices[0].Message.Content, nil
}

// HealthCheck reports whether the gateway can currently serve requests
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	if !c.Configured() {
		return false, ErrNotConfigured
	}
	if c.config.Breaker != nil && c.config.Breaker.GetState() == resilience.StateOpen {
		return false, fmt.Errorf("%s: %w", c.config.Breaker.Name(), resilience.ErrCircuitOpen)
	}
	return true, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
