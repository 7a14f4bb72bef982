// Package analysis talks to the hosted vision model that describes dish
// photos and summarizes eating profiles.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL    = "https://api.anthropic.com/v1"
	defaultModel      = "claude-sonnet-4-5-20250929"
	defaultMaxTokens  = 4096
	defaultTimeout    = 60 * time.Second
	apiVersion        = "2023-06-01"
	maxErrorBodyBytes = 4096
)

// ClientConfig holds the model request parameters.
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Client calls the Messages API. Each call is a single attempt; callers
// wrap it in a retry policy.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient creates a client, filling unset fields with defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// RateLimitError is returned on HTTP 429 or an error body of type
// rate_limit_error or overloaded_error.
type RateLimitError struct {
	Status  int
	Message string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d): %s", e.Status, e.Message)
}

func (e *RateLimitError) RateLimited() bool { return true }

// StatusError is any other non-2xx response.
type StatusError struct {
	Status  int
	Type    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("unexpected status %d (%s): %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Message)
}

// Messages sends one request and returns the text of the first content block.
func (c *Client) Messages(ctx context.Context, msgs []Message, system string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      system,
		Messages:    msgs,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var out messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	for _, block := range out.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}

// chat sends a single user text message.
func chat(ctx context.Context, c Completer, text, system string) (string, error) {
	return c.Messages(ctx, []Message{{Role: "user", Content: []ContentBlock{TextBlock(text)}}}, system)
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var parsed errorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Type != "" {
		msg = parsed.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		parsed.Error.Type == "rate_limit_error",
		parsed.Error.Type == "overloaded_error":
		return &RateLimitError{Status: resp.StatusCode, Message: msg}
	}
	return &StatusError{Status: resp.StatusCode, Type: parsed.Error.Type, Message: msg}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
}
