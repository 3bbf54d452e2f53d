package responder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultClaudeURL = "https://api.anthropic.com"
	claudeAPIVersion = "2023-06-01"
)

// ClaudeClient calls the Anthropic messages API.
type ClaudeClient struct {
	http  *resty.Client
	model string
}

var _ Completer = (*ClaudeClient)(nil)

// NewClaudeClient creates a client. An empty baseURL uses the public API.
func NewClaudeClient(baseURL, apiKey, model string, timeout time.Duration) *ClaudeClient {
	if baseURL == "" {
		baseURL = defaultClaudeURL
	}
	return &ClaudeClient{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("x-api-key", apiKey).
			SetHeader("anthropic-version", claudeAPIVersion),
		model: model,
	}
}

func (c *ClaudeClient) Name() string { return "claude" }

type claudeRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type claudeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends a non-streaming messages request and joins the text blocks.
func (c *ClaudeClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}

	var (
		out     claudeResponse
		failure claudeError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(claudeRequest{Model: c.model, System: req.System, Messages: req.Messages, MaxTokens: maxTokens}).
		SetResult(&out).
		SetError(&failure).
		Post("/v1/messages")
	if err != nil {
		return "", fmt.Errorf("claude request failed: %w", err)
	}
	if resp.IsError() {
		msg := failure.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", &ProviderError{Provider: c.Name(), Code: resp.StatusCode(), Message: msg}
	}

	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
