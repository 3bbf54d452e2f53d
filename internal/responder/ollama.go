package responder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient calls a local Ollama server's generate API.
type OllamaClient struct {
	http  *resty.Client
	model string
}

var _ Completer = (*OllamaClient)(nil)

// NewOllamaClient creates a client. An empty baseURL uses localhost:11434.
func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &OllamaClient{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		model: model,
	}
}

func (o *OllamaClient) Name() string { return "ollama" }

type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Complete sends a non-streaming generate request.
func (o *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body := ollamaRequest{
		Model:  o.model,
		System: req.System,
		Prompt: flattenConversation(req.Messages),
	}
	if req.MaxTokens > 0 {
		body.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var out ollamaResponse
	resp, err := o.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.IsError() {
		return "", &ProviderError{Provider: o.Name(), Code: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
	}
	return out.Response, nil
}

// flattenConversation renders turns as a labelled transcript ending with
// an open agent line for the model to complete.
func flattenConversation(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		label := "Buyer"
		if m.Role == RoleAssistant {
			label = "Agent"
		}
		fmt.Fprintf(&b, "%s: %s\n\n", label, m.Content)
	}
	b.WriteString("Agent:")
	return b.String()
}
