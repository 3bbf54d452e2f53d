package responder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/callbridge/internal/config"
	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/logging"
)

// Message roles understood by model providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is one non-streaming model call.
type CompletionRequest struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Completer is a model provider.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Name() string
}

// ProviderError is returned when a model provider rejects a request.
type ProviderError struct {
	Provider string
	Code     int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// silentTurn stands in for a buyer turn with no recognised words.
const silentTurn = "(no words recognised)"

// ModelResponder answers with a language model, giving it the agent's
// system prompt and the call transcript.
type ModelResponder struct {
	model     Completer
	maxTokens int
}

var _ Responder = (*ModelResponder)(nil)

// NewModelResponder wraps a provider.
func NewModelResponder(model Completer, maxTokens int) *ModelResponder {
	return &ModelResponder{model: model, maxTokens: maxTokens}
}

// Respond sends the prompt and returns the trimmed reply.
func (r *ModelResponder) Respond(ctx context.Context, p Prompt) (string, error) {
	reply, err := r.model.Complete(ctx, CompletionRequest{
		System:    systemPrompt(p),
		Messages:  conversation(p),
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func systemPrompt(p Prompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a real estate agent speaking with a prospective buyer on a live voice call.", p.AgentName)
	b.WriteString(" Keep replies short and conversational; they are read aloud.")
	if p.SystemPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(p.SystemPrompt)
	}
	return b.String()
}

// conversation maps the transcript onto alternating user and assistant
// turns ending with the buyer text being answered. Consecutive turns by
// the same side are merged and the first turn is always the user's.
func conversation(p Prompt) []Message {
	var msgs []Message
	add := func(role, content string) {
		if n := len(msgs); n > 0 && msgs[n-1].Role == role {
			msgs[n-1].Content += "\n" + content
			return
		}
		msgs = append(msgs, Message{Role: role, Content: content})
	}

	for _, e := range p.History {
		if e.Content == "" {
			continue
		}
		role := RoleUser
		if e.Role == domain.RoleAgent {
			role = RoleAssistant
		}
		if role == RoleAssistant && len(msgs) == 0 {
			add(RoleUser, "(call connected)")
		}
		add(role, e.Content)
	}

	text := p.Text
	if strings.TrimSpace(text) == "" {
		text = silentTurn
	}
	add(RoleUser, text)
	return msgs
}

// NewFromConfig builds the responder selected by responder.provider.
func NewFromConfig(cfg config.ResponderConfig, log *logging.Logger) (Responder, error) {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	var model Completer
	switch cfg.Provider {
	case "", "rules":
		return RulesResponder{}, nil
	case "ollama":
		model = NewOllamaClient(cfg.Endpoint, cfg.Model, timeout)
	case "claude":
		model = NewClaudeClient(cfg.Endpoint, cfg.APIKey, cfg.Model, timeout)
	default:
		return nil, fmt.Errorf("unknown responder provider %q", cfg.Provider)
	}
	log.Sub("responder").Info().Str("provider", model.Name()).Str("model", cfg.Model).Msg("model responder configured")
	return NewModelResponder(model, cfg.MaxTokens), nil
}
