// Package responder generates agent replies to buyer utterances.
package responder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/soyeahso/callbridge/internal/config"
	"github.com/soyeahso/callbridge/internal/domain"
)

// Prompt is everything a responder sees for one buyer turn.
type Prompt struct {
	CallID       string
	AgentID      string
	AgentName    string
	SystemPrompt string
	History      []domain.TranscriptEntry
	Text         string
}

// Responder produces the agent's reply to a prompt.
type Responder interface {
	Respond(ctx context.Context, p Prompt) (string, error)
}

// Profile describes how an agent presents itself.
type Profile struct {
	ID           string
	Name         string
	SystemPrompt string
}

const defaultAgentName = "your assistant"

// Directory resolves agent profiles from configuration.
type Directory struct {
	agents map[string]Profile
}

// NewDirectory builds a directory from configured agents.
func NewDirectory(entries []config.AgentEntry) *Directory {
	d := &Directory{agents: make(map[string]Profile, len(entries))}
	for _, e := range entries {
		d.agents[e.ID] = Profile{ID: e.ID, Name: e.Name, SystemPrompt: e.SystemPrompt}
	}
	return d
}

// Lookup returns the profile for id. Unknown agents get a generic profile.
func (d *Directory) Lookup(id string) (Profile, bool) {
	p, ok := d.agents[id]
	if !ok {
		p = Profile{ID: id}
	}
	if p.Name == "" {
		p.Name = defaultAgentName
	}
	return p, ok
}

type rule struct {
	keywords []string
	words    bool // match whole words only
	reply    func(p Prompt) string
}

func fixed(s string) func(Prompt) string {
	return func(Prompt) string { return s }
}

var rules = []rule{
	{keywords: []string{"price", "cost"}, reply: fixed(
		"I'd be happy to discuss pricing with you. Our properties range from budget-friendly options to premium listings. Could you tell me more about your budget range so I can recommend the best options for you?")},
	{keywords: []string{"location", "area"}, reply: fixed(
		"Great question about location! We have properties in various neighborhoods, from bustling city centers to quiet suburban areas. What type of environment are you looking for?")},
	{keywords: []string{"bedroom", "room"}, reply: fixed(
		"For bedrooms, we have options ranging from cozy studios to spacious 5-bedroom homes. How many bedrooms would work best for your needs?")},
	{keywords: []string{"visit", "tour", "see"}, reply: fixed(
		"Absolutely! I can schedule a property tour for you. Would you prefer an in-person visit or shall I arrange a virtual walkthrough first? What day works best for you?")},
	{keywords: []string{"hello", "hi", "hey"}, words: true, reply: func(p Prompt) string {
		return fmt.Sprintf("Hello! I'm %s, your AI real estate assistant. I'm here to help you find your perfect property. What type of property are you interested in today?", p.AgentName)
	}},
	{keywords: []string{"thank"}, reply: fixed(
		"You're welcome! Is there anything else I can help you with regarding your property search? I'm here to assist you.")},
	{keywords: []string{"buy", "purchase"}, reply: fixed(
		"That's exciting that you're looking to buy! To help you find the perfect property, could you share what's most important to you: location, size, or budget? I'll make sure to prioritize those in my recommendations.")},
}

// RulesResponder answers with canned replies chosen by keyword.
type RulesResponder struct{}

// Respond picks the first matching rule, or a generic reply quoting the buyer.
func (RulesResponder) Respond(_ context.Context, p Prompt) (string, error) {
	lower := strings.ToLower(p.Text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})

	for _, r := range rules {
		for _, kw := range r.keywords {
			if (r.words && containsWord(words, kw)) || (!r.words && strings.Contains(lower, kw)) {
				return r.reply(p), nil
			}
		}
	}

	quoted := p.Text
	if runes := []rune(quoted); len(runes) > 30 {
		quoted = string(runes[:30])
	}
	return fmt.Sprintf("I understand you're asking about %q. As your AI assistant, I'm here to help with all your property questions. Would you like me to provide more details about our available listings, schedule a tour, or discuss specific requirements?", quoted), nil
}

func containsWord(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

// MockResponder replies with a fixed text and records prompts.
type MockResponder struct {
	mu      sync.Mutex
	Reply   string
	Err     error
	Prompts []Prompt
}

func (m *MockResponder) Respond(_ context.Context, p Prompt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, p)
	return m.Reply, m.Err
}

// Calls returns the number of prompts received.
func (m *MockResponder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}
