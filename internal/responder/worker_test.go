package responder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/callbridge/internal/config"
	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	callID, text string
}

type fakeCalls struct {
	mu        sync.Mutex
	sessions  map[string]domain.CallSession
	delivered []delivery
	refuse    bool
}

func (f *fakeCalls) GetSession(callID string) (domain.CallSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[callID]
	return s, ok
}

func (f *fakeCalls) DeliverResponse(_ context.Context, callID, text string, _ bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return false
	}
	f.delivered = append(f.delivered, delivery{callID, text})
	return true
}

func (f *fakeCalls) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func newCalls(sessions ...domain.CallSession) *fakeCalls {
	f := &fakeCalls{sessions: make(map[string]domain.CallSession)}
	for _, s := range sessions {
		f.sessions[s.CallID] = s
	}
	return f
}

func activeCall(id string, agentType domain.AgentType) domain.CallSession {
	return domain.CallSession{
		CallID: id, BuyerID: "b", AgentID: "agent-1", AgentType: agentType, Status: domain.StatusActive,
		Transcript: []domain.TranscriptEntry{
			{Role: domain.RoleBuyer, Content: "earlier question"},
			{Role: domain.RoleAgent, Content: "earlier answer"},
			{Role: domain.RoleBuyer, Content: "How many bedrooms?"},
		},
	}
}

func newWorker(r Responder, calls CallSink) *Worker {
	agents := NewDirectory([]config.AgentEntry{{ID: "agent-1", Name: "Priya", SystemPrompt: "Be warm."}})
	return NewWorker(r, calls, agents, 2, nil, logging.New(nil, "silent"))
}

func TestProcessDeliversReply(t *testing.T) {
	calls := newCalls(activeCall("call-1", domain.AgentTypeAI))
	mock := &MockResponder{Reply: "Three bedrooms."}
	w := newWorker(mock, calls)

	ok := w.Process(context.Background(), domain.Utterance{CallID: "call-1", Text: "How many bedrooms?"})
	require.True(t, ok)
	require.Len(t, calls.delivered, 1)
	assert.Equal(t, "Three bedrooms.", calls.delivered[0].text)

	require.Equal(t, 1, mock.Calls())
	p := mock.Prompts[0]
	assert.Equal(t, "Priya", p.AgentName)
	assert.Equal(t, "Be warm.", p.SystemPrompt)
	assert.Len(t, p.History, 2, "current turn is not repeated in history")
}

func TestProcessAnswersAsSessionAgent(t *testing.T) {
	calls := newCalls(activeCall("call-1", domain.AgentTypeAI))
	mock := &MockResponder{Reply: "Sure."}
	w := newWorker(mock, calls)

	require.True(t, w.Process(context.Background(), domain.Utterance{CallID: "call-1", Text: "hi", AgentID: "other-agent", BuyerID: "mallory"}))
	require.Equal(t, 1, mock.Calls())
	assert.Equal(t, "agent-1", mock.Prompts[0].AgentID)
	assert.Equal(t, "Priya", mock.Prompts[0].AgentName)
}

func TestProcessSkips(t *testing.T) {
	ended := activeCall("ended", domain.AgentTypeAI)
	ended.Status = domain.StatusEnded
	calls := newCalls(activeCall("human", domain.AgentTypeHuman), ended)
	mock := &MockResponder{Reply: "x"}
	w := newWorker(mock, calls)

	for _, id := range []string{"human", "ended", "missing"} {
		assert.False(t, w.Process(context.Background(), domain.Utterance{CallID: id, Text: "hi"}), id)
	}
	assert.Zero(t, mock.Calls())
	assert.Empty(t, calls.delivered)
}

func TestProcessResponderFailure(t *testing.T) {
	calls := newCalls(activeCall("call-1", domain.AgentTypeAI))
	w := newWorker(&MockResponder{Err: errors.New("model offline")}, calls)
	assert.False(t, w.Process(context.Background(), domain.Utterance{CallID: "call-1", Text: "hi"}))

	w = newWorker(&MockResponder{Reply: ""}, calls)
	assert.False(t, w.Process(context.Background(), domain.Utterance{CallID: "call-1", Text: "hi"}))
	assert.Empty(t, calls.delivered)
}

func TestProcessUndeliverable(t *testing.T) {
	calls := newCalls(activeCall("call-1", domain.AgentTypeAI))
	calls.refuse = true
	w := newWorker(&MockResponder{Reply: "hello"}, calls)
	assert.False(t, w.Process(context.Background(), domain.Utterance{CallID: "call-1", Text: "hi"}))
}

func TestRunDrainsQueue(t *testing.T) {
	calls := newCalls(activeCall("call-1", domain.AgentTypeAI))
	w := newWorker(RulesResponder{}, calls)

	in := make(chan domain.Utterance, 3)
	for range 3 {
		in <- domain.Utterance{CallID: "call-1", Text: "What's the price?"}
	}
	close(in)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), in) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue closed")
	}
	assert.Equal(t, 3, calls.count())
}

func TestRunStopsOnCancel(t *testing.T) {
	w := newWorker(RulesResponder{}, newCalls())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, make(chan domain.Utterance)) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker ignored cancellation")
	}
}
