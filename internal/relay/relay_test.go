package relay

import (
	"context"
	"testing"
	"time"

	"github.com/soyeahso/callbridge/internal/calltest"
	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/soyeahso/callbridge/internal/session"
	"github.com/soyeahso/callbridge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	relay     *Relay
	sessions  *session.Store
	transport *calltest.Transport
	records   *store.MemoryCallRecords
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions:  session.NewStore(),
		transport: calltest.NewTransport(),
		records:   store.NewMemoryCallRecords(),
	}
	f.relay = New(f.sessions, f.transport, f.records, logging.New(nil, "silent"))
	return f
}

func (f *fixture) startCall(t *testing.T, callID string, status domain.Status) {
	t.Helper()
	_, err := f.sessions.Create(callID, "buyer-1", "agent-1", domain.AgentTypeAI, "", "")
	require.NoError(t, err)
	require.NoError(t, f.records.Create(context.Background(), domain.CallRecord{
		ID: callID, AgentID: "agent-1", BuyerID: "buyer-1", AgentType: domain.AgentTypeAI, StartTime: time.Now(),
	}))
	if status != domain.StatusConnecting {
		_, err = f.sessions.SetStatus(callID, domain.StatusActive)
		require.NoError(t, err)
	}
	if status == domain.StatusEnded {
		_, err = f.sessions.SetStatus(callID, domain.StatusEnded)
		require.NoError(t, err)
	}
}

func TestDeliverToActiveCall(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, "call-1", domain.StatusActive)

	ok := f.relay.Deliver(context.Background(), "call-1", "The property has three bedrooms.", true)
	require.True(t, ok)

	tr := f.sessions.Transcript("call-1")
	require.Len(t, tr, 1)
	assert.Equal(t, domain.RoleAgent, tr[0].Role)

	require.Len(t, f.transport.Broadcasts, 1)
	b := f.transport.Broadcasts[0]
	assert.Equal(t, "call-1", b.Target)
	assert.Equal(t, domain.EventAgentSpeak, b.Event)
	speak := b.Payload.(domain.AgentSpeak)
	assert.Equal(t, "The property has three bedrooms.", speak.Text)
	assert.True(t, speak.IsFinal)

	rec, err := f.records.Find(context.Background(), "call-1")
	require.NoError(t, err)
	require.Len(t, rec.Transcript, 1, "transcript is persisted")
}

func TestDeliverPartialResponse(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, "call-1", domain.StatusActive)

	require.True(t, f.relay.Deliver(context.Background(), "call-1", "Let me check", false))
	assert.False(t, f.transport.Broadcasts[0].Payload.(domain.AgentSpeak).IsFinal)
}

func TestDeliverRefused(t *testing.T) {
	tests := []struct {
		name   string
		status domain.Status
		callID string
	}{
		{"absent", "", "ghost"},
		{"connecting", domain.StatusConnecting, "call-1"},
		{"ended", domain.StatusEnded, "call-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.status != "" {
				f.startCall(t, "call-1", tt.status)
			}
			assert.False(t, f.relay.Deliver(context.Background(), tt.callID, "hello", true))
			assert.Empty(t, f.transport.Broadcasts)
			assert.Empty(t, f.sessions.Transcript("call-1"))
		})
	}
}

func TestSendErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.relay.Send(context.Background(), "", "hi", true)
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))

	_, err = f.relay.Send(context.Background(), "ghost", "hi", true)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	f.startCall(t, "call-1", domain.StatusEnded)
	_, err = f.relay.Send(context.Background(), "call-1", "hi", true)
	assert.ErrorIs(t, err, domain.ErrCallEnded)
}

func TestSendEmptyText(t *testing.T) {
	f := newFixture(t)
	f.startCall(t, "call-1", domain.StatusActive)

	entry, err := f.relay.Send(context.Background(), "call-1", "", true)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAgent, entry.Role)
	require.Len(t, f.transport.Broadcasts, 1)
	assert.Equal(t, "", f.transport.Broadcasts[0].Payload.(domain.AgentSpeak).Text)
}

func TestDeliverSurvivesMissingRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.sessions.Create("call-1", "b", "a", domain.AgentTypeAI, "", "")
	require.NoError(t, err)
	_, err = f.sessions.SetStatus("call-1", domain.StatusActive)
	require.NoError(t, err)

	assert.True(t, f.relay.Deliver(context.Background(), "call-1", "hello", true))
	assert.Len(t, f.transport.Broadcasts, 1)
}
