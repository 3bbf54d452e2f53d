package calls

import (
	"context"
	"testing"
	"time"

	"github.com/soyeahso/callbridge/internal/calltest"
	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/soyeahso/callbridge/internal/relay"
	"github.com/soyeahso/callbridge/internal/session"
	"github.com/soyeahso/callbridge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mgr       *Manager
	sessions  *session.Store
	transport *calltest.Transport
	records   domain.CallRecordStore
	forwarder *calltest.Forwarder
	now       time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRecords(t, store.NewMemoryCallRecords())
}

func newFixtureWithRecords(t *testing.T, records domain.CallRecordStore) *fixture {
	t.Helper()
	log := logging.New(nil, "silent")
	f := &fixture{
		sessions:  session.NewStore(),
		transport: calltest.NewTransport(),
		records:   records,
		forwarder: &calltest.Forwarder{},
		now:       time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.sessions.SetClock(clock)
	rl := relay.New(f.sessions, f.transport, f.records, log, relay.WithClock(clock))
	f.mgr = NewManager(f.sessions, f.transport, f.records, f.forwarder, rl, log, WithClock(clock))
	return f
}

func (f *fixture) start(t *testing.T, connID, callID string) {
	t.Helper()
	require.NoError(t, f.mgr.HandleStart(context.Background(), connID, StartCall{
		CallID: callID, BuyerID: "buyer-1", AgentID: "agent-1", AgentType: domain.AgentTypeAI, PropertyID: "prop-1",
	}))
}

func TestHandleStart(t *testing.T) {
	f := newFixture(t)
	f.start(t, "conn-1", "call-1")

	s, ok := f.mgr.GetSession("call-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Equal(t, f.now, s.StartTime)
	assert.Equal(t, "prop-1", s.PropertyID)

	bound, ok := f.transport.BoundCall("conn-1")
	require.True(t, ok)
	assert.Equal(t, "call-1", bound)
	assert.True(t, f.transport.InRoom("conn-1", "call-1"))

	sent := f.transport.Sent("conn-1")
	require.Len(t, sent, 1)
	assert.Equal(t, domain.EventCallConnected, sent[0].Event)
	connected := sent[0].Payload.(domain.CallConnected)
	assert.Equal(t, "agent-1", connected.AgentID)
	assert.False(t, connected.Resumed)

	rec, err := f.records.Find(context.Background(), "call-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.RecordInProgress, rec.Status)
}

func TestHandleStartDefaultsAgentType(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.HandleStart(context.Background(), "conn-1", StartCall{CallID: "c", BuyerID: "b", AgentID: "a"}))
	s, _ := f.mgr.GetSession("c")
	assert.Equal(t, domain.AgentTypeAI, s.AgentType)
}

func TestHandleStartMissingFields(t *testing.T) {
	f := newFixture(t)
	err := f.mgr.HandleStart(context.Background(), "conn-1", StartCall{CallID: "c", AgentID: "a"})
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
	assert.Zero(t, f.sessions.Len())
}

type failingRecords struct{ *store.MemoryCallRecords }

func (failingRecords) Create(context.Context, domain.CallRecord) error {
	return assert.AnError
}

func TestHandleStartPersistenceFailure(t *testing.T) {
	f := newFixtureWithRecords(t, failingRecords{store.NewMemoryCallRecords()})
	err := f.mgr.HandleStart(context.Background(), "conn-1", StartCall{CallID: "c", BuyerID: "b", AgentID: "a"})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInternal))
	assert.Equal(t, "Failed to initialize call session", domain.PublicMessage(err))
	assert.Zero(t, f.sessions.Len())
	_, bound := f.transport.BoundCall("conn-1")
	assert.False(t, bound)
}

func TestHandleStartIsIdempotentAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")
	start := f.now
	require.NoError(t, f.mgr.HandleUtterance(ctx, "conn-1", BuyerUtterance{CallID: "call-1", Text: "Hello?"}))

	f.advance(time.Minute)
	f.start(t, "conn-2", "call-1")

	recs, err := f.records.List(ctx, domain.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1, "no duplicate durable record")

	s, _ := f.mgr.GetSession("call-1")
	assert.Equal(t, start, s.StartTime, "start time is preserved")
	require.Len(t, s.Transcript, 1, "transcript is reloaded")

	sent := f.transport.Sent("conn-2")
	require.Len(t, sent, 1)
	connected := sent[0].Payload.(domain.CallConnected)
	assert.True(t, connected.Resumed)
	assert.Len(t, connected.Transcript, 1)
}

func TestHandleStartReloadsFromDurableRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	earlier := f.now.Add(-10 * time.Minute)
	require.NoError(t, f.records.Create(ctx, domain.CallRecord{
		ID: "call-1", AgentID: "agent-1", BuyerID: "buyer-1", AgentType: domain.AgentTypeAI,
		StartTime:  earlier,
		Transcript: []domain.TranscriptEntry{{Role: domain.RoleBuyer, Content: "from before"}},
		Status:     domain.RecordInProgress,
	}))

	f.start(t, "conn-1", "call-1")
	s, _ := f.mgr.GetSession("call-1")
	assert.Equal(t, earlier, s.StartTime)
	require.Len(t, s.Transcript, 1)
	assert.Equal(t, "from before", s.Transcript[0].Content)
}

func TestRebindOnSecondStartLastWriteWins(t *testing.T) {
	f := newFixture(t)
	f.start(t, "conn-1", "call-1")
	f.start(t, "conn-1", "call-2")

	bound, _ := f.transport.BoundCall("conn-1")
	assert.Equal(t, "call-2", bound)
}

func TestHandleUtterance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")

	require.NoError(t, f.mgr.HandleUtterance(ctx, "conn-1", BuyerUtterance{CallID: "call-1", Text: "Is there parking?"}))

	tr := f.mgr.Transcript("call-1")
	require.Len(t, tr, 1)
	assert.Equal(t, domain.RoleBuyer, tr[0].Role)

	sent := f.transport.Sent("conn-1")
	require.Len(t, sent, 2)
	assert.Equal(t, domain.EventVoiceInputReceived, sent[1].Event)
	assert.True(t, sent[1].Payload.(domain.VoiceInputReceived).Acknowledged)

	require.Equal(t, 1, f.forwarder.Len())
	u := f.forwarder.Utterances[0]
	assert.Equal(t, "buyer-1", u.BuyerID, "filled from the session")
	assert.Equal(t, "agent-1", u.AgentID)
	assert.Equal(t, "Is there parking?", u.Text)
}

func TestHandleUtteranceEmptyText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")

	ev, err := ParseEvent(EventVoiceInput, []byte(`{"callId":"call-1","text":""}`))
	require.NoError(t, err)
	require.NoError(t, f.mgr.Dispatch(ctx, "conn-1", ev))

	tr := f.mgr.Transcript("call-1")
	require.Len(t, tr, 1)
	assert.Equal(t, "", tr[0].Content)
	assert.Equal(t, domain.EventVoiceInputReceived, f.transport.Sent("conn-1")[1].Event)
	assert.Equal(t, 1, f.forwarder.Len())
}

func TestHandleUtteranceUsesSessionIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")

	ev, err := ParseEvent(EventVoiceInput, []byte(`{"callId":"call-1","text":"hi","agentId":"other-agent","buyerId":"mallory"}`))
	require.NoError(t, err)
	require.NoError(t, f.mgr.Dispatch(ctx, "conn-1", ev))

	require.Equal(t, 1, f.forwarder.Len())
	u := f.forwarder.Utterances[0]
	assert.Equal(t, "agent-1", u.AgentID)
	assert.Equal(t, "buyer-1", u.BuyerID)
}

func TestHandleAgentResponseEmptyText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")

	require.NoError(t, f.mgr.HandleAgentResponse(ctx, "conn-2", AgentResponse{CallID: "call-1", Text: "", IsFinal: true}))
	assert.Equal(t, []string{domain.EventAgentSpeak}, f.transport.Events("call-1"))
	assert.Len(t, f.mgr.Transcript("call-1"), 1)
}

func TestHandleUtteranceNoSession(t *testing.T) {
	f := newFixture(t)
	err := f.mgr.HandleUtterance(context.Background(), "conn-1", BuyerUtterance{CallID: "ghost", Text: "hi"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Empty(t, f.transport.Sent("conn-1"))
	assert.Zero(t, f.forwarder.Len())
}

func TestHandleUtteranceAfterEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")
	require.NoError(t, f.mgr.HandleEnd(ctx, "conn-1", EndCall{CallID: "call-1"}))

	err := f.mgr.HandleUtterance(ctx, "conn-2", BuyerUtterance{CallID: "call-1", Text: "hello?"})
	assert.ErrorIs(t, err, domain.ErrCallEnded)
	assert.Zero(t, f.forwarder.Len())
}

func TestHandleAgentResponse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")

	require.NoError(t, f.mgr.HandleAgentResponse(ctx, "conn-2", AgentResponse{CallID: "call-1", Text: "Yes, two spaces.", IsFinal: true}))
	assert.Equal(t, []string{domain.EventAgentSpeak}, f.transport.Events("call-1"))

	err := f.mgr.HandleAgentResponse(ctx, "conn-2", AgentResponse{CallID: "ghost", Text: "x"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestHandleEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")
	require.NoError(t, f.mgr.HandleUtterance(ctx, "conn-1", BuyerUtterance{CallID: "call-1", Text: "Thanks"}))
	f.advance(95 * time.Second)

	require.NoError(t, f.mgr.HandleEnd(ctx, "conn-1", EndCall{CallID: "call-1", Reason: "buyer_hung_up"}))

	s, ok := f.mgr.GetSession("call-1")
	require.True(t, ok, "ended sessions linger until swept")
	assert.Equal(t, domain.StatusEnded, s.Status)

	require.Len(t, f.transport.Broadcasts, 1)
	ended := f.transport.Broadcasts[0].Payload.(domain.CallEnded)
	assert.Equal(t, int64(95), ended.Duration)
	assert.Equal(t, "buyer_hung_up", ended.Reason)

	assert.False(t, f.transport.InRoom("conn-1", "call-1"))
	_, bound := f.transport.BoundCall("conn-1")
	assert.False(t, bound)

	rec, err := f.records.Find(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordCompleted, rec.Status)
	require.NotNil(t, rec.Duration)
	assert.Equal(t, int64(95), *rec.Duration)
	assert.Len(t, rec.Transcript, 1)
}

func TestHandleEndTwiceBroadcastsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")

	require.NoError(t, f.mgr.HandleEnd(ctx, "conn-1", EndCall{CallID: "call-1"}))
	require.NoError(t, f.mgr.HandleEnd(ctx, "conn-1", EndCall{CallID: "call-1"}))
	assert.Equal(t, []string{domain.EventCallEnded}, f.transport.Events("call-1"))
}

func TestHandleEndUnknownCall(t *testing.T) {
	f := newFixture(t)
	f.transport.Bind("conn-1", "ghost")
	require.NoError(t, f.mgr.HandleEnd(context.Background(), "conn-1", EndCall{CallID: "ghost"}))
	assert.Empty(t, f.transport.Broadcasts)
	_, bound := f.transport.BoundCall("conn-1")
	assert.False(t, bound)
}

func TestHandleDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")
	f.advance(30 * time.Second)

	f.mgr.HandleDisconnect(ctx, "conn-1")

	s, _ := f.mgr.GetSession("call-1")
	assert.Equal(t, domain.StatusEnded, s.Status)
	require.Len(t, f.transport.Broadcasts, 1)
	ended := f.transport.Broadcasts[0].Payload.(domain.CallEnded)
	assert.Equal(t, ReasonDisconnect, ended.Reason)
	assert.Equal(t, int64(30), ended.Duration)
	_, bound := f.transport.BoundCall("conn-1")
	assert.False(t, bound)
}

func TestHandleDisconnectOnlyEndsActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")
	require.NoError(t, f.mgr.HandleEnd(ctx, "conn-1", EndCall{CallID: "call-1"}))

	f.transport.Bind("conn-2", "call-1")
	f.mgr.HandleDisconnect(ctx, "conn-2")
	assert.Len(t, f.transport.Broadcasts, 1, "no second call_ended")

	f.mgr.HandleDisconnect(ctx, "never-bound")
	assert.Len(t, f.transport.Broadcasts, 1)
}

func TestDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Dispatch(ctx, "conn-1", StartCall{CallID: "c", BuyerID: "b", AgentID: "a"}))
	require.NoError(t, f.mgr.Dispatch(ctx, "conn-1", BuyerUtterance{CallID: "c", Text: "hi"}))
	require.NoError(t, f.mgr.Dispatch(ctx, "conn-1", AgentResponse{CallID: "c", Text: "hello", IsFinal: true}))
	require.NoError(t, f.mgr.Dispatch(ctx, "conn-1", EndCall{CallID: "c"}))
	assert.Equal(t, []string{domain.EventAgentSpeak, domain.EventCallEnded}, f.transport.Events("c"))
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")

	s, ok := f.mgr.EndSession(ctx, "call-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusEnded, s.Status)
	assert.Equal(t, ReasonServerTerminated, f.transport.Broadcasts[0].Payload.(domain.CallEnded).Reason)

	_, ok = f.mgr.EndSession(ctx, "ghost")
	assert.False(t, ok)
}

func TestDeliverResponseAndSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t, "conn-1", "call-1")
	f.start(t, "conn-2", "call-2")

	assert.True(t, f.mgr.DeliverResponse(ctx, "call-1", "Welcome!", true))
	assert.Len(t, f.mgr.ActiveSessions(), 2)

	f.mgr.EndSession(ctx, "call-1")
	assert.False(t, f.mgr.DeliverResponse(ctx, "call-1", "Still there?", true))
	assert.Len(t, f.mgr.ActiveSessions(), 1)

	assert.Equal(t, 1, f.mgr.SweepEnded(ctx))
	_, ok := f.mgr.GetSession("call-1")
	assert.False(t, ok)
	assert.Nil(t, f.mgr.Transcript("call-1"))
}
