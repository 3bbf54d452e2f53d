// Package calls implements the call session state machine.
package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/hooks"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/soyeahso/callbridge/internal/metrics"
	"github.com/soyeahso/callbridge/internal/relay"
	"github.com/soyeahso/callbridge/internal/session"
)

// End reasons.
const (
	ReasonDisconnect        = "disconnect"
	ReasonServerTerminated  = "server_terminated"
	ReasonAdministrativeEnd = "ended_by_api"
)

// Manager drives call sessions through connecting, active and ended in
// response to socket events and administrative calls.
type Manager struct {
	sessions  *session.Store
	transport domain.Transport
	records   domain.CallRecordStore
	forwarder domain.Forwarder
	relay     *relay.Relay
	hooks     *hooks.Manager
	metrics   *metrics.Metrics
	log       *logging.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHooks emits lifecycle events to h.
func WithHooks(h *hooks.Manager) Option {
	return func(m *Manager) { m.hooks = h }
}

// WithMetrics records lifecycle metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the time source. It takes effect at construction;
// now is called from many goroutines and must be safe for that.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a call manager.
func NewManager(
	sessions *session.Store,
	transport domain.Transport,
	records domain.CallRecordStore,
	forwarder domain.Forwarder,
	rl *relay.Relay,
	log *logging.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		sessions:  sessions,
		transport: transport,
		records:   records,
		forwarder: forwarder,
		relay:     rl,
		log:       log.Sub("calls"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Dispatch routes a parsed event from connID to its handler.
func (m *Manager) Dispatch(ctx context.Context, connID string, ev Event) error {
	switch e := ev.(type) {
	case StartCall:
		return m.HandleStart(ctx, connID, e)
	case BuyerUtterance:
		return m.HandleUtterance(ctx, connID, e)
	case AgentResponse:
		return m.HandleAgentResponse(ctx, connID, e)
	case EndCall:
		return m.HandleEnd(ctx, connID, e)
	default:
		return domain.InvalidInput("calls.dispatch", fmt.Sprintf("unsupported event %T", ev))
	}
}

// HandleStart starts or resumes a call. A durable record is created only
// when none exists; the live session reloads the transcript and start time
// from the still-live copy or, failing that, the durable record.
func (m *Manager) HandleStart(ctx context.Context, connID string, ev StartCall) error {
	const op = "calls.start"
	log := m.log.ForCall(ev.CallID, connID)

	if ev.CallID == "" || ev.BuyerID == "" || ev.AgentID == "" {
		return domain.InvalidInput(op, "Missing required fields: callId, buyerId, or agentId")
	}
	if ev.AgentType == "" {
		ev.AgentType = domain.AgentTypeAI
	}

	rec, err := m.ensureRecord(ctx, ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to persist call record")
		return domain.Internal(op, "Failed to initialize call session", err)
	}

	live := domain.CallSession{
		CallID:     ev.CallID,
		BuyerID:    ev.BuyerID,
		AgentID:    ev.AgentID,
		AgentType:  ev.AgentType,
		PropertyID: ev.PropertyID,
		LeadID:     ev.LeadID,
		StartTime:  rec.StartTime,
		Transcript: rec.Transcript,
		Status:     domain.StatusConnecting,
	}
	resumed := len(rec.Transcript) > 0
	if prev, ok := m.sessions.Get(ev.CallID); ok && prev.Status != domain.StatusEnded {
		live.StartTime = prev.StartTime
		live.Transcript = prev.Transcript
		resumed = true
	}
	if err := m.sessions.Restore(live); err != nil {
		return err
	}

	m.transport.Bind(connID, ev.CallID)
	m.transport.JoinRoom(connID, ev.CallID)
	if _, err := m.sessions.SetStatus(ev.CallID, domain.StatusActive); err != nil {
		return err
	}

	m.metrics.RecordCallStart(string(ev.AgentType))
	m.metrics.SetActiveCalls(len(m.sessions.Active()))
	m.hooks.EmitAsync(ctx, hooks.EventCallStarted, map[string]any{
		"callId":    ev.CallID,
		"buyerId":   ev.BuyerID,
		"agentId":   ev.AgentID,
		"agentType": string(ev.AgentType),
		"resumed":   resumed,
	})

	connected := domain.CallConnected{
		CallID:    ev.CallID,
		AgentID:   ev.AgentID,
		AgentType: ev.AgentType,
		Resumed:   resumed,
		Timestamp: m.now(),
	}
	if resumed {
		connected.Transcript = m.sessions.Transcript(ev.CallID)
	}
	m.transport.EmitTo(connID, domain.EventCallConnected, connected)

	log.Info().Str("agentType", string(ev.AgentType)).Bool("resumed", resumed).Msg("call started")
	return nil
}

// ensureRecord returns the durable record for the call, creating it if absent.
func (m *Manager) ensureRecord(ctx context.Context, ev StartCall) (*domain.CallRecord, error) {
	rec, err := m.records.Find(ctx, ev.CallID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return rec, nil
	}

	now := m.now()
	fresh := domain.CallRecord{
		ID:         ev.CallID,
		AgentID:    ev.AgentID,
		AgentType:  ev.AgentType,
		BuyerID:    ev.BuyerID,
		PropertyID: ev.PropertyID,
		LeadID:     ev.LeadID,
		StartTime:  now,
		Transcript: []domain.TranscriptEntry{},
		Status:     domain.RecordInProgress,
		CreatedAt:  now,
	}
	if err := m.records.Create(ctx, fresh); err != nil {
		// a concurrent start may have won the insert
		if rec, findErr := m.records.Find(ctx, ev.CallID); findErr == nil && rec != nil {
			return rec, nil
		}
		return nil, err
	}
	return &fresh, nil
}

// HandleUtterance records a buyer turn, acknowledges it to the sender and
// hands it to the forwarder without waiting on the outcome.
func (m *Manager) HandleUtterance(ctx context.Context, connID string, ev BuyerUtterance) error {
	entry, err := m.sessions.AppendTranscript(ev.CallID, domain.RoleBuyer, ev.Text)
	if err != nil {
		if errors.Is(err, domain.ErrCallEnded) {
			m.log.Warn().Str("callId", ev.CallID).Str("connId", connID).Msg("utterance for ended call rejected")
		}
		return err
	}
	m.metrics.RecordTranscript(string(domain.RoleBuyer))

	m.transport.EmitTo(connID, domain.EventVoiceInputReceived, domain.VoiceInputReceived{
		CallID:       ev.CallID,
		Acknowledged: true,
		Timestamp:    entry.Timestamp,
	})

	u := domain.Utterance{CallID: ev.CallID, Text: ev.Text}
	if s, ok := m.sessions.Get(ev.CallID); ok {
		u.BuyerID = s.BuyerID
		u.AgentID = s.AgentID
	}
	m.forwarder.Forward(u)

	m.hooks.EmitAsync(ctx, hooks.EventUtteranceReceived, map[string]any{
		"callId": ev.CallID,
		"text":   ev.Text,
	})
	return nil
}

// HandleAgentResponse relays an agent turn pushed over the socket.
func (m *Manager) HandleAgentResponse(ctx context.Context, connID string, ev AgentResponse) error {
	_, err := m.relay.Send(ctx, ev.CallID, ev.Text, ev.IsFinal)
	return err
}

// HandleEnd ends the call on request. A missing session is not an error.
// The requesting connection always leaves the room and loses its binding.
func (m *Manager) HandleEnd(ctx context.Context, connID string, ev EndCall) error {
	s, ended := m.end(ctx, ev.CallID, ev.Reason, domain.StatusConnecting, domain.StatusActive)
	switch {
	case ended:
		m.reconcile(ctx, s)
	case s.CallID == "":
		m.log.Info().Str("callId", ev.CallID).Str("connId", connID).Msg("end for unknown call ignored")
	default:
		m.log.Debug().Str("callId", ev.CallID).Msg("call already ended")
	}

	m.transport.LeaveRoom(connID, ev.CallID)
	m.transport.Unbind(connID)
	return nil
}

// HandleDisconnect ends the connection's call if it is still active and
// clears the binding either way.
func (m *Manager) HandleDisconnect(ctx context.Context, connID string) {
	callID, ok := m.transport.BoundCall(connID)
	m.transport.Unbind(connID)
	if !ok {
		return
	}
	if s, ended := m.end(ctx, callID, ReasonDisconnect, domain.StatusActive); ended {
		m.reconcile(ctx, s)
		m.log.Info().Str("callId", callID).Str("connId", connID).Msg("call ended by disconnect")
	}
}

// end moves the session to ended if it is in one of from, then broadcasts
// call_ended. The returned session is zero if none existed.
func (m *Manager) end(ctx context.Context, callID, reason string, from ...domain.Status) (domain.CallSession, bool) {
	s, ended := m.sessions.End(callID, from...)
	if !ended {
		return s, false
	}

	now := m.now()
	duration := domain.DurationSeconds(s.StartTime, now)
	m.transport.Broadcast(callID, domain.EventCallEnded, domain.CallEnded{
		CallID:    callID,
		Duration:  duration,
		Reason:    reason,
		Timestamp: now,
	})

	m.metrics.RecordCallEnd(reason, s.Duration(now))
	m.metrics.SetActiveCalls(len(m.sessions.Active()))
	m.hooks.EmitAsync(ctx, hooks.EventCallEnded, map[string]any{
		"callId":   callID,
		"duration": duration,
		"reason":   reason,
	})
	m.log.Info().Str("callId", callID).Int64("duration", duration).Str("reason", reason).Msg("call ended")
	return s, true
}

// reconcile writes the final state of an ended session to its durable record.
func (m *Manager) reconcile(ctx context.Context, s domain.CallSession) {
	now := m.now()
	duration := domain.DurationSeconds(s.StartTime, now)
	completed := domain.RecordCompleted
	upd := domain.RecordUpdate{EndTime: &now, Duration: &duration, Status: &completed}
	if len(s.Transcript) > 0 {
		upd.Transcript = s.Transcript
	}
	if err := m.records.Update(ctx, s.CallID, upd); err != nil {
		m.log.Error().Err(err).Str("callId", s.CallID).Msg("failed to reconcile call record")
	}
}

// GetSession returns a copy of the live session.
func (m *Manager) GetSession(callID string) (domain.CallSession, bool) {
	return m.sessions.Get(callID)
}

// ActiveSessions returns every active session.
func (m *Manager) ActiveSessions() []domain.CallSession {
	return m.sessions.Active()
}

// EndSession ends a call from the server side. It returns the session as it
// stood after the call, or false if no session exists.
func (m *Manager) EndSession(ctx context.Context, callID string) (domain.CallSession, bool) {
	s, ended := m.end(ctx, callID, ReasonServerTerminated, domain.StatusConnecting, domain.StatusActive)
	if ended {
		m.reconcile(ctx, s)
		return s, true
	}
	return m.sessions.Get(callID)
}

// DeliverResponse relays a generated response into an active call.
func (m *Manager) DeliverResponse(ctx context.Context, callID, text string, isFinal bool) bool {
	return m.relay.Deliver(ctx, callID, text, isFinal)
}

// Transcript returns the live transcript, or nil if no session exists.
func (m *Manager) Transcript(callID string) []domain.TranscriptEntry {
	return m.sessions.Transcript(callID)
}

// SweepEnded removes ended sessions from memory.
func (m *Manager) SweepEnded(ctx context.Context) int {
	n := m.sessions.SweepEnded()
	m.metrics.RecordSweep(n)
	if n > 0 {
		m.hooks.EmitAsync(ctx, hooks.EventSessionsSwept, map[string]any{"removed": n})
		m.log.Info().Int("removed", n).Msg("swept ended sessions")
	}
	return n
}
