// Package relay delivers generated agent responses back into live calls.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/hooks"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/soyeahso/callbridge/internal/metrics"
	"github.com/soyeahso/callbridge/internal/session"
)

// Relay appends agent turns to the live transcript, persists the transcript
// and broadcasts the spoken text to the call room.
type Relay struct {
	sessions  *session.Store
	transport domain.Transport
	records   domain.CallRecordStore
	hooks     *hooks.Manager
	metrics   *metrics.Metrics
	log       *logging.Logger
	now       func() time.Time

	// persistMu orders transcript writes so the last write always carries
	// every appended entry.
	persistMu sync.Mutex
}

// Option configures a Relay.
type Option func(*Relay)

// WithHooks emits response_delivered events.
func WithHooks(h *hooks.Manager) Option {
	return func(r *Relay) { r.hooks = h }
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithClock overrides the time source. It takes effect at construction;
// now is called from many goroutines and must be safe for that.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New creates a relay.
func New(sessions *session.Store, transport domain.Transport, records domain.CallRecordStore, log *logging.Logger, opts ...Option) *Relay {
	r := &Relay{
		sessions:  sessions,
		transport: transport,
		records:   records,
		log:       log.Sub("relay"),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Send delivers text as an agent turn. The session must exist and be active.
func (r *Relay) Send(ctx context.Context, callID, text string, isFinal bool) (domain.TranscriptEntry, error) {
	if callID == "" {
		return domain.TranscriptEntry{}, domain.InvalidInput("relay.send", "Invalid agent_response: missing callId")
	}

	entry, err := r.sessions.AppendActive(callID, domain.RoleAgent, text)
	if err != nil {
		r.metrics.RecordDelivery(false)
		if domain.IsKind(err, domain.KindInvalidInput) {
			r.log.Warn().Str("callId", callID).Err(err).Msg("response refused for inactive call")
		}
		return domain.TranscriptEntry{}, err
	}
	r.metrics.RecordTranscript(string(domain.RoleAgent))

	r.persist(ctx, callID)

	r.transport.Broadcast(callID, domain.EventAgentSpeak, domain.AgentSpeak{
		CallID:    callID,
		Text:      text,
		IsFinal:   isFinal,
		Timestamp: entry.Timestamp,
	})
	r.metrics.RecordDelivery(true)
	r.hooks.EmitAsync(ctx, hooks.EventResponseDelivered, map[string]any{
		"callId":  callID,
		"text":    text,
		"isFinal": isFinal,
	})

	r.log.Debug().Str("callId", callID).Bool("isFinal", isFinal).Msg("agent response delivered")
	return entry, nil
}

// Deliver is Send reduced to whether the response reached the call.
func (r *Relay) Deliver(ctx context.Context, callID, text string, isFinal bool) bool {
	_, err := r.Send(ctx, callID, text, isFinal)
	return err == nil
}

// persist writes the current live transcript to the durable record. Failures
// are logged; the live call keeps going.
func (r *Relay) persist(ctx context.Context, callID string) {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	transcript := r.sessions.Transcript(callID)
	if transcript == nil {
		return
	}
	if err := r.records.Update(ctx, callID, domain.RecordUpdate{Transcript: transcript}); err != nil {
		r.log.Error().Err(err).Str("callId", callID).Msg("failed to persist transcript")
	}
}
