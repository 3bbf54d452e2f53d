package responder

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/soyeahso/callbridge/internal/metrics"
)

// CallSink is the part of the call manager the worker talks to.
type CallSink interface {
	GetSession(callID string) (domain.CallSession, bool)
	DeliverResponse(ctx context.Context, callID, text string, isFinal bool) bool
}

// Worker turns queued buyer utterances into relayed agent responses.
type Worker struct {
	responder Responder
	calls     CallSink
	agents    *Directory
	workers   int
	metrics   *metrics.Metrics
	log       *logging.Logger
}

// NewWorker creates a worker pool of size workers.
func NewWorker(r Responder, calls CallSink, agents *Directory, workers int, m *metrics.Metrics, log *logging.Logger) *Worker {
	if workers <= 0 {
		workers = 1
	}
	return &Worker{
		responder: r,
		calls:     calls,
		agents:    agents,
		workers:   workers,
		metrics:   m,
		log:       log.Sub("responder"),
	}
}

// Run consumes in until it is closed or ctx is done.
func (w *Worker) Run(ctx context.Context, in <-chan domain.Utterance) error {
	g, ctx := errgroup.WithContext(ctx)
	for range w.workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case u, ok := <-in:
					if !ok {
						return nil
					}
					w.Process(ctx, u)
				}
			}
		})
	}
	w.log.Info().Int("workers", w.workers).Msg("responder started")
	return g.Wait()
}

// Process generates and delivers the reply to one utterance. It reports
// whether a reply reached the call.
func (w *Worker) Process(ctx context.Context, u domain.Utterance) bool {
	log := w.log.ForCall(u.CallID, "")

	s, ok := w.calls.GetSession(u.CallID)
	if !ok || s.Status != domain.StatusActive {
		log.Debug().Msg("no active call, utterance skipped")
		return false
	}
	if s.AgentType == domain.AgentTypeHuman {
		log.Debug().Msg("human agent call, utterance left to the agent")
		return false
	}

	agentID := s.AgentID
	profile, known := w.agents.Lookup(agentID)
	if !known {
		log.Debug().Str("agentId", agentID).Msg("agent not configured, using generic profile")
	}

	history := s.Transcript
	// the buyer turn being answered is already the last entry
	if n := len(history); n > 0 && history[n-1].Role == domain.RoleBuyer && history[n-1].Content == u.Text {
		history = history[:n-1]
	}

	start := time.Now()
	text, err := w.responder.Respond(ctx, Prompt{
		CallID:       u.CallID,
		AgentID:      agentID,
		AgentName:    profile.Name,
		SystemPrompt: profile.SystemPrompt,
		History:      history,
		Text:         u.Text,
	})
	w.metrics.RecordResponseTime(time.Since(start))
	if err != nil {
		log.Error().Err(err).Msg("response generation failed")
		return false
	}
	if text == "" {
		log.Warn().Msg("responder returned empty reply")
		return false
	}

	if !w.calls.DeliverResponse(ctx, u.CallID, text, true) {
		log.Warn().Msg("could not deliver response to call")
		return false
	}
	log.Info().Int("responseLength", len(text)).Msg("agent response sent")
	return true
}
