// Package bridge hands buyer utterances to the response pipeline. Both
// forwarders return immediately; delivery is at most once and failures are
// only logged.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/soyeahso/callbridge/internal/metrics"
)

// Forward outcomes recorded in metrics.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultQueued  = "queued"
	ResultDropped = "dropped"
)

// HTTPForwarder posts utterances to a processing endpoint.
type HTTPForwarder struct {
	client   *resty.Client
	endpoint string
	sem      chan struct{}
	wg       sync.WaitGroup
	metrics  *metrics.Metrics
	log      *logging.Logger
}

var _ domain.Forwarder = (*HTTPForwarder)(nil)

// HTTPOption configures an HTTPForwarder.
type HTTPOption func(*HTTPForwarder)

// WithAuthToken sends token as a bearer credential on every post.
func WithAuthToken(token string) HTTPOption {
	return func(f *HTTPForwarder) {
		if token != "" {
			f.client.SetAuthToken(token)
		}
	}
}

// NewHTTPForwarder creates a forwarder allowing at most maxInFlight
// concurrent requests.
func NewHTTPForwarder(endpoint string, timeout time.Duration, maxInFlight int, m *metrics.Metrics, log *logging.Logger, opts ...HTTPOption) *HTTPForwarder {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	f := &HTTPForwarder{
		client:   client,
		endpoint: endpoint,
		sem:      make(chan struct{}, maxInFlight),
		metrics:  m,
		log:      log.Sub("bridge"),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Forward posts u on its own goroutine. When the in-flight limit is reached
// the utterance is dropped.
func (f *HTTPForwarder) Forward(u domain.Utterance) {
	select {
	case f.sem <- struct{}{}:
	default:
		f.metrics.RecordForward(ResultDropped)
		f.log.Warn().Str("callId", u.CallID).Msg("forwarder saturated, utterance dropped")
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() { <-f.sem }()
		f.post(u)
	}()
}

func (f *HTTPForwarder) post(u domain.Utterance) {
	resp, err := f.client.R().SetBody(u).Post(f.endpoint)
	if err != nil {
		f.metrics.RecordForward(ResultFailed)
		f.log.Error().Err(err).Str("callId", u.CallID).Msg("failed to forward utterance")
		return
	}
	if resp.IsError() {
		f.metrics.RecordForward(ResultFailed)
		f.log.Error().Int("status", resp.StatusCode()).Str("callId", u.CallID).Msg("processing endpoint rejected utterance")
		return
	}
	f.metrics.RecordForward(ResultSent)
	f.log.Debug().Str("callId", u.CallID).Msg("utterance forwarded")
}

// Close waits for in-flight requests or until ctx is done.
func (f *HTTPForwarder) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueForwarder places utterances on a bounded in-process queue.
type QueueForwarder struct {
	mu      sync.RWMutex
	ch      chan domain.Utterance
	closed  bool
	metrics *metrics.Metrics
	log     *logging.Logger
}

var _ domain.Forwarder = (*QueueForwarder)(nil)

// NewQueueForwarder creates a queue holding up to size utterances.
func NewQueueForwarder(size int, m *metrics.Metrics, log *logging.Logger) *QueueForwarder {
	if size <= 0 {
		size = 1
	}
	return &QueueForwarder{
		ch:      make(chan domain.Utterance, size),
		metrics: m,
		log:     log.Sub("bridge"),
	}
}

// Forward enqueues u, dropping it if the queue is full or closed.
func (q *QueueForwarder) Forward(u domain.Utterance) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.metrics.RecordForward(ResultDropped)
		q.log.Warn().Str("callId", u.CallID).Msg("queue closed, utterance dropped")
		return
	}
	select {
	case q.ch <- u:
		q.metrics.RecordForward(ResultQueued)
	default:
		q.metrics.RecordForward(ResultDropped)
		q.log.Warn().Str("callId", u.CallID).Int("capacity", cap(q.ch)).Msg("queue full, utterance dropped")
	}
}

// Utterances returns the receive side of the queue. It is closed by Close.
func (q *QueueForwarder) Utterances() <-chan domain.Utterance {
	return q.ch
}

// Len returns the number of queued utterances.
func (q *QueueForwarder) Len() int {
	return len(q.ch)
}

// Close stops accepting utterances and closes the queue.
func (q *QueueForwarder) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
