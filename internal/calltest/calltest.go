// Package calltest provides recording doubles for call collaborators.
package calltest

import (
	"sync"

	"github.com/soyeahso/callbridge/internal/domain"
)

// Emission is one event sent through a Transport.
type Emission struct {
	Target  string // call ID for broadcasts, connection ID for direct sends
	Event   string
	Payload any
}

// Transport records every call made through domain.Transport.
type Transport struct {
	mu         sync.Mutex
	rooms      map[string]map[string]bool
	bindings   map[string]string
	Broadcasts []Emission
	Direct     []Emission
}

var _ domain.Transport = (*Transport)(nil)

// NewTransport creates an empty recording transport.
func NewTransport() *Transport {
	return &Transport{
		rooms:    make(map[string]map[string]bool),
		bindings: make(map[string]string),
	}
}

func (t *Transport) JoinRoom(connID, callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[callID] == nil {
		t.rooms[callID] = make(map[string]bool)
	}
	t.rooms[callID][connID] = true
}

func (t *Transport) LeaveRoom(connID, callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms[callID], connID)
}

func (t *Transport) Broadcast(callID, event string, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Broadcasts = append(t.Broadcasts, Emission{Target: callID, Event: event, Payload: payload})
}

func (t *Transport) EmitTo(connID, event string, payload any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Direct = append(t.Direct, Emission{Target: connID, Event: event, Payload: payload})
}

func (t *Transport) Bind(connID, callID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[connID] = callID
}

func (t *Transport) Unbind(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.bindings, connID)
}

func (t *Transport) BoundCall(connID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.bindings[connID]
	return id, ok
}

// InRoom reports whether connID is a member of the call's room.
func (t *Transport) InRoom(connID, callID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rooms[callID][connID]
}

// Events returns the names of broadcast events for callID, in order.
func (t *Transport) Events(callID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, e := range t.Broadcasts {
		if e.Target == callID {
			out = append(out, e.Event)
		}
	}
	return out
}

// Sent returns the direct emissions to connID, in order.
func (t *Transport) Sent(connID string) []Emission {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Emission
	for _, e := range t.Direct {
		if e.Target == connID {
			out = append(out, e)
		}
	}
	return out
}

// Forwarder records forwarded utterances.
type Forwarder struct {
	mu         sync.Mutex
	Utterances []domain.Utterance
}

var _ domain.Forwarder = (*Forwarder)(nil)

func (f *Forwarder) Forward(u domain.Utterance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Utterances = append(f.Utterances, u)
}

// Len returns the number of forwarded utterances.
func (f *Forwarder) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Utterances)
}
