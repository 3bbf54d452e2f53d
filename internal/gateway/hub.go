package gateway

import (
	"sync"
	"sync/atomic"

	"github.com/soyeahso/callbridge/internal/domain"
	"github.com/soyeahso/callbridge/internal/logging"
	"github.com/soyeahso/callbridge/internal/metrics"
)

var _ domain.Transport = (*Hub)(nil)

// Hub tracks connected clients, per-call rooms and the connection to call
// bindings. It is the call manager's view of the transport.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client             // connID → Client
	rooms    map[string]map[string]struct{} // callID → connIDs
	joined   map[string]map[string]struct{} // connID → callIDs
	bindings map[string]string              // connID → callID

	seq     atomic.Int64
	metrics *metrics.Metrics
	log     *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(m *metrics.Metrics, log *logging.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]struct{}),
		joined:   make(map[string]map[string]struct{}),
		bindings: make(map[string]string),
		metrics:  m,
		log:      log.Sub("hub"),
	}
}

// Add registers a connected client.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	h.clients[c.ConnID] = c
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
	h.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Str("role", c.Info.Role).Msg("client connected")
}

// Remove unregisters a client and drops its room memberships and binding.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	_, ok := h.clients[connID]
	delete(h.clients, connID)
	for callID := range h.joined[connID] {
		h.leaveLocked(connID, callID)
	}
	delete(h.joined, connID)
	delete(h.bindings, connID)
	h.mu.Unlock()

	if ok {
		h.metrics.ConnectionClosed()
		h.log.Info().Str("connId", connID).Msg("client disconnected")
	}
}

// Get returns a client by connection ID.
func (h *Hub) Get(connID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of connections in a call's room.
func (h *Hub) RoomSize(callID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[callID])
}

// JoinRoom adds a connection to a call's room.
func (h *Hub) JoinRoom(connID, callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[callID] == nil {
		h.rooms[callID] = make(map[string]struct{})
	}
	h.rooms[callID][connID] = struct{}{}
	if h.joined[connID] == nil {
		h.joined[connID] = make(map[string]struct{})
	}
	h.joined[connID][callID] = struct{}{}
}

// LeaveRoom removes a connection from a call's room.
func (h *Hub) LeaveRoom(connID, callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, callID)
}

func (h *Hub) leaveLocked(connID, callID string) {
	if members, ok := h.rooms[callID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, callID)
		}
	}
	if calls, ok := h.joined[connID]; ok {
		delete(calls, callID)
		if len(calls) == 0 {
			delete(h.joined, connID)
		}
	}
}

// Broadcast sends an event to every connection in a call's room. Send
// failures are logged; an empty room is a no-op.
func (h *Hub) Broadcast(callID, event string, payload any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[callID]))
	for connID := range h.rooms[callID] {
		if c, ok := h.clients[connID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	seq := h.seq.Add(1)
	for _, c := range targets {
		if err := c.Emit(event, payload, seq); err != nil {
			h.log.Warn().Err(err).Str("connId", c.ConnID).Str("callId", callID).Str("event", event).Msg("broadcast send failed")
		}
	}
}

// EmitTo sends an event to one connection.
func (h *Hub) EmitTo(connID, event string, payload any) {
	c, ok := h.Get(connID)
	if !ok {
		h.log.Debug().Str("connId", connID).Str("event", event).Msg("emit to unknown connection")
		return
	}
	if err := c.Emit(event, payload, h.seq.Add(1)); err != nil {
		h.log.Warn().Err(err).Str("connId", connID).Str("event", event).Msg("emit failed")
	}
}

// Bind associates a connection with a call. The last binding wins.
func (h *Hub) Bind(connID, callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bindings[connID] = callID
}

// Unbind clears a connection's call binding.
func (h *Hub) Unbind(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.bindings, connID)
}

// BoundCall returns the call a connection is bound to.
func (h *Hub) BoundCall(connID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	callID, ok := h.bindings[connID]
	return callID, ok
}

// CloseAll closes every connected client. Their read loops then run the
// normal disconnect path.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}
