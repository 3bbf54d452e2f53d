package domain

import "context"

// Transport is the call-facing side of the realtime gateway.
type Transport interface {
	// JoinRoom admits a connection to the call's broadcast group.
	JoinRoom(connID, callID string)

	// LeaveRoom removes a connection from the call's broadcast group.
	LeaveRoom(connID, callID string)

	// Broadcast delivers an event to every connection in the call's room.
	// Delivery is best-effort; an empty room is a silent no-op.
	Broadcast(callID, event string, payload any)

	// EmitTo delivers an event to a single connection.
	EmitTo(connID, event string, payload any)

	// Bind records which call a connection belongs to. Last write wins.
	Bind(connID, callID string)

	// Unbind clears the connection's call binding.
	Unbind(connID string)

	// BoundCall returns the call bound to a connection.
	BoundCall(connID string) (string, bool)
}

// CallRecordStore persists durable call records.
type CallRecordStore interface {
	// Find returns the record for callID, or nil if none exists.
	Find(ctx context.Context, callID string) (*CallRecord, error)

	// Create inserts a new record.
	Create(ctx context.Context, rec CallRecord) error

	// Update applies the non-nil fields of upd to the record.
	Update(ctx context.Context, callID string, upd RecordUpdate) error

	// List returns records matching the filter, newest first.
	List(ctx context.Context, filter RecordFilter) ([]CallRecord, error)
}

// Forwarder hands buyer utterances to the response pipeline without blocking.
type Forwarder interface {
	Forward(u Utterance)
}
