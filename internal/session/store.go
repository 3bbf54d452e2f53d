// Package session holds the live, in-memory state of ongoing calls.
package session

import (
	"sync"
	"time"

	"github.com/soyeahso/callbridge/internal/domain"
)

// ErrNotActive is returned when a mutation requires an active call.
var ErrNotActive = &domain.Error{Kind: domain.KindInvalidInput, Op: "session", Message: "call is not active"}

type entry struct {
	mu sync.Mutex
	s  domain.CallSession
}

// Store maps call IDs to live sessions. The map is guarded by one lock and
// each session by its own, so appends for a call keep arrival order without
// serializing unrelated calls.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

// SetClock overrides the time source. It is not synchronized and must be
// called before the store is shared between goroutines.
func (st *Store) SetClock(now func() time.Time) {
	st.now = now
}

// Create inserts a fresh session in the connecting state, replacing any
// existing session for the same call.
func (st *Store) Create(callID, buyerID, agentID string, agentType domain.AgentType, propertyID, leadID string) (domain.CallSession, error) {
	s := domain.CallSession{
		CallID:     callID,
		BuyerID:    buyerID,
		AgentID:    agentID,
		AgentType:  agentType,
		PropertyID: propertyID,
		LeadID:     leadID,
		StartTime:  st.now(),
		Transcript: []domain.TranscriptEntry{},
		Status:     domain.StatusConnecting,
	}
	if err := st.Restore(s); err != nil {
		return domain.CallSession{}, err
	}
	return s.Clone(), nil
}

// Restore inserts a prepared session, used when a caller reconnects and the
// transcript and start time are carried over.
func (st *Store) Restore(s domain.CallSession) error {
	if s.CallID == "" || s.BuyerID == "" || s.AgentID == "" {
		return domain.InvalidInput("session.create", "Missing required fields: callId, buyerId, or agentId")
	}
	if !s.AgentType.Valid() {
		return domain.InvalidInput("session.create", "agentType must be ai or human")
	}
	if !s.Status.Valid() {
		s.Status = domain.StatusConnecting
	}
	if s.StartTime.IsZero() {
		s.StartTime = st.now()
	}

	st.mu.Lock()
	st.sessions[s.CallID] = &entry{s: s.Clone()}
	st.mu.Unlock()
	return nil
}

func (st *Store) lookup(callID string) *entry {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[callID]
}

// Get returns a copy of the session.
func (st *Store) Get(callID string) (domain.CallSession, bool) {
	e := st.lookup(callID)
	if e == nil {
		return domain.CallSession{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), true
}

// AppendTranscript appends an entry to a session that has not ended.
func (st *Store) AppendTranscript(callID string, role domain.Role, content string) (domain.TranscriptEntry, error) {
	return st.append(callID, role, content, func(s domain.Status) error {
		if s == domain.StatusEnded {
			return domain.ErrCallEnded
		}
		return nil
	})
}

// AppendActive appends an entry only while the session is active.
func (st *Store) AppendActive(callID string, role domain.Role, content string) (domain.TranscriptEntry, error) {
	return st.append(callID, role, content, func(s domain.Status) error {
		switch s {
		case domain.StatusActive:
			return nil
		case domain.StatusEnded:
			return domain.ErrCallEnded
		default:
			return ErrNotActive
		}
	})
}

func (st *Store) append(callID string, role domain.Role, content string, check func(domain.Status) error) (domain.TranscriptEntry, error) {
	if role != domain.RoleBuyer && role != domain.RoleAgent {
		return domain.TranscriptEntry{}, domain.InvalidInput("session.append", "role must be buyer or agent")
	}
	e := st.lookup(callID)
	if e == nil {
		return domain.TranscriptEntry{}, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := check(e.s.Status); err != nil {
		return domain.TranscriptEntry{}, err
	}
	te := domain.TranscriptEntry{Role: role, Content: content, Timestamp: st.now()}
	e.s.Transcript = append(e.s.Transcript, te)
	return te, nil
}

// SetStatus moves the session forward. It reports whether the status changed.
// Setting the current status again is a no-op; moving backwards is rejected.
func (st *Store) SetStatus(callID string, status domain.Status) (bool, error) {
	e := st.lookup(callID)
	if e == nil {
		return false, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !domain.CanTransition(e.s.Status, status) {
		return false, domain.InvalidInput("session.status", "cannot move from "+string(e.s.Status)+" to "+string(status))
	}
	if e.s.Status == status {
		return false, nil
	}
	e.s.Status = status
	return true, nil
}

// End moves the session to ended if its current status is one of from. The
// returned snapshot is taken under the same lock as the transition.
func (st *Store) End(callID string, from ...domain.Status) (domain.CallSession, bool) {
	e := st.lookup(callID)
	if e == nil {
		return domain.CallSession{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range from {
		if e.s.Status == f && f != domain.StatusEnded {
			e.s.Status = domain.StatusEnded
			return e.s.Clone(), true
		}
	}
	return e.s.Clone(), false
}

// Remove deletes the session.
func (st *Store) Remove(callID string) {
	st.mu.Lock()
	delete(st.sessions, callID)
	st.mu.Unlock()
}

// SweepEnded removes every ended session and returns how many were removed.
func (st *Store) SweepEnded() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, e := range st.sessions {
		e.mu.Lock()
		ended := e.s.Status == domain.StatusEnded
		e.mu.Unlock()
		if ended {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Active returns copies of all sessions in the active state.
func (st *Store) Active() []domain.CallSession {
	st.mu.RLock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	var out []domain.CallSession
	for _, e := range entries {
		e.mu.Lock()
		if e.s.Status == domain.StatusActive {
			out = append(out, e.s.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Transcript returns a copy of the session's transcript, or nil if absent.
func (st *Store) Transcript(callID string) []domain.TranscriptEntry {
	s, ok := st.Get(callID)
	if !ok {
		return nil
	}
	return s.Transcript
}

// Len returns the number of sessions held, including ended ones.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
