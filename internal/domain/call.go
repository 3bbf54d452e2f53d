package domain

import "time"

// AgentType distinguishes AI agents from human agents.
type AgentType string

const (
	AgentTypeAI    AgentType = "ai"
	AgentTypeHuman AgentType = "human"
)

// Valid reports whether t is a known agent type.
func (t AgentType) Valid() bool {
	return t == AgentTypeAI || t == AgentTypeHuman
}

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleBuyer Role = "buyer"
	RoleAgent Role = "agent"
)

// Status is the lifecycle state of a live call session.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
)

func (s Status) rank() int {
	switch s {
	case StatusConnecting:
		return 0
	case StatusActive:
		return 1
	case StatusEnded:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.rank() >= 0 }

// CanTransition reports whether a session may move from one status to another.
// Transitions only move forward; staying in place is allowed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return to.rank() >= from.rank()
}

// TranscriptEntry is one speech turn within a call.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CallSession is the live, in-memory record of one ongoing call.
type CallSession struct {
	CallID     string            `json:"callId"`
	BuyerID    string            `json:"buyerId"`
	AgentID    string            `json:"agentId"`
	AgentType  AgentType         `json:"agentType"`
	PropertyID string            `json:"propertyId,omitempty"`
	LeadID     string            `json:"leadId,omitempty"`
	StartTime  time.Time         `json:"startTime"`
	Transcript []TranscriptEntry `json:"transcript"`
	Status     Status            `json:"status"`
}

// Clone returns a deep copy so callers never share the transcript slice.
func (s CallSession) Clone() CallSession {
	out := s
	out.Transcript = CloneTranscript(s.Transcript)
	return out
}

// Duration returns the elapsed time since the session started.
func (s CallSession) Duration(now time.Time) time.Duration {
	if s.StartTime.IsZero() || now.Before(s.StartTime) {
		return 0
	}
	return now.Sub(s.StartTime)
}

// CloneTranscript copies a transcript. A nil input yields an empty, non-nil slice.
func CloneTranscript(in []TranscriptEntry) []TranscriptEntry {
	out := make([]TranscriptEntry, len(in))
	copy(out, in)
	return out
}

// Utterance is a buyer turn handed to the response-generation pipeline.
type Utterance struct {
	CallID  string `json:"callId"`
	Text    string `json:"text"`
	BuyerID string `json:"buyerId"`
	AgentID string `json:"agentId"`
}
