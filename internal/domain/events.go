package domain

import "time"

// Events the server sends to call participants.
const (
	EventCallConnected      = "call_connected"
	EventVoiceInputReceived = "voice_input_received"
	EventAgentSpeak         = "agent_speak"
	EventCallEnded          = "call_ended"
	EventError              = "error"
)

// CallConnected confirms a start to the requesting connection.
type CallConnected struct {
	CallID     string            `json:"callId"`
	AgentID    string            `json:"agentId"`
	AgentType  AgentType         `json:"agentType"`
	Resumed    bool              `json:"resumed,omitempty"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// VoiceInputReceived acknowledges a buyer utterance.
type VoiceInputReceived struct {
	CallID       string    `json:"callId"`
	Acknowledged bool      `json:"acknowledged"`
	Timestamp    time.Time `json:"timestamp"`
}

// AgentSpeak carries an agent response to everyone in the call room.
type AgentSpeak struct {
	CallID    string    `json:"callId"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Timestamp time.Time `json:"timestamp"`
}

// CallEnded notifies the room that the call is over. Duration is in seconds.
type CallEnded struct {
	CallID    string    `json:"callId"`
	Duration  int64     `json:"duration"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent reports a rejected event to the connection that sent it.
type ErrorEvent struct {
	Message string    `json:"message"`
	Code    ErrorKind `json:"code"`
	Event   string    `json:"event,omitempty"`
}
