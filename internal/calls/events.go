package calls

import (
	"encoding/json"
	"errors"

	"github.com/soyeahso/callbridge/internal/domain"
)

// Inbound event names.
const (
	EventCallStart     = "call_start"
	EventVoiceInput    = "voice_input"
	EventAgentResponse = "agent_response"
	EventCallEnd       = "call_end"
)

// Event is a validated inbound call event.
type Event interface {
	Name() string
	Call() string
}

// StartCall asks to start or resume a call.
type StartCall struct {
	CallID     string
	BuyerID    string
	AgentID    string
	AgentType  domain.AgentType
	PropertyID string
	LeadID     string
}

// BuyerUtterance is recognised buyer speech. Buyer and agent identity
// come from the session, never from the sender.
type BuyerUtterance struct {
	CallID string
	Text   string
}

// AgentResponse is an agent turn pushed over the socket.
type AgentResponse struct {
	CallID  string
	Text    string
	IsFinal bool
}

// EndCall asks to end a call.
type EndCall struct {
	CallID string
	Reason string
}

func (StartCall) Name() string      { return EventCallStart }
func (BuyerUtterance) Name() string { return EventVoiceInput }
func (AgentResponse) Name() string  { return EventAgentResponse }
func (EndCall) Name() string        { return EventCallEnd }

func (e StartCall) Call() string      { return e.CallID }
func (e BuyerUtterance) Call() string { return e.CallID }
func (e AgentResponse) Call() string  { return e.CallID }
func (e EndCall) Call() string        { return e.CallID }

// wireEvent is the union of every inbound payload field. Pointers
// distinguish absent fields from empty ones; an empty text is valid.
type wireEvent struct {
	CallID     *string `json:"callId"`
	BuyerID    *string `json:"buyerId"`
	AgentID    *string `json:"agentId"`
	AgentType  *string `json:"agentType"`
	PropertyID *string `json:"propertyId"`
	LeadID     *string `json:"leadId"`
	Text       *string `json:"text"`
	IsFinal    *bool   `json:"isFinal"`
	Reason     *string `json:"reason"`
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ParseEvent decodes and validates an inbound event payload.
func ParseEvent(name string, raw json.RawMessage) (Event, error) {
	op := "calls.parse"
	var w wireEvent
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &w); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return nil, domain.InvalidInput(op, "Invalid "+name+": field "+typeErr.Field+" has the wrong type")
			}
			return nil, domain.InvalidInput(op, "Invalid "+name+": malformed payload")
		}
	}

	switch name {
	case EventCallStart:
		if str(w.CallID) == "" || str(w.BuyerID) == "" || str(w.AgentID) == "" {
			return nil, domain.InvalidInput(op, "Missing required fields: callId, buyerId, or agentId")
		}
		agentType := domain.AgentTypeAI
		if w.AgentType != nil && *w.AgentType != "" {
			agentType = domain.AgentType(*w.AgentType)
			if !agentType.Valid() {
				return nil, domain.InvalidInput(op, "agentType must be ai or human")
			}
		}
		return StartCall{
			CallID:     *w.CallID,
			BuyerID:    *w.BuyerID,
			AgentID:    *w.AgentID,
			AgentType:  agentType,
			PropertyID: str(w.PropertyID),
			LeadID:     str(w.LeadID),
		}, nil

	case EventVoiceInput:
		if str(w.CallID) == "" || w.Text == nil {
			return nil, domain.InvalidInput(op, "Invalid voice_input: missing callId or text")
		}
		return BuyerUtterance{CallID: *w.CallID, Text: *w.Text}, nil

	case EventAgentResponse:
		if str(w.CallID) == "" || w.Text == nil {
			return nil, domain.InvalidInput(op, "Invalid agent_response: missing callId or text")
		}
		isFinal := true
		if w.IsFinal != nil {
			isFinal = *w.IsFinal
		}
		return AgentResponse{CallID: *w.CallID, Text: *w.Text, IsFinal: isFinal}, nil

	case EventCallEnd:
		if str(w.CallID) == "" {
			return nil, domain.InvalidInput(op, "Missing callId in call_end request")
		}
		return EndCall{CallID: *w.CallID, Reason: str(w.Reason)}, nil

	default:
		return nil, domain.InvalidInput(op, "Unknown event: "+name)
	}
}
