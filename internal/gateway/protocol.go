package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types for the WebSocket protocol.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Frame is the envelope for every WebSocket message. Clients send call
// events as "event" frames and admin lookups as "req" frames.
type Frame struct {
	Type string `json:"type"`

	// Request fields
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// Response fields
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Event fields
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`

	// Error (response only)
	Error *ErrorShape `json:"error,omitempty"`
}

// ErrorShape is the error format in response frames.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ConnectParams are sent by the client in the initial "connect" request.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
	UserAgent   string       `json:"userAgent,omitempty"`
}

// Client roles.
const (
	RoleBuyer   = "buyer"
	RoleAgent   = "agent"
	RoleService = "service"
)

// ClientInfo identifies the connecting client.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version"`
	Platform    string `json:"platform,omitempty"`
	Role        string `json:"role,omitempty"` // "buyer" | "agent" | "service"
}

// ConnectAuth carries credentials in the connect request.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK is the server's response payload after a successful handshake.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

// ServerInfo identifies the gateway server.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features advertises the RPC methods and events a client may use.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
	Accepts []string `json:"accepts"`
}

// ServerPolicy communicates protocol limits to the client.
type ServerPolicy struct {
	MaxPayload     int   `json:"maxPayload"`
	TickIntervalMs int64 `json:"tickIntervalMs"`
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame payload: %w", err)
	}
	return raw, nil
}

// NewRequest builds a req frame, used by clients and tests.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := marshalPayload(params)
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, err
}

// NewResponse builds a successful res frame for request id.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := marshalPayload(payload)
	return Frame{Type: FrameTypeResponse, ID: id, OK: boolPtr(true), Payload: raw}, err
}

// NewErrorResponse builds a failed res frame for request id.
func NewErrorResponse(id string, shape ErrorShape) Frame {
	return Frame{Type: FrameTypeResponse, ID: id, OK: boolPtr(false), Error: &shape}
}

// NewEvent builds an event frame. seq is zero for frames outside a session.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := marshalPayload(payload)
	return Frame{Type: FrameTypeEvent, Event: event, Seq: seq, Payload: raw}, err
}

func boolPtr(b bool) *bool { return &b }

const (
	// ProtocolVersion is the frame protocol this server speaks.
	ProtocolVersion = 1

	// EventConnectChallenge opens every handshake.
	EventConnectChallenge = "connect.challenge"

	maxPayload       = 1 << 20
	handshakeTimeout = 10 * time.Second
	tickInterval     = 30 * time.Second
)

// Challenge is the payload of connect.challenge.
type Challenge struct {
	Nonce string `json:"nonce"`
	Ts    int64  `json:"ts"`
}
