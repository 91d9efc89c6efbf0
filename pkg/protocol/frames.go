package protocol

import "encoding/json"

// ProtocolVersion is the wire protocol version reported on /health and
// negotiated implicitly by clients connecting to /ws.
const ProtocolVersion = 3

// RequestFrame is a client->server WebSocket RPC call.
type RequestFrame struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is a server->client reply to a RequestFrame, correlated by ID.
type ResponseFrame struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// EventFrame is an unsolicited server->client push (bus events, agent
// lifecycle notifications, chat chunks).
type EventFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent builds an EventFrame for broadcast to connected clients.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: name, Payload: payload}
}
