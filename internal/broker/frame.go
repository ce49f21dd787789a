package broker

import "encoding/json"

// Frame types exchanged over a websocket session.
const (
	FrameSubscribe    = "subscribe"
	FrameUnsubscribe  = "unsubscribe"
	FrameRequest      = "request"
	FrameResponse     = "response"
	FrameNotification = "notification"
)

// Frame is one JSON text message on a websocket session.
//
// Clients send subscribe/unsubscribe (Group) and request (ID, Method,
// Payload). The server answers a request with a response carrying the same
// ID and either Payload or Error, and pushes notifications as they happen.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Group   string          `json:"group,omitempty"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

// FrameError is a request failure: a named category and a message.
type FrameError struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}
