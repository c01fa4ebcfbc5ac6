// Package v1 is the wire contract of the plug.channel.v1 WebSocket protocol.
//
// Text frames carry a JSON Envelope. Binary frames carry the compressed form
// of the same event:
//
//	[1 byte n][n bytes event name][gzip(JSON data)]
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
)

const Subprotocol = "plug.channel.v1"

// Event names.
const (
	EventDisconnect   = "disconnect"
	EventError        = "error"
	EventChatMessage  = "chat:message"
	EventChatResponse = "chat:response"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeInvalidCompressedFormat = "INVALID_COMPRESSED_FORMAT"
	CodeInvalidFrame            = "INVALID_FRAME"
	CodeInvalidMessage          = "INVALID_MESSAGE"
	CodeInvalidRoomID           = "INVALID_ROOM_ID"
	CodeUnsupportedEvent        = "UNSUPPORTED_EVENT"
	CodeRateLimited             = "RATE_LIMITED"
	CodeInternal                = "INTERNAL"
)

// Client-facing messages.
const (
	MsgAuthRequired            = "Authentication required"
	MsgInvalidToken            = "Invalid token"
	MsgAuthFailed              = "Authentication failed"
	MsgInvalidCompressedFormat = "Invalid compressed format"
	MsgInvalidMessageFormat    = "Invalid message format"
	MsgInvalidRoomID           = "Invalid room ID format"
	MsgUnsupportedEvent        = "Unsupported event"
	MsgRateLimited             = "Too many events"
	MsgInternal                = "Internal error"
)

// IsControl reports whether event bypasses the frame codec.
func IsControl(event string) bool {
	return event == EventDisconnect || event == EventError
}

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (e Envelope) Validate() error {
	if e.Event == "" {
		return errors.New("missing event")
	}
	if len(e.Event) > MaxEventNameLen {
		return fmt.Errorf("event name too long: %d", len(e.Event))
	}
	return nil
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ChatMessage struct {
	Text   string  `json:"text"`
	RoomID *string `json:"roomId,omitempty"`
}

type ChatResponse struct {
	Original  string `json:"original"`
	Response  string `json:"response"`
	Timestamp int64  `json:"timestamp"`
}

// MaxEventNameLen is the longest event name a binary frame can carry.
const MaxEventNameLen = 255

var ErrMalformedFrame = errors.New("malformed binary frame")

// EncodeBinary prefixes body with the length-prefixed event name.
func EncodeBinary(event string, body []byte) ([]byte, error) {
	if event == "" || len(event) > MaxEventNameLen {
		return nil, fmt.Errorf("%w: event name length %d", ErrMalformedFrame, len(event))
	}
	out := make([]byte, 0, 1+len(event)+len(body))
	out = append(out, byte(len(event)))
	out = append(out, event...)
	out = append(out, body...)
	return out, nil
}

// DecodeBinary splits a binary frame into event name and body. The body
// aliases frame.
func DecodeBinary(frame []byte) (event string, body []byte, err error) {
	if len(frame) < 1 {
		return "", nil, ErrMalformedFrame
	}
	n := int(frame[0])
	if n == 0 || len(frame) < 1+n {
		return "", nil, ErrMalformedFrame
	}
	return string(frame[1 : 1+n]), frame[1+n:], nil
}
