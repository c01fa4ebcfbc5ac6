package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	v1 "plug/shared/contracts/channel/v1"
)

var errBackpressure = errors.New("realtime: send queue full")

type outFrame struct {
	typ  websocket.MessageType
	data []byte
}

// Session is one admitted channel connection.
//
// Send is never closed by the server, so concurrent emitters cannot panic;
// done signals the writer to stop.
type Session struct {
	ID        string
	Principal Principal

	state     *Lifecycle
	send      chan outFrame
	codec     *Codec
	log       *slog.Logger
	done      chan struct{}
	closeOnce sync.Once

	// kill closes the socket; set by the gateway once accepted.
	kill func(code websocket.StatusCode, reason string)
	// drop tears the socket down without a close handshake.
	drop func()
}

func newSession(id string, p Principal, queue int, codec *Codec, log *slog.Logger) *Session {
	if queue < minSendQueueSize {
		queue = minSendQueueSize
	}
	return &Session{
		ID:        id,
		Principal: p,
		send:      make(chan outFrame, queue),
		codec:     codec,
		log:       log,
		done:      make(chan struct{}),
	}
}

// State returns the connection's lifecycle state.
func (s *Session) State() ConnState {
	if s.state == nil {
		return StateActive
	}
	return s.state.State()
}

// Done is closed when the session is shutting down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) markDone() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Close asks the gateway to close the connection.
func (s *Session) Close(code websocket.StatusCode, reason string) {
	if s.kill != nil {
		s.kill(code, reason)
		return
	}
	s.markDone()
}

// abort drops the connection without waiting for the peer. It unblocks a
// Close stuck in the close handshake.
func (s *Session) abort() {
	if s.drop != nil {
		s.drop()
	}
	s.markDone()
}

// Emit sends data as a plain JSON text frame.
func (s *Session) Emit(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("realtime: marshal %s: %w", event, err)
	}
	b, err := json.Marshal(v1.Envelope{Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("realtime: marshal envelope: %w", err)
	}
	return s.enqueue(outFrame{typ: websocket.MessageText, data: b})
}

// EmitCompressed sends data through the codec as a binary frame. Failures
// are logged and returned; they never close the connection.
func (s *Session) EmitCompressed(event string, data any) error {
	body, err := s.codec.Encode(data)
	if err == nil {
		var frame []byte
		frame, err = v1.EncodeBinary(event, body)
		if err == nil {
			err = s.enqueue(outFrame{typ: websocket.MessageBinary, data: frame})
		}
	}
	if err != nil {
		s.log.Warn("ws.compress.fail", "conn_id", s.ID, "event", event, "err", err)
	}
	return err
}

// EmitError sends an error event.
func (s *Session) EmitError(code, message string) {
	_ = s.Emit(v1.EventError, v1.ErrorPayload{Code: code, Message: message})
}

func (s *Session) enqueue(f outFrame) error {
	select {
	case <-s.done:
		return context.Canceled
	default:
	}
	select {
	case s.send <- f:
		return nil
	default:
		return errBackpressure
	}
}
