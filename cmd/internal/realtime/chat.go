package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	v1 "plug/shared/contracts/channel/v1"
)

const (
	maxChatTextLen = 1000
	maxRoomIDLen   = 50
)

var roomIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ChatHandler answers chat:message with an echo chat:response. The reply is
// compressed when the request was.
type ChatHandler struct {
	log *slog.Logger
	now func() time.Time
}

func NewChatHandler(log *slog.Logger) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatHandler{log: log, now: time.Now}
}

// Register mounts the handler on g.
func (h *ChatHandler) Register(g *Gateway) {
	g.Handle(v1.EventChatMessage, h.Handle)
}

func (h *ChatHandler) Handle(_ context.Context, s *Session, in Inbound) error {
	var msg v1.ChatMessage
	if err := json.Unmarshal(in.Data, &msg); err != nil {
		return &EventError{Code: v1.CodeInvalidMessage, Message: v1.MsgInvalidMessageFormat}
	}
	if err := validateChatText(msg.Text); err != "" {
		return &EventError{Code: v1.CodeInvalidMessage, Message: err}
	}
	if msg.RoomID != nil && !ValidRoomID(*msg.RoomID) {
		h.log.Warn("ws.chat.invalid_room", "conn_id", s.ID, "username", s.Principal.Name)
		return &EventError{Code: v1.CodeInvalidRoomID, Message: v1.MsgInvalidRoomID}
	}

	h.log.Info("ws.chat.message", "conn_id", s.ID, "username", s.Principal.Name, "compressed", in.Compressed, "len", len(msg.Text))

	resp := v1.ChatResponse{
		Original:  msg.Text,
		Response:  "Echo: " + msg.Text,
		Timestamp: h.now().UnixMilli(),
	}
	if in.Compressed {
		// Compression failures are logged by the session.
		_ = s.EmitCompressed(v1.EventChatResponse, resp)
		return nil
	}
	return s.Emit(v1.EventChatResponse, resp)
}

func validateChatText(text string) string {
	switch {
	case strings.TrimSpace(text) == "":
		return "Message cannot be empty"
	case utf8.RuneCountInString(text) > maxChatTextLen:
		return "Message text cannot exceed 1000 characters"
	}
	return ""
}

// ValidRoomID reports whether id is 1-50 characters of letters, digits,
// underscore or hyphen after trimming.
func ValidRoomID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && len(id) <= maxRoomIDLen && roomIDRe.MatchString(id)
}
