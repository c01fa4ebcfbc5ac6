package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "plug/shared/contracts/channel/v1"
)

// GatewayConfig holds the channel transport settings.
type GatewayConfig struct {
	// AllowedOrigins lists browser origins; "*" allows any. Requests without
	// an Origin header (non-browser clients) are always allowed.
	AllowedOrigins []string

	MaxMessageBytes int64
	PingInterval    time.Duration
	PingTimeout     time.Duration
	EventsPerSec    float64
	EventsBurst     int
	SendQueueSize   int
	WriteTimeout    time.Duration
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:  []string{"*"},
		MaxMessageBytes: defaultMaxMessageBytes,
		PingInterval:    defaultPingInterval,
		PingTimeout:     defaultPingTimeout,
		EventsPerSec:    defaultEventsPerSec,
		EventsBurst:     defaultEventsBurst,
		SendQueueSize:   defaultSendQueueSize,
		WriteTimeout:    defaultWriteTimeout,
	}
}

// Inbound is one decoded application event.
type Inbound struct {
	Event string
	Data  json.RawMessage
	// Compressed is set when the event arrived as a binary frame.
	Compressed bool
}

// EventError is a handler failure reported to the sender as an error event.
type EventError struct {
	Code    string
	Message string
}

func (e *EventError) Error() string { return e.Code + ": " + e.Message }

// HandlerFunc handles one application event on an active session.
type HandlerFunc func(ctx context.Context, s *Session, in Inbound) error

// FrameObserver receives frame-level error codes (metrics).
type FrameObserver interface {
	ObserveFrameError(code string)
}

// Gateway is the WebSocket entrypoint for the channel.
//
// Admission happens before the upgrade; a refused handshake never reaches
// Accept. After that every frame passes the codec and the per-connection
// rate limiter before dispatch.
type Gateway struct {
	cfg   GatewayConfig
	log   *slog.Logger
	guard *Guard
	hub   *Hub
	codec *Codec
	obs   FrameObserver

	handlers map[string]HandlerFunc

	anyOrigin      bool
	allowedOrigins []string
	// websocket.Accept checks cross-origin requests against these host patterns.
	originPatterns []string
}

// NewGateway constructs a gateway. obs may be nil.
func NewGateway(cfg GatewayConfig, guard *Guard, hub *Hub, log *slog.Logger, obs FrameObserver) *Gateway {
	def := DefaultGatewayConfig()
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &Gateway{
		cfg:      cfg,
		log:      log,
		guard:    guard,
		hub:      hub,
		codec:    NewCodec(cfg.MaxMessageBytes),
		obs:      obs,
		handlers: make(map[string]HandlerFunc),
	}
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			g.anyOrigin = true
		}
		if o != "" {
			g.allowedOrigins = append(g.allowedOrigins, o)
		}
	}
	g.originPatterns = deriveOriginPatterns(g.allowedOrigins)
	return g
}

// Handle registers fn for an application event. Control events cannot be
// registered.
func (g *Gateway) Handle(event string, fn HandlerFunc) {
	if v1.IsControl(event) {
		panic(fmt.Sprintf("realtime: %q is a control event", event))
	}
	g.handlers[event] = fn
}

// Hub returns the gateway's session registry.
func (g *Gateway) Hub() *Hub { return g.hub }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS admits, upgrades and runs one channel connection.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	lc := &Lifecycle{}

	if err := g.enforceOrigin(r); err != nil {
		_ = lc.To(StateRejected)
		g.log.Warn("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	principal, reason, ok := g.guard.Admit(r)
	if !ok {
		_ = lc.To(StateRejected)
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, reason.Message(), http.StatusUnauthorized)
		return
	}
	_ = lc.To(StateAdmitted)

	// Server read/write deadlines would otherwise survive the hijack.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.anyOrigin,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(g.cfg.MaxMessageBytes)

	sess := newSession(NewConnectionID(), principal, g.cfg.SendQueueSize, g.codec, g.log)
	sess.state = lc
	_ = lc.To(StateActive)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.remove(sess.ID)
			sess.markDone()
			_ = conn.Close(code, reason)
			cancel()
			_ = lc.To(StateClosed)
			g.log.Info("ws.disconnect", "conn_id", sess.ID, "username", principal.Name, "code", code.String(), "reason", reason)
		})
	}
	sess.kill = shutdown
	sess.drop = func() { _ = conn.CloseNow() }

	g.hub.add(sess)
	g.log.Info("ws.connect", "conn_id", sess.ID, "username", principal.Name, "subprotocol", conn.Subprotocol())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sess.Done():
				return
			case f := <-sess.send:
				if err := g.write(ctx, conn, f); err != nil {
					g.log.Info("ws.write.fail", "conn_id", sess.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, sess, shutdown)
	}()

	rl := NewRateLimiter(g.cfg.EventsPerSec, g.cfg.EventsBurst)

readLoop:
	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusGoingAway, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "conn_id", sess.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now()) {
			g.frameError(sess, v1.CodeRateLimited)
			g.writeErrorNow(ctx, conn, v1.CodeRateLimited, v1.MsgRateLimited)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		in, code, msg := g.decodeFrame(mt, data)
		if code != "" {
			g.frameError(sess, code)
			sess.EmitError(code, msg)
			continue
		}

		switch in.Event {
		case v1.EventDisconnect:
			shutdown(websocket.StatusNormalClosure, "client disconnect")
			break readLoop
		case v1.EventError:
			g.log.Warn("ws.client.error", "conn_id", sess.ID, "data", truncate(string(in.Data), 256))
			continue
		}

		fn, ok := g.handlers[in.Event]
		if !ok {
			g.frameError(sess, v1.CodeUnsupportedEvent)
			sess.EmitError(v1.CodeUnsupportedEvent, v1.MsgUnsupportedEvent)
			continue
		}
		if err := fn(ctx, sess, in); err != nil {
			var ee *EventError
			if errors.As(err, &ee) {
				sess.EmitError(ee.Code, ee.Message)
				continue
			}
			g.log.Error("ws.handler.fail", "conn_id", sess.ID, "event", in.Event, "err", err)
			sess.EmitError(v1.CodeInternal, v1.MsgInternal)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// decodeFrame turns a raw frame into an Inbound. On failure it returns the
// error code and message to report; the connection stays open.
func (g *Gateway) decodeFrame(mt websocket.MessageType, data []byte) (Inbound, string, string) {
	if mt == websocket.MessageText {
		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Inbound{}, v1.CodeInvalidFrame, v1.MsgInvalidMessageFormat
		}
		if err := env.Validate(); err != nil {
			return Inbound{}, v1.CodeInvalidFrame, v1.MsgInvalidMessageFormat
		}
		return Inbound{Event: env.Event, Data: env.Data}, "", ""
	}

	event, body, err := v1.DecodeBinary(data)
	if err != nil {
		return Inbound{}, v1.CodeInvalidCompressedFormat, v1.MsgInvalidCompressedFormat
	}
	if v1.IsControl(event) {
		return Inbound{Event: event, Data: json.RawMessage(body)}, "", ""
	}
	payload, err := g.codec.Decode(body)
	if err != nil {
		g.log.Warn("ws.decompress.fail", "event", event, "err", err)
		return Inbound{}, v1.CodeInvalidCompressedFormat, v1.MsgInvalidCompressedFormat
	}
	return Inbound{Event: event, Data: payload, Compressed: true}, "", ""
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, sess *Session, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.PingInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.PingTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "conn_id", sess.ID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) write(parent context.Context, conn *websocket.Conn, f outFrame) error {
	ctx, cancel := context.WithTimeout(parent, g.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, f.typ, f.data)
}

// writeErrorNow bypasses the send queue for the last frame before a close.
func (g *Gateway) writeErrorNow(ctx context.Context, conn *websocket.Conn, code, msg string) {
	raw, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	b, _ := json.Marshal(v1.Envelope{Event: v1.EventError, Data: raw})
	_ = g.write(ctx, conn, outFrame{typ: websocket.MessageText, data: b})
}

func (g *Gateway) frameError(sess *Session, code string) {
	g.log.Warn("ws.frame.reject", "conn_id", sess.ID, "code", code)
	if g.obs != nil {
		g.obs.ObserveFrameError(code)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || g.anyOrigin {
		return nil
	}

	originHost := originHostOnly(origin)
	for _, a := range g.allowedOrigins {
		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
