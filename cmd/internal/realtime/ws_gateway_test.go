package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plug/cmd/internal/auth/session"
	v1 "plug/shared/contracts/channel/v1"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type signerVerifier struct {
	signer session.AccessSigner
}

func (s signerVerifier) VerifyAccess(tok string) (session.AccessClaims, error) {
	return s.signer.Verify(tok, time.Now())
}

func newTestSigner(t *testing.T) session.AccessSigner {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.JWTSecret = testSecret
	cfg.ClockSkew = 0
	s, err := session.NewSigner(cfg)
	require.NoError(t, err)
	return s
}

func mustToken(t *testing.T, s session.AccessSigner, exp time.Time) string {
	t.Helper()
	tok, err := s.Sign(session.AccessClaims{Name: "alice", Role: "user", ExpiresAt: exp})
	require.NoError(t, err)
	return tok
}

func startGateway(t *testing.T, mutate func(*GatewayConfig)) (*httptest.Server, *Gateway, session.AccessSigner) {
	t.Helper()
	signer := newTestSigner(t)
	log := slog.New(slog.DiscardHandler)

	cfg := DefaultGatewayConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	gw := NewGateway(cfg, NewGuard(signerVerifier{signer}, log, nil), NewHub(log), log, nil)
	NewChatHandler(log).Register(gw)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, gw, signer
}

func dialWS(t *testing.T, baseURL, bearer, queryToken string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	if queryToken != "" {
		u.RawQuery = url.Values{"token": {queryToken}}.Encode()
	}

	h := http.Header{}
	if bearer != "" {
		h.Set("Authorization", "Bearer "+bearer)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
}

func mustDial(t *testing.T, baseURL, bearer string) *websocket.Conn {
	t.Helper()
	conn, _, err := dialWS(t, baseURL, bearer, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func expectRejected(t *testing.T, resp *http.Response, err error, body string) {
	t.Helper()
	require.Error(t, err, "expected handshake failure")
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, body, strings.TrimSpace(string(b)))
}

func writeText(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	b, err := json.Marshal(v1.Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	writeRaw(t, conn, websocket.MessageText, b)
}

func writeRaw(t *testing.T, conn *websocket.Conn, typ websocket.MessageType, b []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, typ, b))
}

func readFrame(t *testing.T, conn *websocket.Conn) (websocket.MessageType, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, b, err := conn.Read(ctx)
	require.NoError(t, err)
	return typ, b
}

func readEnvelope(t *testing.T, conn *websocket.Conn) v1.Envelope {
	t.Helper()
	typ, b := readFrame(t, conn)
	require.Equal(t, websocket.MessageText, typ)
	var env v1.Envelope
	require.NoError(t, json.Unmarshal(b, &env))
	return env
}

func readError(t *testing.T, conn *websocket.Conn) v1.ErrorPayload {
	t.Helper()
	env := readEnvelope(t, conn)
	require.Equal(t, v1.EventError, env.Event)
	var p v1.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}

func TestGateway_RejectsMissingToken(t *testing.T) {
	ts, gw, _ := startGateway(t, nil)

	_, resp, err := dialWS(t, ts.URL, "", "")
	expectRejected(t, resp, err, "Authentication required")
	assert.Zero(t, gw.Hub().Count())
}

func TestGateway_RejectsInvalidToken(t *testing.T) {
	ts, _, _ := startGateway(t, nil)

	_, resp, err := dialWS(t, ts.URL, "not-a-valid-token", "")
	expectRejected(t, resp, err, "Invalid token")
}

func TestGateway_RejectsExpiredToken(t *testing.T) {
	ts, _, signer := startGateway(t, nil)
	expired := mustToken(t, signer, time.Now().Add(-time.Minute))

	_, resp, err := dialWS(t, ts.URL, "", expired)
	expectRejected(t, resp, err, "Invalid token")
}

func TestGateway_AdmitsQueryToken(t *testing.T) {
	ts, gw, signer := startGateway(t, nil)

	conn, _, err := dialWS(t, ts.URL, "", mustToken(t, signer, time.Now().Add(time.Minute)))
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	assert.Equal(t, v1.Subprotocol, conn.Subprotocol())
	require.Eventually(t, func() bool { return gw.Hub().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_ChatEchoText(t *testing.T) {
	ts, _, signer := startGateway(t, nil)
	conn := mustDial(t, ts.URL, mustToken(t, signer, time.Time{}))

	writeText(t, conn, v1.EventChatMessage, map[string]any{"text": "hello", "roomId": "lobby-1"})
	env := readEnvelope(t, conn)
	require.Equal(t, v1.EventChatResponse, env.Event)

	var resp v1.ChatResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "hello", resp.Original)
	assert.Equal(t, "Echo: hello", resp.Response)
	assert.InDelta(t, time.Now().UnixMilli(), resp.Timestamp, 5000)
}

func TestGateway_ChatEchoCompressed(t *testing.T) {
	ts, _, signer := startGateway(t, nil)
	conn := mustDial(t, ts.URL, mustToken(t, signer, time.Time{}))
	codec := NewCodec(1 << 20)

	body, err := codec.Encode(map[string]any{"text": "zipped"})
	require.NoError(t, err)
	frame, err := v1.EncodeBinary(v1.EventChatMessage, body)
	require.NoError(t, err)
	writeRaw(t, conn, websocket.MessageBinary, frame)

	typ, b := readFrame(t, conn)
	require.Equal(t, websocket.MessageBinary, typ)
	event, payload, err := v1.DecodeBinary(b)
	require.NoError(t, err)
	assert.Equal(t, v1.EventChatResponse, event)

	raw, err := codec.Decode(payload)
	require.NoError(t, err)
	var resp v1.ChatResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "Echo: zipped", resp.Response)
}

func TestGateway_BadFrameKeepsConnection(t *testing.T) {
	ts, _, signer := startGateway(t, nil)
	conn := mustDial(t, ts.URL, mustToken(t, signer, time.Time{}))

	frame, err := v1.EncodeBinary(v1.EventChatMessage, []byte("this is not gzip"))
	require.NoError(t, err)
	writeRaw(t, conn, websocket.MessageBinary, frame)

	p := readError(t, conn)
	assert.Equal(t, v1.CodeInvalidCompressedFormat, p.Code)
	assert.Equal(t, "Invalid compressed format", p.Message)

	// A frame too short to carry an event name is reported the same way.
	writeRaw(t, conn, websocket.MessageBinary, []byte{9, 'x'})
	assert.Equal(t, v1.CodeInvalidCompressedFormat, readError(t, conn).Code)

	writeText(t, conn, v1.EventChatMessage, map[string]any{"text": "still here"})
	env := readEnvelope(t, conn)
	assert.Equal(t, v1.EventChatResponse, env.Event)
}

func TestGateway_InvalidTextFrame(t *testing.T) {
	ts, _, signer := startGateway(t, nil)
	conn := mustDial(t, ts.URL, mustToken(t, signer, time.Time{}))

	writeRaw(t, conn, websocket.MessageText, []byte("{nope"))
	assert.Equal(t, v1.CodeInvalidFrame, readError(t, conn).Code)
}

func TestGateway_ValidationErrors(t *testing.T) {
	ts, _, signer := startGateway(t, nil)
	conn := mustDial(t, ts.URL, mustToken(t, signer, time.Time{}))

	writeText(t, conn, v1.EventChatMessage, map[string]any{"text": "hi", "roomId": "bad room!"})
	p := readError(t, conn)
	assert.Equal(t, v1.CodeInvalidRoomID, p.Code)
	assert.Equal(t, "Invalid room ID format", p.Message)

	writeText(t, conn, v1.EventChatMessage, map[string]any{"text": "   "})
	assert.Equal(t, v1.CodeInvalidMessage, readError(t, conn).Code)

	writeText(t, conn, v1.EventChatMessage, map[string]any{"text": strings.Repeat("a", 1001)})
	assert.Equal(t, v1.CodeInvalidMessage, readError(t, conn).Code)

	writeText(t, conn, "room:join", map[string]any{})
	assert.Equal(t, v1.CodeUnsupportedEvent, readError(t, conn).Code)
}

func TestGateway_ClientErrorEventIsIgnored(t *testing.T) {
	ts, _, signer := startGateway(t, nil)
	conn := mustDial(t, ts.URL, mustToken(t, signer, time.Time{}))

	writeText(t, conn, v1.EventError, map[string]any{"message": "client side oops"})
	// Binary control frames bypass the codec even when the body is not gzip.
	frame, err := v1.EncodeBinary(v1.EventError, []byte("raw"))
	require.NoError(t, err)
	writeRaw(t, conn, websocket.MessageBinary, frame)

	writeText(t, conn, v1.EventChatMessage, map[string]any{"text": "after"})
	env := readEnvelope(t, conn)
	assert.Equal(t, v1.EventChatResponse, env.Event)
}

func TestGateway_DisconnectEvent(t *testing.T) {
	ts, gw, signer := startGateway(t, nil)
	conn := mustDial(t, ts.URL, mustToken(t, signer, time.Time{}))

	writeText(t, conn, v1.EventDisconnect, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return gw.Hub().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_RateLimit(t *testing.T) {
	ts, _, signer := startGateway(t, func(c *GatewayConfig) {
		c.EventsPerSec = 0.001
		c.EventsBurst = 2
	})
	conn := mustDial(t, ts.URL, mustToken(t, signer, time.Time{}))

	for i := 0; i < 3; i++ {
		writeText(t, conn, v1.EventChatMessage, map[string]any{"text": "spam"})
	}

	var (
		sawLimit bool
		status   websocket.StatusCode = -1
	)
	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			status = websocket.CloseStatus(err)
			break
		}
		if strings.Contains(string(b), v1.CodeRateLimited) {
			sawLimit = true
		}
	}
	assert.True(t, sawLimit, "expected a RATE_LIMITED error event")
	assert.Equal(t, websocket.StatusPolicyViolation, status)
}

func TestHub_CloseAll(t *testing.T) {
	ts, gw, signer := startGateway(t, nil)
	conn := mustDial(t, ts.URL, mustToken(t, signer, time.Time{}))
	require.Eventually(t, func() bool { return gw.Hub().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	readErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	assert.Equal(t, 1, gw.Hub().CloseAll(ctx, "server shutdown"))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(<-readErr))
	assert.Equal(t, 0, gw.Hub().Count())
}

func TestHub_CloseAll_BoundedByContext(t *testing.T) {
	ts, gw, signer := startGateway(t, nil)
	const clients = 3
	for range clients {
		// These peers never read, so they never answer the close handshake.
		mustDial(t, ts.URL, mustToken(t, signer, time.Time{}))
	}
	require.Eventually(t, func() bool { return gw.Hub().Count() == clients }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.Equal(t, clients, gw.Hub().CloseAll(ctx, "server shutdown"))
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 0, gw.Hub().Count())
}

func TestHub_CloseAll_Empty(t *testing.T) {
	h := NewHub(slog.New(slog.DiscardHandler))
	assert.Equal(t, 0, h.CloseAll(context.Background(), "server shutdown"))
}

func TestGateway_OriginPolicy(t *testing.T) {
	ts, _, signer := startGateway(t, func(c *GatewayConfig) {
		c.AllowedOrigins = []string{"https://app.example.com"}
	})
	tok := mustToken(t, signer, time.Time{})

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	h.Set("Origin", "https://evil.example.net")
	_, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPHeader: h})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestValidRoomID(t *testing.T) {
	assert.True(t, ValidRoomID("room_1-a"))
	assert.True(t, ValidRoomID(" padded "))
	assert.False(t, ValidRoomID(""))
	assert.False(t, ValidRoomID("   "))
	assert.False(t, ValidRoomID(strings.Repeat("r", 51)))
	assert.False(t, ValidRoomID("no/slash"))
}
