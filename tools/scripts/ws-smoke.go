// Package main provides a CI-friendly smoke test for a running Plug server.
//
// It validates:
//   - login (registering the account first when asked)
//   - handshake + subprotocol selection with a bearer token
//   - chat:message echo over a text frame
//   - chat:message echo over a compressed binary frame
//   - error event for an invalid room id
//   - disconnect closes with a normal closure
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/klauspost/compress/gzip"

	v1 "plug/shared/contracts/channel/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:3000", "Server base URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		user     = flag.String("user", "smoke_user", "Username")
		password = flag.String("password", "Smoke12345", "Password")
		register = flag.Bool("register", true, "Register the user before logging in (409 is tolerated)")
		text     = flag.String("text", "hello plug 👋", "Message text to send")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := url.Parse(strings.TrimRight(*baseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		fatalf("invalid -url: %q", *baseURL)
	}
	root := context.Background()

	if *register {
		status, _ := postJSON(root, base.String()+"/auth/register", map[string]string{"username": *user, "password": *password}, *timeout)
		if status != http.StatusOK && status != http.StatusConflict {
			fatalf("register: unexpected status %d", status)
		}
	}
	status, body := postJSON(root, base.String()+"/auth/login", map[string]string{"username": *user, "password": *password}, *timeout)
	if status != http.StatusOK {
		fatalf("login: status %d body=%s", status, body)
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &login); err != nil || login.Token == "" {
		fatalf("login: missing token in %s", body)
	}

	conn := mustConnect(root, wsURL(base), *origin, login.Token, *timeout)
	defer func() { _ = conn.CloseNow() }()
	if *verbose {
		fmt.Printf("connected: subprotocol=%q\n", conn.Subprotocol())
	}

	// Text echo.
	mustWriteText(root, conn, v1.EventChatMessage, v1.ChatMessage{Text: *text}, *timeout)
	resp := mustReadChat(root, conn, *timeout)
	if resp.Response != "Echo: "+*text {
		fatalf("text echo mismatch: %+v", resp)
	}

	// Compressed echo.
	mustWriteCompressed(root, conn, v1.EventChatMessage, v1.ChatMessage{Text: *text}, *timeout)
	resp = mustReadChat(root, conn, *timeout)
	if resp.Original != *text {
		fatalf("compressed echo mismatch: %+v", resp)
	}

	// Validation error keeps the connection.
	bad := "no spaces allowed"
	mustWriteText(root, conn, v1.EventChatMessage, v1.ChatMessage{Text: *text, RoomID: &bad}, *timeout)
	env := mustRead(root, conn, *timeout)
	if env.Event != v1.EventError {
		fatalf("expected error event, got %q", env.Event)
	}
	var perr v1.ErrorPayload
	if err := json.Unmarshal(env.Data, &perr); err != nil || perr.Code != v1.CodeInvalidRoomID {
		fatalf("expected %s, got %s", v1.CodeInvalidRoomID, env.Data)
	}

	mustWriteText(root, conn, v1.EventDisconnect, nil, *timeout)
	ctx, cancel := context.WithTimeout(root, *timeout)
	defer cancel()
	if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		fatalf("expected normal closure after disconnect, got %v", err)
	}

	fmt.Printf("OK: user=%s ws=%s\n", *user, wsURL(base))
}

func wsURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}

func postJSON(parent context.Context, target string, body any, timeout time.Duration) (int, []byte) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	raw, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	out, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	return resp.StatusCode, out
}

func mustConnect(parent context.Context, target, origin, token string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader:   h,
		Subprotocols: []string{v1.Subprotocol},
	})
	if err != nil {
		if resp != nil {
			fatalf("dial: %v (status=%d)", err, resp.StatusCode)
		}
		fatalf("dial: %v", err)
	}
	if conn.Subprotocol() != v1.Subprotocol {
		_ = conn.CloseNow()
		fatalf("subprotocol mismatch: got=%q want=%q", conn.Subprotocol(), v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func mustWriteText(parent context.Context, conn *websocket.Conn, event string, data any, timeout time.Duration) {
	env := map[string]any{"event": event}
	if data != nil {
		env["data"] = data
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal %s: %v", event, err)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", event, err)
	}
}

func mustWriteCompressed(parent context.Context, conn *websocket.Conn, event string, data any, timeout time.Duration) {
	raw, err := json.Marshal(data)
	if err != nil {
		fatalf("marshal %s: %v", event, err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		fatalf("gzip: %v", err)
	}
	frame, err := v1.EncodeBinary(event, buf.Bytes())
	if err != nil {
		fatalf("frame: %v", err)
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		fatalf("write %s: %v", event, err)
	}
}

// mustRead returns the next event; binary frames are decompressed.
func mustRead(parent context.Context, conn *websocket.Conn, timeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	typ, b, err := conn.Read(ctx)
	if err != nil {
		fatalf("read: %v", err)
	}
	if typ == websocket.MessageText {
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			fatalf("decode envelope: %v", err)
		}
		return env
	}

	event, body, err := v1.DecodeBinary(b)
	if err != nil {
		fatalf("decode frame: %v", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		fatalf("gunzip: %v", err)
	}
	plain, err := io.ReadAll(io.LimitReader(zr, maxReadBytes))
	if err != nil {
		fatalf("gunzip: %v", err)
	}
	return v1.Envelope{Event: event, Data: plain}
}

func mustReadChat(parent context.Context, conn *websocket.Conn, timeout time.Duration) v1.ChatResponse {
	env := mustRead(parent, conn, timeout)
	if env.Event != v1.EventChatResponse {
		fatalf("expected %s, got %s (%s)", v1.EventChatResponse, env.Event, env.Data)
	}
	var resp v1.ChatResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		fatalf("decode chat response: %v", err)
	}
	return resp
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
