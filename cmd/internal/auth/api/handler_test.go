package authapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plug/cmd/identity"
	"plug/cmd/internal/auth/session"
	"plug/cmd/security/password"
	"plug/cmd/security/token"
)

// plainHasher keeps tests fast; production wires password.Config.
type plainHasher struct{}

func (plainHasher) Hash(s string) (string, error) { return "plain$" + s, nil }
func (plainHasher) Verify(enc, s string) (bool, error) {
	return enc == "plain$"+s, nil
}

type testServer struct {
	mux *http.ServeMux
	ids *identity.MemoryStore
	rt  *session.MemoryStore
	h   *Handler
}

func newTestServer(t *testing.T, mutate func(*Config)) testServer {
	t.Helper()

	scfg := session.DefaultConfig()
	scfg.JWTSecret = "0123456789abcdef0123456789abcdef"
	signer, err := session.NewSigner(scfg)
	require.NoError(t, err)

	ts := testServer{ids: identity.NewMemoryStore(), rt: session.NewMemoryStore()}
	svc, err := session.NewService(scfg, session.Deps{
		Identities: ts.ids,
		Secrets:    plainHasher{},
		Refresh:    ts.rt,
		Signer:     signer,
		Hasher:     token.NewHasher(nil),
		Logger:     slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.RatePerSec = 1000
	cfg.RateBurst = 1000
	if mutate != nil {
		mutate(&cfg)
	}
	ts.h, err = NewHandler(slog.New(slog.DiscardHandler), cfg, svc, password.DefaultConfig())
	require.NoError(t, err)

	ts.mux = http.NewServeMux()
	ts.h.Register(ts.mux)
	return ts
}

func (ts testServer) do(t *testing.T, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decodeTokens(t *testing.T, rec *httptest.ResponseRecorder) tokenResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Success)
	require.NotEmpty(t, out.Token)
	require.NotEmpty(t, out.RefreshToken)
	return out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	assert.False(t, out.Success)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	return out
}

func TestRegisterLoginRefreshMe(t *testing.T) {
	ts := newTestServer(t, nil)

	reg := decodeTokens(t, ts.do(t, http.MethodPost, "/auth/register",
		map[string]string{"username": "alice", "password": "Secret123"}, nil))
	assert.Equal(t, "User registered successfully", reg.Message)

	login := decodeTokens(t, ts.do(t, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "Secret123"}, nil))
	assert.Equal(t, "Login successful", login.Message)

	refreshed := decodeTokens(t, ts.do(t, http.MethodPost, "/auth/refresh",
		map[string]string{"refreshToken": login.RefreshToken}, nil))
	assert.Equal(t, "Token refreshed successfully", refreshed.Message)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The rotated-out token is spent.
	rec := ts.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": login.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(session.KindTokenExpiredOrRevoked), decodeError(t, rec).Error.Code)

	rec = ts.do(t, http.MethodGet, "/auth/me", nil, map[string]string{"Authorization": "Bearer " + refreshed.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, meResponse{Username: "alice", Role: identity.RoleUser}, me)
}

func TestRegister_Validation(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []struct {
		name string
		body any
		code string
	}{
		{"short name", map[string]string{"username": "al", "password": "Secret123"}, "invalid_username"},
		{"bad chars", map[string]string{"username": "al ice", "password": "Secret123"}, "invalid_username"},
		{"short password", map[string]string{"username": "alice", "password": "Se1"}, "invalid_password"},
		{"missing class", map[string]string{"username": "alice", "password": "secret1234"}, "invalid_password"},
		{"role not allowed", map[string]string{"username": "alice", "password": "Secret123", "role": "admin"}, "invalid_request"},
		{"unknown field", `{"username":"alice","password":"Secret123","email":"a@b"}`, "invalid_json"},
		{"trailing data", `{"username":"alice","password":"Secret123"} {}`, "invalid_json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/auth/register", tc.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec).Error.Code)
		})
	}
	assert.Zero(t, ts.rt.Len())
}

func TestRegister_RoleWhenAllowed(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.AllowRoleOnRegister = true })

	out := decodeTokens(t, ts.do(t, http.MethodPost, "/auth/register",
		map[string]string{"username": "root_1", "password": "Secret123", "role": "admin"}, nil))

	rec := ts.do(t, http.MethodGet, "/auth/me", nil, map[string]string{"Authorization": "Bearer " + out.Token})
	assert.Contains(t, rec.Body.String(), `"role":"admin"`)

	rec = ts.do(t, http.MethodPost, "/auth/register",
		map[string]string{"username": "root_2", "password": "Secret123", "role": "owner"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_Conflict(t *testing.T) {
	ts := newTestServer(t, nil)
	body := map[string]string{"username": "alice", "password": "Secret123"}

	decodeTokens(t, ts.do(t, http.MethodPost, "/auth/register", body, nil))
	rec := ts.do(t, http.MethodPost, "/auth/register", body, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, string(session.KindAlreadyExists), e.Error.Code)
	assert.Equal(t, "Username already exists", e.Error.Message)
	assert.Equal(t, 1, ts.rt.Len())
}

func TestLogin_Failures(t *testing.T) {
	ts := newTestServer(t, nil)
	decodeTokens(t, ts.do(t, http.MethodPost, "/auth/register",
		map[string]string{"username": "alice", "password": "Secret123"}, nil))

	wrong := ts.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "alice", "password": "Nope12345"}, nil)
	unknown := ts.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "bob", "password": "Secret123"}, nil)

	for _, rec := range []*httptest.ResponseRecorder{wrong, unknown} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		e := decodeError(t, rec)
		assert.Equal(t, string(session.KindInvalidCredentials), e.Error.Code)
		assert.Equal(t, "Invalid credentials", e.Error.Message)
	}

	rec := ts.do(t, http.MethodPost, "/auth/login", map[string]string{"username": "alice"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefresh_Unknown(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": "deadbeef"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(session.KindInvalidToken), decodeError(t, rec).Error.Code)

	rec = ts.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t, nil)
	first := decodeTokens(t, ts.do(t, http.MethodPost, "/auth/register",
		map[string]string{"username": "alice", "password": "Secret123"}, nil))
	second := decodeTokens(t, ts.do(t, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "Secret123"}, nil))

	rec := ts.do(t, http.MethodPost, "/auth/logout", map[string]any{"refreshToken": first.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Logged out successfully")

	rec = ts.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": first.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	decodeTokens(t, ts.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": second.RefreshToken}, nil))
}

func TestLogout_Everywhere(t *testing.T) {
	ts := newTestServer(t, nil)
	a := decodeTokens(t, ts.do(t, http.MethodPost, "/auth/register",
		map[string]string{"username": "alice", "password": "Secret123"}, nil))
	b := decodeTokens(t, ts.do(t, http.MethodPost, "/auth/login",
		map[string]string{"username": "alice", "password": "Secret123"}, nil))

	rec := ts.do(t, http.MethodPost, "/auth/logout", map[string]any{"refreshToken": a.RefreshToken, "everywhere": true}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, rt := range []string{a.RefreshToken, b.RefreshToken} {
		rec := ts.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": rt}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestMe_Unauthorized(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication required", decodeError(t, rec).Error.Message)

	rec = ts.do(t, http.MethodGet, "/auth/me", nil, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decodeError(t, rec).Error.Code)

	rec = ts.do(t, http.MethodGet, "/auth/me", nil, map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/auth/login", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	ts := newTestServer(t, func(c *Config) { c.MaxBodyBytes = 64 })
	big := `{"username":"alice","password":"` + strings.Repeat("A", 200) + `"}`

	rec := ts.do(t, http.MethodPost, "/auth/login", big, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit_PerIP(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.RatePerSec = 0.01
		c.RateBurst = 2
	})
	body := map[string]string{"username": "nobody", "password": "Secret123"}

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/auth/login", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/auth/login", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, rec).Error.Code)

	// /auth/me is not limited.
	rec = ts.do(t, http.MethodGet, "/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewHandler_RequiresDeps(t *testing.T) {
	_, err := NewHandler(nil, DefaultConfig(), nil, password.DefaultConfig())
	assert.Error(t, err)
}

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(1, 2)
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	ok, _ := l.allow("10.0.0.1", now)
	assert.True(t, ok)
	ok, _ = l.allow("10.0.0.1", now)
	assert.True(t, ok)
	ok, retry := l.allow("10.0.0.1", now)
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)

	ok, _ = l.allow("10.0.0.2", now)
	assert.True(t, ok, "buckets are per key")

	ok, _ = l.allow("10.0.0.1", now.Add(time.Second))
	assert.True(t, ok, "a token refills after 1s")
	assert.Equal(t, 2, l.size())
}

func TestIPLimiter_EvictsIdle(t *testing.T) {
	l := newIPLimiter(1, 1)
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	l.allow("stale", now)

	later := now.Add(limiterIdleTTL + time.Minute)
	for i := 0; i < limiterSweepEvery; i++ {
		l.allow("fresh", later)
	}
	assert.Equal(t, 1, l.size())
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("X-Forwarded-For", "junk, 203.0.113.7, 10.0.0.1")

	assert.Equal(t, "192.0.2.10", clientIP(r, false).String())
	assert.Equal(t, "203.0.113.7", clientIP(r, true).String())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PLUG_AUTH_RATE_PER_SEC", "2.5")
	t.Setenv("PLUG_AUTH_RATE_BURST", "-1")
	t.Setenv("PLUG_AUTH_ALLOW_ROLE_ON_REGISTER", "true")
	t.Setenv("PLUG_AUTH_MAX_BODY_BYTES", "nope")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, 2.5, cfg.RatePerSec)
	assert.Equal(t, 10, cfg.RateBurst)
	assert.True(t, cfg.AllowRoleOnRegister)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
}
