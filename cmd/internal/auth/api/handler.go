package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"plug/cmd/identity"
	"plug/cmd/internal/auth/session"
	"plug/cmd/security/password"
)

// Sessions is the slice of session.Service the HTTP surface needs.
type Sessions interface {
	Register(ctx context.Context, name, secret, role string) session.Result
	Login(ctx context.Context, name, secret string) session.Result
	Refresh(ctx context.Context, refreshToken string) session.Result
	Logout(ctx context.Context, refreshToken string, everywhere bool) session.Result
	VerifyAccess(raw string) (session.AccessClaims, error)
}

// PasswordPolicy validates a new secret before registration.
type PasswordPolicy interface {
	Validate(secret string) error
}

// Handler wires HTTP auth endpoints to the session service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions Sessions
	policy   PasswordPolicy
	limiter  *ipLimiter
	now      func() time.Time
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions Sessions, policy PasswordPolicy) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if policy == nil {
		return nil, errors.New("authapi: nil password policy")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		policy:   policy,
		now:      time.Now,
	}
	if cfg.RatePerSec > 0 && cfg.RateBurst > 0 {
		h.limiter = newIPLimiter(cfg.RatePerSec, cfg.RateBurst)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle("POST /auth/register", h.limited(h.handleRegister))
	mux.Handle("POST /auth/login", h.limited(h.handleLogin))
	mux.Handle("POST /auth/refresh", h.limited(h.handleRefresh))
	mux.Handle("POST /auth/logout", h.limited(h.handleLogout))
	mux.HandleFunc("GET /auth/me", h.handleMe)
}

func (h *Handler) limited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil {
			ip := clientIP(r, h.cfg.TrustProxy)
			if ok, retry := h.limiter.allow(ipKey(ip), h.now()); !ok {
				h.auditRateLimited(ip, r.UserAgent(), r.URL.Path)
				writeRateLimited(w, retry)
				return
			}
		}
		next(w, r)
	})
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if err := identity.ValidateName(username); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_username", validationMessage(err))
		return
	}
	if err := h.policy.Validate(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_password", passwordMessage(err))
		return
	}

	role := ""
	if req.Role != "" {
		if !h.cfg.AllowRoleOnRegister {
			writeError(w, http.StatusBadRequest, "invalid_request", "Role cannot be set on registration")
			return
		}
		role = strings.TrimSpace(req.Role)
		if role != identity.RoleUser && role != identity.RoleAdmin {
			writeError(w, http.StatusBadRequest, "invalid_request", "Role must be user or admin")
			return
		}
	}

	res := h.sessions.Register(r.Context(), username, req.Password, role)
	if !res.OK() {
		h.writeFailure(w, res.Failure)
		return
	}
	h.auditRegistered(clientIP(r, h.cfg.TrustProxy), r.UserAgent(), res.Tokens.Name, res.Tokens.Role)
	writeTokens(w, "User registered successfully", res.Tokens)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Username and password are required")
		return
	}

	ip := clientIP(r, h.cfg.TrustProxy)
	res := h.sessions.Login(r.Context(), username, req.Password)
	if !res.OK() {
		if res.Failure.Kind == session.KindInvalidCredentials {
			h.auditLoginFailed(ip, r.UserAgent(), username, string(res.Failure.Kind))
		}
		h.writeFailure(w, res.Failure)
		return
	}
	h.auditLoginSuccess(ip, r.UserAgent(), res.Tokens.Name)
	writeTokens(w, "Login successful", res.Tokens)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Refresh token is required")
		return
	}

	res := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if !res.OK() {
		if res.Failure.Kind != session.KindInternal {
			h.auditRefreshRejected(clientIP(r, h.cfg.TrustProxy), r.UserAgent(), string(res.Failure.Kind))
		}
		h.writeFailure(w, res.Failure)
		return
	}
	writeTokens(w, "Token refreshed successfully", res.Tokens)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Refresh token is required")
		return
	}

	res := h.sessions.Logout(r.Context(), req.RefreshToken, req.Everywhere)
	if !res.OK() {
		h.writeFailure(w, res.Failure)
		return
	}
	h.auditLogout(clientIP(r, h.cfg.TrustProxy), r.UserAgent(), req.Everywhere)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Username: claims.Name, Role: claims.Role})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	raw := bearerToken(r)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.VerifyAccess(raw)
	if err != nil {
		if !errors.Is(err, session.ErrInvalidToken) {
			h.log.Error("auth.me.verify.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "Authentication failed")
			return session.AccessClaims{}, false
		}
		writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func (h *Handler) writeFailure(w http.ResponseWriter, f *session.Failure) {
	writeError(w, statusForKind(f.Kind), string(f.Kind), f.Detail)
}

func statusForKind(k session.Kind) int {
	switch k {
	case session.KindInvalidInput:
		return http.StatusBadRequest
	case session.KindAlreadyExists:
		return http.StatusConflict
	case session.KindInvalidCredentials,
		session.KindInvalidToken,
		session.KindTokenExpiredOrRevoked,
		session.KindUserNotFound:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeTokens(w http.ResponseWriter, msg string, t session.Tokens) {
	writeJSON(w, http.StatusOK, tokenResponse{
		Success:      true,
		Message:      msg,
		Token:        t.AccessToken,
		RefreshToken: t.RefreshToken,
	})
}

func validationMessage(err error) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return "Invalid input"
}

func passwordMessage(err error) string {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "Password must be at least 8 characters"
	case errors.Is(err, password.ErrPasswordTooLong):
		return "Password must be at most 128 characters"
	case errors.Is(err, password.ErrPasswordMissingClass):
		return "Password must contain at least one uppercase letter, one lowercase letter and one number"
	case errors.Is(err, password.ErrWeakPassword):
		return "Password is too weak"
	default:
		return "Invalid password"
	}
}
