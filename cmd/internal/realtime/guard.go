package realtime

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"plug/cmd/internal/auth/session"
	v1 "plug/shared/contracts/channel/v1"
)

// TokenVerifier checks an access token without any store lookup.
// *session.Service satisfies it.
type TokenVerifier interface {
	VerifyAccess(token string) (session.AccessClaims, error)
}

// Principal is the identity bound to a connection at admission.
type Principal struct {
	Name string
	Role string
}

// RejectReason classifies a refused handshake.
type RejectReason string

const (
	ReasonAuthRequired RejectReason = "auth_required"
	ReasonInvalidToken RejectReason = "invalid_token"
	ReasonAuthFailed   RejectReason = "auth_failed"
)

// Message is the short reason string sent with the 401.
func (r RejectReason) Message() string {
	switch r {
	case ReasonAuthRequired:
		return v1.MsgAuthRequired
	case ReasonInvalidToken:
		return v1.MsgInvalidToken
	default:
		return v1.MsgAuthFailed
	}
}

// AdmissionObserver receives admission outcomes: "admitted" or a RejectReason.
type AdmissionObserver interface {
	ObserveAdmission(outcome string)
}

// Guard makes the one admission decision per handshake.
type Guard struct {
	verifier TokenVerifier
	log      *slog.Logger
	obs      AdmissionObserver
}

func NewGuard(verifier TokenVerifier, log *slog.Logger, obs AdmissionObserver) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{verifier: verifier, log: log, obs: obs}
}

// Admit extracts the bearer token from the handshake and verifies it.
// The Authorization header takes precedence over the token query parameter.
// A missing token is refused without calling the verifier.
func (g *Guard) Admit(r *http.Request) (Principal, RejectReason, bool) {
	remote := r.RemoteAddr

	tok, source := handshakeToken(r)
	if tok == "" {
		g.log.Warn("ws.admission.reject", "reason", ReasonAuthRequired, "detail", "no token provided", "remote", remote)
		g.observe(string(ReasonAuthRequired))
		return Principal{}, ReasonAuthRequired, false
	}

	claims, err := g.verifier.VerifyAccess(tok)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrInvalidToken):
		g.log.Warn("ws.admission.reject", "reason", ReasonInvalidToken, "source", source, "remote", remote)
		g.observe(string(ReasonInvalidToken))
		return Principal{}, ReasonInvalidToken, false
	default:
		g.log.Error("ws.admission.error", "reason", ReasonAuthFailed, "err", err, "remote", remote)
		g.observe(string(ReasonAuthFailed))
		return Principal{}, ReasonAuthFailed, false
	}

	g.log.Info("ws.admission.ok", "username", claims.Name, "source", source, "remote", remote)
	g.observe("admitted")
	return Principal{Name: claims.Name, Role: claims.Role}, "", true
}

func (g *Guard) observe(outcome string) {
	if g.obs != nil {
		g.obs.ObserveAdmission(outcome)
	}
}

func handshakeToken(r *http.Request) (tok, source string) {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if t := strings.TrimSpace(rest); t != "" {
				return t, "header"
			}
		}
	}
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t, "query"
	}
	return "", ""
}
