package authapi

import (
	"context"
	"log/slog"
	"net"
	"strings"
)

// Audit lines go to the structured log under the "audit" group. They never
// carry secrets or tokens.

func (h *Handler) auditLoginFailed(ip net.IP, ua, username, reason string) {
	h.audit(slog.LevelWarn, "auth.login.failed", ip, ua, "username", username, "reason", reason)
}

func (h *Handler) auditLoginSuccess(ip net.IP, ua, username string) {
	h.audit(slog.LevelInfo, "auth.login.success", ip, ua, "username", username)
}

func (h *Handler) auditRegistered(ip net.IP, ua, username, role string) {
	h.audit(slog.LevelInfo, "auth.register.success", ip, ua, "username", username, "role", role)
}

func (h *Handler) auditRefreshRejected(ip net.IP, ua, reason string) {
	h.audit(slog.LevelWarn, "auth.refresh.rejected", ip, ua, "reason", reason)
}

func (h *Handler) auditRateLimited(ip net.IP, ua, path string) {
	h.audit(slog.LevelWarn, "auth.rate_limited", ip, ua, "path", path)
}

func (h *Handler) auditLogout(ip net.IP, ua string, everywhere bool) {
	h.audit(slog.LevelInfo, "auth.logout", ip, ua, "everywhere", everywhere)
}

func (h *Handler) audit(level slog.Level, action string, ip net.IP, ua string, kv ...any) {
	if h == nil || h.log == nil {
		return
	}
	attrs := make([]any, 0, 4+len(kv))
	if ip != nil {
		attrs = append(attrs, "ip", ip.String())
	}
	if ua = strings.TrimSpace(ua); ua != "" {
		attrs = append(attrs, "user_agent", truncate(ua, 256))
	}
	attrs = append(attrs, kv...)
	h.log.Log(context.Background(), level, action, slog.Group("audit", attrs...))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
