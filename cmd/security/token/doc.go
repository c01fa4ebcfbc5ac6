// Package token digests refresh tokens for Plug.
//
// Refresh tokens are opaque random strings handed to clients; only their
// digest is stored, so a leaked table does not leak usable tokens.
//
// Modes:
// - SHA-256(token) when no HMAC key is configured.
// - HMAC-SHA256(token, key) when PLUG_TOKEN_HMAC_KEY is set.
// Both produce a stable 64-char hex string used as the store lookup key.
package token
