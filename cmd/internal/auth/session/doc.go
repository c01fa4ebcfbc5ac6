// Package session issues Plug's credentials.
//
// Service turns a verified identity into a short-lived signed access token
// and a long-lived opaque refresh token, and rotates refresh tokens on use.
// Access tokens are JWT (HS256) by default, or PASETO v4.public when a
// PASETO key is configured; both carry the same fixed claims.
//
// Refresh tokens are opaque random strings. Only their digest is stored
// (see cmd/security/token), in one of the RefreshStore backends: memory,
// PostgreSQL, SQLite or Redis.
//
// Every Service operation returns a Result instead of an error so the
// transport layer can map each failure Kind to its own response.
package session
