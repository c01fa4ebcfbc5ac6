// Package identity implements Plug's principals: the Identity record, the
// stores that own it, and the Verifier that checks submitted secrets.
//
// Stores exist for memory (tests, ephemeral runs), PostgreSQL (pgx) and
// SQLite (zombiezen). Every store honours the same error contract:
// NotFoundError for missing rows, ConflictError for a taken name.
package identity
