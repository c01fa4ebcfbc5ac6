// Package password hashes, verifies and validates account secrets.
//
// New verifiers are Argon2id in the PHC string format. Verify also accepts
// bcrypt ($2a$, $2b$, $2y$) so databases seeded by earlier deployments keep
// working. Hash strings are untrusted input: Verify refuses encodings whose
// cost exceeds twice the configured parameters.
package password
