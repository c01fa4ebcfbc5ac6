package identity

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match with errors.Is; the session layer maps them to
// failure kinds.
var (
	ErrInvalidInput       = errors.New("invalid_input")
	ErrNotFound           = errors.New("not_found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid_credentials")
)

func describe(op string, kind error, detail string) string {
	if detail == "" {
		return fmt.Sprintf("%s: %v", op, kind)
	}
	return fmt.Sprintf("%s: %v: %s", op, kind, detail)
}

// OpError carries the failing operation and one of the kinds above. Msg is
// shown to users for ErrInvalidInput and must never hold a secret.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string { return describe(e.Op, e.Kind, e.Msg) }
func (e OpError) Unwrap() error { return e.Kind }

// ConflictError is a uniqueness violation on a logical field ("username", "id").
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string { return describe(e.Op, ErrConflict, e.Field) }
func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError is a missing identity.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string { return describe(e.Op, ErrNotFound, e.Resource) }
func (e NotFoundError) Unwrap() error { return ErrNotFound }

func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool       { return errors.Is(err, ErrInvalidInput) }
func IsInvalidCredentials(err error) bool { return errors.Is(err, ErrInvalidCredentials) }
