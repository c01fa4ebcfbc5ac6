package session

import (
	"errors"
	"time"
)

var (
	// ErrInvalidToken is returned when an access or refresh token is unknown or fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidCredentials is returned when a name/secret pair does not verify.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAlreadyExists is returned when registering a taken name.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTokenExpiredOrRevoked is returned when a known refresh token is no longer valid.
	ErrTokenExpiredOrRevoked = errors.New("token expired or revoked")

	// ErrUserNotFound is returned when a refresh token's owner no longer exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidInput is returned for malformed names or secrets.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal marks store, signer and entropy faults.
	ErrInternal = errors.New("internal error")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// Kind classifies a failed Service operation.
type Kind string

const (
	KindInvalidInput          Kind = "invalid_input"
	KindInvalidCredentials    Kind = "invalid_credentials"
	KindAlreadyExists         Kind = "already_exists"
	KindInvalidToken          Kind = "invalid_token"
	KindTokenExpiredOrRevoked Kind = "token_expired_or_revoked"
	KindUserNotFound          Kind = "user_not_found"
	KindInternal              Kind = "internal"
)

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindInvalidCredentials:
		return ErrInvalidCredentials
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindInvalidToken:
		return ErrInvalidToken
	case KindTokenExpiredOrRevoked:
		return ErrTokenExpiredOrRevoked
	case KindUserNotFound:
		return ErrUserNotFound
	default:
		return ErrInternal
	}
}

// Failure is the failed branch of a Result. Detail is safe to show to
// clients; Err carries the underlying cause for logs and never leaves the
// process.
type Failure struct {
	Kind   Kind
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return string(f.Kind) + ": " + f.Detail + ": " + f.Err.Error()
	}
	return string(f.Kind) + ": " + f.Detail
}

// Unwrap exposes the Kind's sentinel and the cause to errors.Is/As.
func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind.sentinel()}
	}
	return []error{f.Kind.sentinel(), f.Err}
}

// Tokens is the successful branch of a Result.
type Tokens struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time // zero when the access token has no expiry
	RefreshExpiresAt time.Time

	Name string
	Role string
}

// Result is the outcome of a Service operation: exactly one of Tokens or
// Failure is meaningful.
type Result struct {
	Tokens  Tokens
	Failure *Failure
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Failure == nil }

// Err returns the failure as an error, or nil on success.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

func success(t Tokens) Result { return Result{Tokens: t} }

func failure(kind Kind, detail string, cause error) Result {
	return Result{Failure: &Failure{Kind: kind, Detail: detail, Err: cause}}
}

// Client-facing details.
const (
	detailInvalidCredentials = "Invalid credentials"
	detailAlreadyExists      = "Username already exists"
	detailInvalidRefresh     = "Invalid refresh token"
	detailExpiredOrRevoked   = "Refresh token expired or revoked"
	detailUserNotFound       = "User not found"
	detailInternal           = "Internal server error"
)
