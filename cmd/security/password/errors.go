package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordTooShort     = errors.New("password too short")
	ErrPasswordTooLong      = errors.New("password too long")
	ErrPasswordMissingClass = errors.New("password must contain at least one uppercase letter, one lowercase letter and one number")
	ErrWeakPassword         = errors.New("weak password")
	ErrInvalidHash          = errors.New("invalid password hash")
)
