package password

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate applies c.Policy to a user-chosen secret. Length counts runes.
func (c Config) Validate(secret string) error {
	n := utf8.RuneCountInString(secret)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RequireClasses && !hasRequiredClasses(secret):
		return ErrPasswordMissingClass
	case c.Policy.RejectVeryWeak && looksVeryWeak(secret):
		return ErrWeakPassword
	}
	return nil
}

func hasRequiredClasses(s string) bool {
	var upper, lower, digit bool
	for _, r := range s {
		upper = upper || unicode.IsUpper(r)
		lower = lower || unicode.IsLower(r)
		digit = digit || unicode.IsDigit(r)
	}
	return upper && lower && digit
}

var trivialSecrets = []string{
	"password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111",
}

// looksVeryWeak catches one repeated character, short PIN-like digit runs and
// a handful of well-known secrets. It is not a strength estimator.
func looksVeryWeak(secret string) bool {
	s := strings.TrimSpace(secret)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}
	if strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 && utf8.RuneCountInString(s) < 12 {
		return true
	}
	return slices.Contains(trivialSecrets, strings.ToLower(s))
}
