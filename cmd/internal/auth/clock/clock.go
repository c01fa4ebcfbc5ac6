// Package clock turns duration expressions ("15m", "1h", "7d") into the
// expiry instants stamped on access and refresh credentials.
package clock

import (
	"math"
	"strconv"
	"time"
)

// Unit is the suffix of an expiry expression.
type Unit byte

const (
	Minute Unit = 'm'
	Hour   Unit = 'h'
	Day    Unit = 'd'
)

func (u Unit) duration() time.Duration {
	switch u {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return 0
	}
}

// DefaultRefreshTTL applies when the refresh expression does not parse.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// Expiry is a parsed expression: a positive count of a unit.
type Expiry struct {
	Count int64
	Unit  Unit
}

// ParseExpiry parses "<positive integer><m|h|d>". It reports false for
// anything else, including zero counts and counts that overflow a Duration.
func ParseExpiry(expr string) (Expiry, bool) {
	if len(expr) < 2 {
		return Expiry{}, false
	}
	unit := Unit(expr[len(expr)-1])
	per := unit.duration()
	if per == 0 {
		return Expiry{}, false
	}

	digits := expr[:len(expr)-1]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return Expiry{}, false
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 || n > int64(math.MaxInt64/per) {
		return Expiry{}, false
	}
	return Expiry{Count: n, Unit: unit}, true
}

// Duration returns the span the expression denotes.
func (e Expiry) Duration() time.Duration {
	return time.Duration(e.Count) * e.Unit.duration()
}

func (e Expiry) String() string {
	return strconv.FormatInt(e.Count, 10) + string(rune(e.Unit))
}

// Policy holds the two configured lifetimes.
type Policy struct {
	access   Expiry
	accessOK bool
	refresh  time.Duration
}

// NewPolicy parses both expressions once. An unparsable access expression
// means access credentials carry no expiry; an unparsable refresh
// expression falls back to DefaultRefreshTTL.
func NewPolicy(accessExpr, refreshExpr string) Policy {
	p := Policy{refresh: DefaultRefreshTTL}
	p.access, p.accessOK = ParseExpiry(accessExpr)
	if r, ok := ParseExpiry(refreshExpr); ok {
		p.refresh = r.Duration()
	}
	return p
}

// AccessTTL reports the access lifetime, or false when none applies.
func (p Policy) AccessTTL() (time.Duration, bool) {
	if !p.accessOK {
		return 0, false
	}
	return p.access.Duration(), true
}

// RefreshTTL reports the refresh lifetime.
func (p Policy) RefreshTTL() time.Duration { return p.refresh }

// Window is the set of instants for one issuance, all derived from IssuedAt.
type Window struct {
	IssuedAt         time.Time
	AccessExpiresAt  time.Time // zero when the access credential has no expiry
	RefreshExpiresAt time.Time
}

// Window computes the expiry instants for an issuance happening at now.
func (p Policy) Window(now time.Time) Window {
	now = now.Round(0).UTC()
	w := Window{
		IssuedAt:         now,
		RefreshExpiresAt: now.Add(p.refresh),
	}
	if ttl, ok := p.AccessTTL(); ok {
		w.AccessExpiresAt = now.Add(ttl)
	}
	return w
}

// AccessExpiryUnix returns the epoch-seconds exp claim, or false when the
// access credential must be signed without one.
func (w Window) AccessExpiryUnix() (int64, bool) {
	if w.AccessExpiresAt.IsZero() {
		return 0, false
	}
	return w.AccessExpiresAt.Unix(), true
}
