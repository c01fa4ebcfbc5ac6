package realtime

import (
	"fmt"
	"sync"
)

// ConnState is the lifecycle state of one channel connection.
type ConnState uint8

const (
	StateConnecting ConnState = iota
	StateAdmitted
	StateRejected
	StateActive
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAdmitted:
		return "admitted"
	case StateRejected:
		return "rejected"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", uint8(s))
	}
}

// IllegalTransitionError is returned for a transition the lifecycle forbids.
type IllegalTransitionError struct {
	From, To ConnState
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("realtime: illegal transition %s -> %s", e.From, e.To)
}

// Lifecycle guards the connection state machine:
//
//	Connecting -> Admitted | Rejected
//	Admitted   -> Active
//	Active     -> Closed
//
// Rejected and Closed are terminal.
type Lifecycle struct {
	mu  sync.Mutex
	cur ConnState
}

func (l *Lifecycle) State() ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

// To moves to next, or returns IllegalTransitionError and leaves the state unchanged.
func (l *Lifecycle) To(next ConnState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !legalTransition(l.cur, next) {
		return IllegalTransitionError{From: l.cur, To: next}
	}
	l.cur = next
	return nil
}

func legalTransition(from, to ConnState) bool {
	switch from {
	case StateConnecting:
		return to == StateAdmitted || to == StateRejected
	case StateAdmitted:
		return to == StateActive
	case StateActive:
		return to == StateClosed
	default:
		return false
	}
}
