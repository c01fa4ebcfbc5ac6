package realtime

import "github.com/google/uuid"

// NewConnectionID returns a random UUID identifying one channel session.
func NewConnectionID() string {
	return uuid.NewString()
}
