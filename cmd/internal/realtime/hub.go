package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub tracks active sessions.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:      log,
		sessions: make(map[string]*Session),
	}
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// Count returns the number of active sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll closes every active session with StatusGoingAway, in parallel.
// Sessions whose peer has not finished the close handshake when ctx is done
// are dropped without one. It returns the number of sessions closed.
func (h *Hub) CloseAll(ctx context.Context, reason string) int {
	h.mu.RLock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()
	if len(all) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close(websocket.StatusGoingAway, reason)
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		for _, s := range all {
			s.abort()
		}
		<-finished
		h.log.Warn("ws.hub.close_all.forced", "sessions", len(all), "err", ctx.Err())
	}

	h.log.Info("ws.hub.close_all", "sessions", len(all), "reason", reason)
	return len(all)
}
