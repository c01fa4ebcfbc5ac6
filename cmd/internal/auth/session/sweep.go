package session

import (
	"context"
	"log/slog"
	"time"
)

// SweepObserver receives sweep results (metrics).
type SweepObserver interface {
	ObserveSweep(deleted int64, err error)
}

// Sweeper periodically deletes expired refresh credentials. Failures are
// logged and never stop the loop.
type Sweeper struct {
	store    RefreshStore
	log      *slog.Logger
	interval time.Duration
	now      func() time.Time
	obs      SweepObserver
}

// NewSweeper returns a Sweeper. obs may be nil.
func NewSweeper(store RefreshStore, interval time.Duration, log *slog.Logger, obs SweepObserver) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:    store,
		log:      log,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		obs:      obs,
	}
}

// Run sweeps once immediately, then every interval until ctx is done.
// A non-positive interval disables the loop.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("refresh.sweep.disabled")
		return
	}

	_, _ = s.SweepOnce(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

// SweepOnce deletes credentials that expired before now.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.store.DeleteExpired(ctx, s.now())
	if s.obs != nil {
		s.obs.ObserveSweep(n, err)
	}
	if err != nil {
		s.log.Error("refresh.sweep.fail", "err", err, "deleted", n)
		return n, err
	}
	s.log.Info("refresh.sweep.ok", "deleted", n, "duration_ms", time.Since(start).Milliseconds())
	return n, nil
}
