package typing

import (
	"context"
	"time"

	"github.com/plateful-app/plateful/internal/chatstore"
	"go.uber.org/zap"
)

// Sweeper expires stale typing indicators. Backends only ever add typing
// entries on behalf of other participants; dropping them after the TTL is a
// purely local concern so a peer that disconnects mid-keystroke does not
// "type" forever.
type Sweeper struct {
	store  *chatstore.Store
	ttl    time.Duration
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSweeper creates a sweeper with the configured TTL.
func NewSweeper(store *chatstore.Store, ttl time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Start begins the periodic sweep.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	interval := s.ttl / 3
	if interval < 250*time.Millisecond {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Sweep drops typing entries older than the TTL relative to now.
func (s *Sweeper) Sweep(now time.Time) {
	cutoff := now.Add(-s.ttl).UnixMilli()
	if s.store.PruneTyping(cutoff) && s.logger != nil {
		s.logger.Debug("typing indicators expired")
	}
}
