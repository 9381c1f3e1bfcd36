package txn

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Cleaner periodically deletes terminal transaction records older than the
// retention period, keeping the history table bounded.
type Cleaner struct {
	store     *Store
	interval  time.Duration
	retention time.Duration
	logger    zerolog.Logger
}

// NewCleaner creates a history retention cleaner.
func NewCleaner(txStore *Store, interval, retention time.Duration, logger zerolog.Logger) *Cleaner {
	return &Cleaner{
		store:     txStore,
		interval:  interval,
		retention: retention,
		logger:    logger.With().Str("component", "tx_cleaner").Logger(),
	}
}

// Start begins the background cleanup loop.
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Cleaner) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CleanupOnce()
		}
	}
}

// CleanupOnce deletes terminal records past retention and returns the count.
func (c *Cleaner) CleanupOnce() int64 {
	cutoff := time.Now().Add(-c.retention)
	deleted, err := c.store.DeleteTerminalBefore(cutoff)
	if err != nil {
		c.logger.Error().Err(err).Msg("history cleanup failed")
		return 0
	}
	if deleted > 0 {
		c.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("cleaned up old transactions")
	}
	return deleted
}
