// Package retention runs the periodic sweep that deletes PendingTx rows
// older than the retention horizon (spec §1, §4.4, §4.8 — an external
// collaborator, named only by the Store.DeleteOlderThan interface it
// drives).
package retention

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Deleter is the subset of store.Store the sweeper depends on.
type Deleter interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// Sweeper periodically deletes rows older than Horizon.
type Sweeper struct {
	store    Deleter
	horizon  time.Duration
	interval time.Duration
	logger   log.Logger
}

func New(store Deleter, horizon, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, horizon: horizon, interval: interval, logger: log.New("component", "retention")}
}

// Run ticks every interval, deleting rows older than now-horizon, until
// ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	cutoff := time.Now().Add(-s.horizon)
	n, err := s.store.DeleteOlderThan(cutoff)
	if err != nil {
		s.logger.Warn("retention sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("retention sweep deleted rows", "count", n, "cutoff", cutoff)
	}
}
