package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/stockalloc/internal/domain"
	"github.com/utafrali/stockalloc/internal/repository"
)

const sweepBatchSize = 500

// SweepResult summarizes one expiry sweep.
type SweepResult struct {
	ReleasedLocks  int
	ExpiredBatches int
}

// ExpirySweeper releases abandoned locks and retires batches past their expiry
// date.
type ExpirySweeper struct {
	locks    *LockManager
	batches  repository.BatchRepository
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

// NewExpirySweeper creates a sweeper that runs every interval.
func NewExpirySweeper(locks *LockManager, batches repository.BatchRepository, logger *slog.Logger, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		locks:    locks,
		batches:  batches,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Sweep releases every lock whose TTL has elapsed and marks active batches
// that expired before today as expired.
func (s *ExpirySweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.now().UTC()

	for {
		n, err := s.locks.ReleaseExpired(ctx, now, sweepBatchSize)
		if err != nil {
			return res, fmt.Errorf("release expired locks: %w", err)
		}
		res.ReleasedLocks += n
		if n < sweepBatchSize {
			break
		}
	}

	n, err := s.batches.ExpireBefore(ctx, domain.StartOfDay(now))
	if err != nil {
		return res, fmt.Errorf("expire batches: %w", err)
	}
	res.ExpiredBatches = n
	return res, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("expiry sweep error", slog.String("error", err.Error()))
			} else if res.ReleasedLocks > 0 || res.ExpiredBatches > 0 {
				s.logger.Info("expiry sweep completed",
					slog.Int("released_locks", res.ReleasedLocks),
					slog.Int("expired_batches", res.ExpiredBatches),
				)
			}
		}
	}
}
