// Package sweeper periodically closes due auctions. The sweep bounds
// how long an expired auction can sit unsettled when nobody reads it;
// lazy close on the read path remains the primary closer.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultInterval   = 15 * time.Second
	defaultBatchLimit = 100
)

// Closer closes due auctions, returning how many it settled.
type Closer interface {
	SweepDue(ctx context.Context, limit int) (int, error)
}

// Sweeper drives a Closer on a fixed interval.
type Sweeper struct {
	closer     Closer
	logger     *zap.Logger
	interval   time.Duration
	batchLimit int
}

// Option adjusts a Sweeper.
type Option func(*Sweeper)

// WithInterval overrides the sweep interval.
func WithInterval(interval time.Duration) Option {
	return func(sweeper *Sweeper) {
		if interval > 0 {
			sweeper.interval = interval
		}
	}
}

// WithBatchLimit overrides how many due auctions one sweep closes.
func WithBatchLimit(limit int) Option {
	return func(sweeper *Sweeper) {
		if limit > 0 {
			sweeper.batchLimit = limit
		}
	}
}

// New wires a Sweeper.
func New(closer Closer, logger *zap.Logger, options ...Option) (*Sweeper, error) {
	if closer == nil {
		return nil, fmt.Errorf("closer is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	sweeper := &Sweeper{
		closer:     closer,
		logger:     logger,
		interval:   defaultInterval,
		batchLimit: defaultBatchLimit,
	}
	for _, option := range options {
		if option != nil {
			option(sweeper)
		}
	}
	return sweeper, nil
}

// Run sweeps until ctx is cancelled. Sweep errors are logged, never
// fatal: the next tick retries.
func (sweeper *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			closed, err := sweeper.closer.SweepDue(ctx, sweeper.batchLimit)
			if err != nil {
				sweeper.logger.Warn("sweep failed", zap.Int("closed", closed), zap.Error(err))
				continue
			}
			if closed > 0 {
				sweeper.logger.Info("swept due auctions", zap.Int("closed", closed))
			}
		}
	}
}
