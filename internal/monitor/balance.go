// Package monitor runs scheduled checks against the ledger.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const checkTimeout = 30 * time.Second

// BalanceSource reads the operator's remaining reward token supply.
type BalanceSource interface {
	OperatorBalance(ctx context.Context) (int64, error)
}

// BalanceWatcherConfig configures the operator balance watcher.
type BalanceWatcherConfig struct {
	// Schedule is a cron spec; descriptors such as "@every 5m" are accepted.
	Schedule string
	// LowWater logs a warning once the operator balance drops below it. Zero disables the warning.
	LowWater int64
	Logger   *slog.Logger
}

// BalanceWatcher periodically reads the operator balance, which refreshes the exported gauge, and
// warns when the supply available for rewards runs low.
type BalanceWatcher struct {
	source   BalanceSource
	lowWater int64
	logger   *slog.Logger
	cron     *cron.Cron
	last     atomic.Int64
	low      atomic.Bool
}

// NewBalanceWatcher validates the schedule and registers the check. Call Start to run it.
func NewBalanceWatcher(source BalanceSource, cfg BalanceWatcherConfig) (*BalanceWatcher, error) {
	if source == nil {
		return nil, fmt.Errorf("balance source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &BalanceWatcher{
		source:   source,
		lowWater: cfg.LowWater,
		logger:   logger.With(slog.String("component", "operator_balance_watcher")),
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	w.last.Store(-1)
	if _, err := w.cron.AddFunc(cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		w.Check(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid operator balance schedule %q: %w", cfg.Schedule, err)
	}
	return w, nil
}

// Start begins running the check on schedule.
func (w *BalanceWatcher) Start() {
	w.cron.Start()
}

// Stop halts scheduling and waits for a running check to finish or ctx to expire.
func (w *BalanceWatcher) Stop(ctx context.Context) error {
	done := w.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Check reads the operator balance once. Failures are logged and the last known value is kept.
func (w *BalanceWatcher) Check(ctx context.Context) {
	balance, err := w.source.OperatorBalance(ctx)
	if err != nil {
		w.logger.Warn("operator balance check failed", slog.Any("error", err))
		return
	}
	w.last.Store(balance)

	below := w.lowWater > 0 && balance < w.lowWater
	wasLow := w.low.Swap(below)
	switch {
	case below:
		w.logger.Warn("operator reward supply below low-water mark",
			slog.Int64("balance", balance),
			slog.Int64("low_water", w.lowWater),
		)
	case wasLow:
		w.logger.Info("operator reward supply recovered", slog.Int64("balance", balance))
	default:
		w.logger.Debug("operator balance checked", slog.Int64("balance", balance))
	}
}

// Last returns the most recent successfully read balance, or -1 before the first read.
func (w *BalanceWatcher) Last() int64 {
	return w.last.Load()
}

// Low reports whether the last read was below the low-water mark.
func (w *BalanceWatcher) Low() bool {
	return w.low.Load()
}
