// Package sweeper expires stale quotes and delegated approvals on a fixed
// cadence.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wincledger/ledger"
	"wincledger/observability"
)

// Config tunes the sweep cadence.
type Config struct {
	// Interval between sweeps. Default 60s.
	Interval time.Duration
}

// Sweeper runs the expiry passes. Each pass is idempotent; a crashed sweep
// simply reruns on the next tick.
type Sweeper struct {
	store   *ledger.Store
	cfg     Config
	log     *slog.Logger
	metrics *observability.LedgerMetrics
}

// New builds a sweeper over the store.
func New(store *ledger.Store, cfg Config, log *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:   store,
		cfg:     cfg,
		log:     log,
		metrics: observability.Ledger(),
	}
}

// Run loops sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep over quotes and approvals.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	now := s.store.Now()

	quotes, err := s.store.ExpireTopUpQuotes(ctx, now)
	if err != nil {
		return err
	}
	if quotes > 0 {
		s.metrics.SweptRows.WithLabelValues("top_up_quote").Add(float64(quotes))
		s.log.Info("expired top-up quotes", slog.Int("count", quotes))
	}

	approvals, err := s.store.ExpireDelegatedPaymentApprovals(ctx, now)
	if err != nil {
		return err
	}
	if approvals > 0 {
		s.metrics.SweptRows.WithLabelValues("delegated_approval").Add(float64(approvals))
		s.log.Info("expired delegated approvals", slog.Int("count", approvals))
	}
	return nil
}
