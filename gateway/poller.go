package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wincledger/observability"
)

// Poller retries a transaction lookup with exponential backoff until the
// transaction appears or the attempt budget runs out. Terminal gateway
// classifications (not mined, not a payment) surface immediately.
type Poller struct {
	// BaseDelay is doubled after each failed attempt. Default 500ms.
	BaseDelay time.Duration
	// MaxAttempts bounds the retries. Default 5.
	MaxAttempts int
	Log         *slog.Logger
	Metrics     *observability.GatewayMetrics
}

// NewPoller applies the default budget: 5 attempts starting at 500ms, about
// 15.5s of waiting in total.
func NewPoller(log *slog.Logger) *Poller {
	return &Poller{
		BaseDelay:   500 * time.Millisecond,
		MaxAttempts: 5,
		Log:         log,
	}
}

// Poll drives getTx until it yields a transaction. Waits honour ctx; a
// cancelled context returns ctx.Err() between attempts.
func (p *Poller) Poll(ctx context.Context, txID string, getTx func(ctx context.Context) (*TransactionInfo, error)) (*TransactionInfo, error) {
	baseDelay := p.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}

	delay := baseDelay
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := getTx(ctx)
		if err == nil && info != nil {
			if p.Metrics != nil {
				p.Metrics.PollAttempts.Observe(float64(attempt + 1))
			}
			return info, nil
		}
		switch {
		case errors.Is(err, ErrTransactionNotMined), errors.Is(err, ErrNotAPaymentTransaction):
			// Terminal classifications never resolve by waiting.
			return nil, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		case err != nil:
			log.Warn("transaction poll attempt failed",
				slog.String("tx_id", txID),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	if p.Metrics != nil {
		p.Metrics.PollAttempts.Observe(float64(attempts))
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrTransactionNotFound, txID, attempts)
}
