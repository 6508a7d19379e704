// Package pipeline promotes pending crypto payments to credited ledger
// state once their chains report enough confirmations.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"wincledger/gateway"
	"wincledger/ledger"
	"wincledger/ledger/models"
	"wincledger/observability"
)

// Config tunes the pipeline worker.
type Config struct {
	// Interval between batches. Default 60s.
	Interval time.Duration
	// SettleAge holds how long a pending transaction must rest before the
	// first status query, per token.
	SettleAge map[models.TokenType]time.Duration
	// MaxLifetime bounds how long a never-observed transaction stays
	// pending before it fails, per token.
	MaxLifetime map[models.TokenType]time.Duration
	// Sinks are the system-controlled deposit addresses, per token.
	Sinks map[models.TokenType]string
	// GatewayRate bounds status queries per second across all chains.
	// Zero disables the limiter.
	GatewayRate float64
}

// Pipeline is the background credit worker. Each transaction settles in its
// own ledger transaction, so one bad row never halts the batch.
type Pipeline struct {
	store   *ledger.Store
	sources gateway.Registry
	cfg     Config
	limiter *rate.Limiter
	log     *slog.Logger
	metrics *observability.GatewayMetrics
}

// defaultSettleAge applies when a token has no explicit configuration.
const defaultSettleAge = 30 * time.Second

// defaultMaxLifetime applies when a token has no explicit configuration.
const defaultMaxLifetime = 24 * time.Hour

// New builds a pipeline over the store and gateway registry.
func New(store *ledger.Store, sources gateway.Registry, cfg Config, log *slog.Logger) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	var limiter *rate.Limiter
	if cfg.GatewayRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.GatewayRate), 1)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:   store,
		sources: sources,
		cfg:     cfg,
		limiter: limiter,
		log:     log,
		metrics: observability.Gateway(),
	}
}

// Run loops batches until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error("credit pipeline batch failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes one batch of pending transactions.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	now := p.store.Now()
	pending, err := p.store.PendingTransactionsOlderThan(ctx, now)
	if err != nil {
		return err
	}
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		age := now.Sub(tx.CreatedDate)
		if age < p.settleAge(tx.TokenType) {
			continue
		}
		if err := p.processOne(ctx, tx, age); err != nil {
			// Leave the row for the next batch.
			p.log.Warn("pending transaction left for retry",
				slog.String("tx_id", tx.TxID),
				slog.String("token", string(tx.TokenType)),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (p *Pipeline) settleAge(token models.TokenType) time.Duration {
	if age, ok := p.cfg.SettleAge[token]; ok && age > 0 {
		return age
	}
	return defaultSettleAge
}

func (p *Pipeline) maxLifetime(token models.TokenType) time.Duration {
	if lifetime, ok := p.cfg.MaxLifetime[token]; ok && lifetime > 0 {
		return lifetime
	}
	return defaultMaxLifetime
}

func (p *Pipeline) processOne(ctx context.Context, tx models.PendingPaymentTransaction, age time.Duration) error {
	source, ok := p.sources.Source(tx.TokenType)
	if !ok {
		return p.store.FailPendingTransaction(ctx, tx.TxID, tx.TokenType, "no gateway for token")
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	p.metrics.Requests.WithLabelValues(string(tx.TokenType), "status").Inc()
	status, err := source.GetTransactionStatus(ctx, tx.TxID)
	if err != nil {
		if errors.Is(err, gateway.ErrTransactionNotMined) {
			return p.store.FailPendingTransaction(ctx, tx.TxID, tx.TokenType, "not mined")
		}
		p.metrics.Errors.WithLabelValues(string(tx.TokenType), "status").Inc()
		return err
	}

	switch status.State {
	case gateway.StateConfirmed:
		return p.credit(ctx, tx, status.BlockHeight)
	case gateway.StatePending:
		return nil
	case gateway.StateNotFound:
		if age > p.maxLifetime(tx.TokenType) {
			return p.store.FailPendingTransaction(ctx, tx.TxID, tx.TokenType, "not found")
		}
		return nil
	}
	return nil
}

// credit verifies the transfer actually landed on the system sink before
// promoting it.
func (p *Pipeline) credit(ctx context.Context, tx models.PendingPaymentTransaction, blockHeight int64) error {
	if sink, ok := p.cfg.Sinks[tx.TokenType]; ok && sink != "" {
		source, _ := p.sources.Source(tx.TokenType)
		p.metrics.Requests.WithLabelValues(string(tx.TokenType), "transaction").Inc()
		info, err := source.GetTransaction(ctx, tx.TxID)
		if err != nil {
			if errors.Is(err, gateway.ErrNotAPaymentTransaction) ||
				errors.Is(err, gateway.ErrTransactionNotMined) {
				return p.store.FailPendingTransaction(ctx, tx.TxID, tx.TokenType, "not a payment")
			}
			p.metrics.Errors.WithLabelValues(string(tx.TokenType), "transaction").Inc()
			return err
		}
		if !addressesEqual(info.RecipientAddress, sink) {
			return p.store.FailPendingTransaction(ctx, tx.TxID, tx.TokenType, "wrong destination")
		}
	}
	err := p.store.CreditPendingTransaction(ctx, tx.TxID, tx.TokenType, blockHeight)
	if errors.Is(err, ledger.ErrTransactionAlreadyCredited) {
		// Raced a concurrent worker; the credit happened exactly once.
		return nil
	}
	return err
}

func addressesEqual(a, b string) bool {
	if a == b {
		return true
	}
	// EVM addresses compare case-insensitively.
	return len(a) == len(b) && len(a) == 42 && equalFold(a, b)
}

func equalFold(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
