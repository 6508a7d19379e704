// Package gateway reads payment transactions from heterogeneous chains. One
// adapter exists per token type; all of them clamp transaction status to the
// confirmed / pending / not-found tri-state the credit pipeline consumes.
package gateway

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"wincledger/ledger/models"
)

var (
	// ErrTransactionNotFound is the terminal outcome when polling never
	// observed the transaction.
	ErrTransactionNotFound = errors.New("gateway: payment transaction not found")
	// ErrTransactionNotMined marks a transaction the chain rejected.
	ErrTransactionNotMined = errors.New("gateway: payment transaction not mined")
	// ErrNotAPaymentTransaction marks a transaction that exists but does
	// not transfer value to the payment sink.
	ErrNotAPaymentTransaction = errors.New("gateway: transaction is not a payment")
)

// ConfirmationState clamps chain-specific statuses.
type ConfirmationState string

// The status tri-state.
const (
	StateConfirmed ConfirmationState = "confirmed"
	StatePending   ConfirmationState = "pending"
	StateNotFound  ConfirmationState = "not_found"
)

// TransactionInfo is the chain-independent view of a payment transaction.
type TransactionInfo struct {
	Quantity         *big.Int
	SenderAddress    string
	RecipientAddress string
}

// Status reports how settled a transaction is.
type Status struct {
	State ConfirmationState
	// BlockHeight is set when State is StateConfirmed. AO reports zero.
	BlockHeight int64
}

// TransactionSource is the per-chain capability interface.
type TransactionSource interface {
	GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error)
	GetTransactionStatus(ctx context.Context, txID string) (Status, error)
	Endpoint() string
}

// Registry maps token types to their chain adapters. Adapters are plain
// values; the map is built once at startup and never mutated.
type Registry map[models.TokenType]TransactionSource

// Source returns the adapter for a token type.
func (r Registry) Source(token models.TokenType) (TransactionSource, bool) {
	src, ok := r[token]
	return src, ok
}

// httpClient is the shared default for REST-style adapters.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
