package ledger

import (
	"errors"
	"fmt"

	"wincledger/currency"
)

var (
	// ErrBadRequest indicates invalid caller input, such as an empty payer
	// list under a list-only directive.
	ErrBadRequest = errors.New("ledger: bad request")
	// ErrUserNotFound indicates the address has never been credited.
	ErrUserNotFound = errors.New("ledger: user not found")
	// ErrQuoteNotFound indicates the top-up quote does not exist.
	ErrQuoteNotFound = errors.New("ledger: top-up quote not found")
	// ErrQuoteExists indicates a quote with the same identifier exists.
	ErrQuoteExists = errors.New("ledger: top-up quote already exists")
	// ErrQuoteExpired indicates the quote expired before fulfilment.
	ErrQuoteExpired = errors.New("ledger: top-up quote expired")
	// ErrPaymentReceiptExists indicates the quote was already fulfilled.
	ErrPaymentReceiptExists = errors.New("ledger: payment receipt already exists")
	// ErrChargebackExists indicates the receipt was already charged back.
	ErrChargebackExists = errors.New("ledger: chargeback receipt already exists")
	// ErrReceiptNotFound indicates no payment receipt matches the quote.
	ErrReceiptNotFound = errors.New("ledger: payment receipt not found")
	// ErrApprovalNotFound indicates no active approval matches.
	ErrApprovalNotFound = errors.New("ledger: delegated payment approval not found")
	// ErrApprovalExists indicates the approval identifier is taken.
	ErrApprovalExists = errors.New("ledger: delegated payment approval already exists")
	// ErrInsufficientBalance indicates the available funds cannot cover the
	// requested debit. Use AsInsufficientBalance for the breakdown.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrTransactionAlreadyCredited indicates the crypto payment settled in
	// a prior call.
	ErrTransactionAlreadyCredited = errors.New("ledger: transaction already credited")
	// ErrTransactionNotPending indicates no pending row matches the
	// transaction fingerprint.
	ErrTransactionNotPending = errors.New("ledger: transaction not pending")
	// ErrReservationNotFound indicates no reservation matches the data item.
	ErrReservationNotFound = errors.New("ledger: balance reservation not found")
	// ErrGiftNotFound indicates no unredeemed gift matches the receipt.
	ErrGiftNotFound = errors.New("ledger: gift not found")
	// ErrGiftExpired indicates the gift lapsed before redemption.
	ErrGiftExpired = errors.New("ledger: gift expired")
	// ErrPurchaseNotFound indicates no ArNS purchase matches the identifier.
	ErrPurchaseNotFound = errors.New("ledger: arns purchase not found")
	// ErrPurchaseState indicates the purchase is not in the required state
	// for the requested transition.
	ErrPurchaseState = errors.New("ledger: arns purchase in wrong state")
	// ErrPromoCodeNotFound indicates no live catalog carries the code.
	ErrPromoCodeNotFound = errors.New("ledger: promo code not found")
	// ErrPromoCodeUsed indicates a single-use code was already applied for
	// the address.
	ErrPromoCodeUsed = errors.New("ledger: promo code already used")
)

// InsufficientBalanceError carries the own-versus-approved breakdown the
// payment API returns with a 402.
type InsufficientBalanceError struct {
	Address           string
	RequestedAmount   currency.Winc
	OwnBalance        currency.Winc
	ReceivedApprovals currency.Winc
}

// Error implements the error interface.
func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf(
		"ledger: insufficient balance for %s: requested %s, own %s, received approvals %s",
		e.Address, e.RequestedAmount, e.OwnBalance, e.ReceivedApprovals,
	)
}

// Unwrap allows errors.Is(err, ErrInsufficientBalance).
func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// AsInsufficientBalance extracts the breakdown when present.
func AsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var target *InsufficientBalanceError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
