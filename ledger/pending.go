package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wincledger/currency"
	"wincledger/ledger/models"
)

// TransactionStatus describes where a crypto payment sits in the pipeline.
type TransactionStatus string

// Transaction pipeline states reported to callers.
const (
	StatusPending  TransactionStatus = "pending"
	StatusCredited TransactionStatus = "credited"
	StatusFailed   TransactionStatus = "failed"
	StatusNotFound TransactionStatus = "not_found"
)

// CreatePendingTransactionParams describes an observed crypto payment.
type CreatePendingTransactionParams struct {
	TxID                   string
	TokenType              models.TokenType
	Quantity               currency.Winc
	WincAmount             currency.Winc
	DestinationAddress     string
	DestinationAddressType models.AddressType
}

// CreatePendingTransaction inserts the pending row. The call is idempotent
// on (txID, tokenType): a second attempt returns the existing row unchanged.
func (s *Store) CreatePendingTransaction(ctx context.Context, params CreatePendingTransactionParams, adjustments []AppliedAdjustment) (*models.PendingPaymentTransaction, error) {
	if strings.TrimSpace(params.TxID) == "" || params.TokenType == "" {
		return nil, fmt.Errorf("%w: tx id and token type required", ErrBadRequest)
	}
	var row *models.PendingPaymentTransaction
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var existing models.PendingPaymentTransaction
		err := tx.First(&existing, "tx_id = ? AND token_type = ?", params.TxID, params.TokenType).Error
		if err == nil {
			row = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("ledger: look up pending tx: %w", err)
		}
		// The fingerprint is unique across the pending, credited and
		// failed sets combined.
		var creditedCount, failedCount int64
		if err := tx.Model(&models.CreditedPaymentTransaction{}).
			Where("tx_id = ? AND token_type = ?", params.TxID, params.TokenType).
			Count(&creditedCount).Error; err != nil {
			return fmt.Errorf("ledger: check credited tx: %w", err)
		}
		if creditedCount > 0 {
			return ErrTransactionAlreadyCredited
		}
		if err := tx.Model(&models.FailedPaymentTransaction{}).
			Where("tx_id = ? AND token_type = ?", params.TxID, params.TokenType).
			Count(&failedCount).Error; err != nil {
			return fmt.Errorf("ledger: check failed tx: %w", err)
		}
		if failedCount > 0 {
			return fmt.Errorf("%w: transaction previously failed", ErrBadRequest)
		}
		pending := models.PendingPaymentTransaction{
			TxID:                   params.TxID,
			TokenType:              params.TokenType,
			Quantity:               params.Quantity,
			WincAmount:             params.WincAmount,
			DestinationAddress:     params.DestinationAddress,
			DestinationAddressType: params.DestinationAddressType,
			CreatedDate:            s.Now(),
		}
		if err := tx.Create(&pending).Error; err != nil {
			if isUniqueViolation(err) {
				// Raced another writer; surface its row.
				if err := tx.First(&existing, "tx_id = ? AND token_type = ?", params.TxID, params.TokenType).Error; err == nil {
					row = &existing
					return nil
				}
			}
			return fmt.Errorf("ledger: insert pending tx: %w", err)
		}
		for _, adj := range adjustments {
			applied := models.AppliedPaymentAdjustment{
				CatalogID:      adj.CatalogID,
				QuoteID:        pending.TxID,
				UserAddress:    pending.DestinationAddress,
				AdjustedAmount: adj.AdjustedAmount,
				AppliedDate:    s.Now(),
			}
			if err := tx.Create(&applied).Error; err != nil {
				return fmt.Errorf("ledger: insert payment adjustment: %w", err)
			}
		}
		row = &pending
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// CreditPendingTransaction atomically promotes the pending row to credited
// and credits the destination balance.
func (s *Store) CreditPendingTransaction(ctx context.Context, txID string, tokenType models.TokenType, blockHeight int64) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		var credited models.CreditedPaymentTransaction
		err := tx.First(&credited, "tx_id = ? AND token_type = ?", txID, tokenType).Error
		if err == nil {
			return ErrTransactionAlreadyCredited
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("ledger: check credited tx: %w", err)
		}

		var pending models.PendingPaymentTransaction
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&pending, "tx_id = ? AND token_type = ?", txID, tokenType).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotPending
			}
			return fmt.Errorf("ledger: lock pending tx: %w", err)
		}

		promoted := models.CreditedPaymentTransaction{
			TxID:                   pending.TxID,
			TokenType:              pending.TokenType,
			Quantity:               pending.Quantity,
			WincAmount:             pending.WincAmount,
			DestinationAddress:     pending.DestinationAddress,
			DestinationAddressType: pending.DestinationAddressType,
			CreatedDate:            pending.CreatedDate,
			BlockHeight:            blockHeight,
			CreditedDate:           s.Now(),
		}
		if err := tx.Create(&promoted).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrTransactionAlreadyCredited
			}
			return fmt.Errorf("ledger: insert credited tx: %w", err)
		}
		if err := tx.Delete(&models.PendingPaymentTransaction{},
			"tx_id = ? AND token_type = ?", txID, tokenType).Error; err != nil {
			return fmt.Errorf("ledger: delete pending tx: %w", err)
		}
		if err := s.creditUser(tx, pending.DestinationAddress, pending.DestinationAddressType,
			pending.WincAmount, models.ReasonCryptoPayment, models.ReasonAccountCreation, pending.TxID); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.CreditedTransactions.WithLabelValues(string(tokenType)).Inc()
		}
		return nil
	})
}

// FailPendingTransaction moves the pending row into the failed set. No
// balance changes.
func (s *Store) FailPendingTransaction(ctx context.Context, txID string, tokenType models.TokenType, reason string) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		var pending models.PendingPaymentTransaction
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&pending, "tx_id = ? AND token_type = ?", txID, tokenType).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTransactionNotPending
			}
			return fmt.Errorf("ledger: lock pending tx: %w", err)
		}
		failed := models.FailedPaymentTransaction{
			TxID:                   pending.TxID,
			TokenType:              pending.TokenType,
			Quantity:               pending.Quantity,
			WincAmount:             pending.WincAmount,
			DestinationAddress:     pending.DestinationAddress,
			DestinationAddressType: pending.DestinationAddressType,
			CreatedDate:            pending.CreatedDate,
			FailedReason:           reason,
			FailedDate:             s.Now(),
		}
		if err := tx.Create(&failed).Error; err != nil {
			return fmt.Errorf("ledger: insert failed tx: %w", err)
		}
		if err := tx.Delete(&models.PendingPaymentTransaction{},
			"tx_id = ? AND token_type = ?", txID, tokenType).Error; err != nil {
			return fmt.Errorf("ledger: delete pending tx: %w", err)
		}
		return nil
	})
}

// PendingTransactionsOlderThan returns pending rows created at or before the
// cutoff, oldest first. The credit pipeline drives its batches from this.
func (s *Store) PendingTransactionsOlderThan(ctx context.Context, cutoff time.Time) ([]models.PendingPaymentTransaction, error) {
	var rows []models.PendingPaymentTransaction
	err := s.db.WithContext(ctx).
		Where("created_date <= ?", cutoff.UTC()).
		Order("created_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: query pending txs: %w", err)
	}
	return rows, nil
}

// GetTransactionStatus reports where the fingerprint sits across the
// pending, credited and failed sets.
func (s *Store) GetTransactionStatus(ctx context.Context, txID string, tokenType models.TokenType) (TransactionStatus, error) {
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.CreditedPaymentTransaction{}).
		Where("tx_id = ? AND token_type = ?", txID, tokenType).Count(&count).Error; err != nil {
		return StatusNotFound, fmt.Errorf("ledger: check credited tx: %w", err)
	}
	if count > 0 {
		return StatusCredited, nil
	}
	if err := db.Model(&models.PendingPaymentTransaction{}).
		Where("tx_id = ? AND token_type = ?", txID, tokenType).Count(&count).Error; err != nil {
		return StatusNotFound, fmt.Errorf("ledger: check pending tx: %w", err)
	}
	if count > 0 {
		return StatusPending, nil
	}
	if err := db.Model(&models.FailedPaymentTransaction{}).
		Where("tx_id = ? AND token_type = ?", txID, tokenType).Count(&count).Error; err != nil {
		return StatusNotFound, fmt.Errorf("ledger: check failed tx: %w", err)
	}
	if count > 0 {
		return StatusFailed, nil
	}
	return StatusNotFound, nil
}
