package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wincledger/currency"
	"wincledger/ledger/models"
)

// CreateArNSPurchaseParams quotes a name purchase paid in winc.
type CreateArNSPurchaseParams struct {
	Name             string
	Intent           string
	OwnerAddress     string
	OwnerAddressType models.AddressType
	WincAmount       currency.Winc
	MARIOAmount      int64
	// PaidBy optionally routes the winc debit through approvals the owner
	// has received, tried in order before the owner's own balance.
	PaidBy []string
}

// CreateArNSPurchaseQuote records the quoted purchase without moving funds.
func (s *Store) CreateArNSPurchaseQuote(ctx context.Context, params CreateArNSPurchaseParams) (*models.ArNSPurchase, error) {
	if strings.TrimSpace(params.Name) == "" || strings.TrimSpace(params.OwnerAddress) == "" {
		return nil, fmt.Errorf("%w: name and owner required", ErrBadRequest)
	}
	purchase := models.ArNSPurchase{
		PurchaseID:       uuid.NewString(),
		Name:             params.Name,
		Intent:           params.Intent,
		OwnerAddress:     params.OwnerAddress,
		OwnerAddressType: params.OwnerAddressType,
		WincAmount:       params.WincAmount,
		MARIOAmount:      params.MARIOAmount,
		Status:           models.ArNSQuote,
		CreatedDate:      s.Now(),
		UpdatedDate:      s.Now(),
	}
	err := s.transact(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&purchase).Error; err != nil {
			return fmt.Errorf("ledger: insert arns quote: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// PendArNSPurchase debits the owner (optionally through received approvals)
// and records the AO message that executes the purchase.
func (s *Store) PendArNSPurchase(ctx context.Context, purchaseID, messageID string, paidBy []string) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		purchase, err := lockArNSPurchase(tx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.Status != models.ArNSQuote {
			return fmt.Errorf("%w: %s is %s", ErrPurchaseState, purchaseID, purchase.Status)
		}

		owed := purchase.WincAmount
		for _, payer := range paidBy {
			if owed.IsZero() {
				break
			}
			if payer == purchase.OwnerAddress {
				continue
			}
			taken, err := s.consumeApprovalsUpTo(tx, payer, purchase.OwnerAddress, owed, purchase.PurchaseID)
			if err != nil {
				return err
			}
			if taken.IsZero() {
				continue
			}
			if owed, err = owed.Sub(taken); err != nil {
				return fmt.Errorf("ledger: arns accounting: %w", err)
			}
		}
		if !owed.IsZero() {
			if err := s.debitUser(tx, purchase.OwnerAddress, owed, false,
				models.ReasonArNSPurchaseOrder, purchase.PurchaseID); err != nil {
				return err
			}
		} else {
			if err := s.appendAudit(tx, purchase.OwnerAddress, currency.NewSignedWinc(0),
				models.ReasonApprovedArNSPurchase, purchase.PurchaseID); err != nil {
				return err
			}
		}

		return tx.Model(&models.ArNSPurchase{}).
			Where("purchase_id = ?", purchaseID).
			Updates(map[string]any{
				"status":       models.ArNSPending,
				"message_id":   messageID,
				"updated_date": s.Now(),
			}).Error
	})
}

// SucceedArNSPurchase marks a pending purchase settled. The debit already
// happened at the pending transition, so no balance moves.
func (s *Store) SucceedArNSPurchase(ctx context.Context, purchaseID string) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		purchase, err := lockArNSPurchase(tx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.Status != models.ArNSPending {
			return fmt.Errorf("%w: %s is %s", ErrPurchaseState, purchaseID, purchase.Status)
		}
		return tx.Model(&models.ArNSPurchase{}).
			Where("purchase_id = ?", purchaseID).
			Updates(map[string]any{
				"status":       models.ArNSSuccess,
				"updated_date": s.Now(),
			}).Error
	})
}

// FailArNSPurchase refunds the winc atomically with the state change.
func (s *Store) FailArNSPurchase(ctx context.Context, purchaseID, reason string) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		purchase, err := lockArNSPurchase(tx, purchaseID)
		if err != nil {
			return err
		}
		if purchase.Status != models.ArNSPending {
			return fmt.Errorf("%w: %s is %s", ErrPurchaseState, purchaseID, purchase.Status)
		}
		if err := s.creditUser(tx, purchase.OwnerAddress, purchase.OwnerAddressType,
			purchase.WincAmount, models.ReasonArNSPurchaseFailed,
			models.ReasonArNSAccountCreation, purchase.PurchaseID); err != nil {
			return err
		}
		return tx.Model(&models.ArNSPurchase{}).
			Where("purchase_id = ?", purchaseID).
			Updates(map[string]any{
				"status":        models.ArNSFailed,
				"failed_reason": reason,
				"updated_date":  s.Now(),
			}).Error
	})
}

// GetArNSPurchase loads a purchase by identifier.
func (s *Store) GetArNSPurchase(ctx context.Context, purchaseID string) (*models.ArNSPurchase, error) {
	var purchase models.ArNSPurchase
	err := s.db.WithContext(ctx).First(&purchase, "purchase_id = ?", purchaseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("ledger: load arns purchase: %w", err)
	}
	return &purchase, nil
}

func lockArNSPurchase(tx *gorm.DB, purchaseID string) (*models.ArNSPurchase, error) {
	var purchase models.ArNSPurchase
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&purchase, "purchase_id = ?", purchaseID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("ledger: lock arns purchase: %w", err)
	}
	return &purchase, nil
}
