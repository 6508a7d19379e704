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

// CreateApprovalParams describes a new delegated payment approval.
type CreateApprovalParams struct {
	ApprovalDataItemID string
	PayingAddress      string
	ApprovedAddress    string
	ApprovedWincAmount currency.Winc
	// ExpiresIn, when positive, bounds the approval's lifetime.
	ExpiresIn time.Duration
}

// CreateDelegatedPaymentApproval earmarks winc from the payer for the
// approved address. The amount moves out of the payer's balance immediately
// and returns on revocation or expiry.
func (s *Store) CreateDelegatedPaymentApproval(ctx context.Context, params CreateApprovalParams) (*models.DelegatedPaymentApproval, error) {
	if strings.TrimSpace(params.ApprovalDataItemID) == "" ||
		strings.TrimSpace(params.PayingAddress) == "" ||
		strings.TrimSpace(params.ApprovedAddress) == "" {
		return nil, fmt.Errorf("%w: approval id, payer and approvee required", ErrBadRequest)
	}
	if params.ApprovedWincAmount.IsZero() {
		return nil, fmt.Errorf("%w: approval amount must be positive", ErrBadRequest)
	}
	var approval *models.DelegatedPaymentApproval
	err := s.transact(ctx, func(tx *gorm.DB) error {
		for _, model := range []any{&models.DelegatedPaymentApproval{}, &models.InactiveDelegatedPaymentApproval{}} {
			var count int64
			if err := tx.Model(model).
				Where("approval_data_item_id = ?", params.ApprovalDataItemID).
				Count(&count).Error; err != nil {
				return fmt.Errorf("ledger: check approval id: %w", err)
			}
			if count > 0 {
				return ErrApprovalExists
			}
		}
		if err := s.debitUser(tx, params.PayingAddress, params.ApprovedWincAmount,
			false, models.ReasonDelegatedPaymentApproval, params.ApprovalDataItemID); err != nil {
			return err
		}
		row := models.DelegatedPaymentApproval{
			ApprovalDataItemID: params.ApprovalDataItemID,
			PayingAddress:      params.PayingAddress,
			ApprovedAddress:    params.ApprovedAddress,
			ApprovedWincAmount: params.ApprovedWincAmount,
			UsedWincAmount:     currency.NewWinc(0),
			CreationDate:       s.Now(),
		}
		if params.ExpiresIn > 0 {
			expires := s.Now().Add(params.ExpiresIn)
			row.ExpirationDate = &expires
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrApprovalExists
			}
			return fmt.Errorf("ledger: insert approval: %w", err)
		}
		approval = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// archiveApproval moves an active approval into the inactive set inside the
// caller's transaction.
func (s *Store) archiveApproval(tx *gorm.DB, approval models.DelegatedPaymentApproval, reason models.InactiveReason, revokeDataItemID string) error {
	inactive := models.InactiveDelegatedPaymentApproval{
		ApprovalDataItemID: approval.ApprovalDataItemID,
		PayingAddress:      approval.PayingAddress,
		ApprovedAddress:    approval.ApprovedAddress,
		ApprovedWincAmount: approval.ApprovedWincAmount,
		UsedWincAmount:     approval.UsedWincAmount,
		CreationDate:       approval.CreationDate,
		ExpirationDate:     approval.ExpirationDate,
		InactiveReason:     reason,
		InactiveDate:       s.Now(),
		RevokeDataItemID:   revokeDataItemID,
	}
	if err := tx.Create(&inactive).Error; err != nil {
		return fmt.Errorf("ledger: archive approval: %w", err)
	}
	if err := tx.Delete(&models.DelegatedPaymentApproval{},
		"approval_data_item_id = ?", approval.ApprovalDataItemID).Error; err != nil {
		return fmt.Errorf("ledger: delete active approval: %w", err)
	}
	return nil
}

// RevokeDelegatedPaymentApproval archives the approval and refunds its
// unused remainder to the payer.
func (s *Store) RevokeDelegatedPaymentApproval(ctx context.Context, approvalDataItemID, revokeDataItemID string) (*models.InactiveDelegatedPaymentApproval, error) {
	var archived *models.InactiveDelegatedPaymentApproval
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var approval models.DelegatedPaymentApproval
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&approval, "approval_data_item_id = ?", approvalDataItemID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrApprovalNotFound
			}
			return fmt.Errorf("ledger: lock approval: %w", err)
		}
		if err := s.archiveApproval(tx, approval, models.InactiveRevoked, revokeDataItemID); err != nil {
			return err
		}
		remaining, err := approval.ApprovedWincAmount.Sub(approval.UsedWincAmount)
		if err != nil {
			return fmt.Errorf("ledger: approval accounting corrupt for %s: %w", approvalDataItemID, err)
		}
		if !remaining.IsZero() {
			if err := s.refundUser(tx, approval.PayingAddress, remaining,
				models.ReasonDelegatedPaymentRevoke, approvalDataItemID); err != nil {
				return err
			}
		} else {
			if err := s.appendAudit(tx, approval.PayingAddress, currency.NewSignedWinc(0),
				models.ReasonDelegatedPaymentRevoke, approvalDataItemID); err != nil {
				return err
			}
		}
		var row models.InactiveDelegatedPaymentApproval
		if err := tx.First(&row, "approval_data_item_id = ?", approvalDataItemID).Error; err != nil {
			return fmt.Errorf("ledger: reload archived approval: %w", err)
		}
		archived = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return archived, nil
}

// ExpireDelegatedPaymentApprovals archives every active approval whose
// deadline passed and refunds the unused remainders. Returns how many rows
// moved.
func (s *Store) ExpireDelegatedPaymentApprovals(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	err := s.transact(ctx, func(tx *gorm.DB) error {
		expired = 0
		var approvals []models.DelegatedPaymentApproval
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("expiration_date IS NOT NULL AND expiration_date <= ?", now.UTC()).
			Find(&approvals).Error; err != nil {
			return fmt.Errorf("ledger: query expired approvals: %w", err)
		}
		for _, approval := range approvals {
			if err := s.archiveApproval(tx, approval, models.InactiveExpired, ""); err != nil {
				return err
			}
			remaining, err := approval.ApprovedWincAmount.Sub(approval.UsedWincAmount)
			if err != nil {
				return fmt.Errorf("ledger: approval accounting corrupt for %s: %w", approval.ApprovalDataItemID, err)
			}
			if !remaining.IsZero() {
				if err := s.refundUser(tx, approval.PayingAddress, remaining,
					models.ReasonDelegatedPaymentExpired, approval.ApprovalDataItemID); err != nil {
					return err
				}
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// GetDelegatedPaymentApproval looks up an approval by its data item id,
// searching the active set first.
func (s *Store) GetDelegatedPaymentApproval(ctx context.Context, approvalDataItemID string) (*models.DelegatedPaymentApproval, *models.InactiveDelegatedPaymentApproval, error) {
	var active models.DelegatedPaymentApproval
	err := s.db.WithContext(ctx).
		First(&active, "approval_data_item_id = ?", approvalDataItemID).Error
	if err == nil {
		return &active, nil, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("ledger: load approval: %w", err)
	}
	var inactive models.InactiveDelegatedPaymentApproval
	err = s.db.WithContext(ctx).
		First(&inactive, "approval_data_item_id = ?", approvalDataItemID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrApprovalNotFound
		}
		return nil, nil, fmt.Errorf("ledger: load inactive approval: %w", err)
	}
	return nil, &inactive, nil
}

// activeApprovalsForPair loads the payer's live approvals to the approved
// address, oldest first, under row locks.
func activeApprovalsForPair(tx *gorm.DB, payingAddress, approvedAddress string, now time.Time) ([]models.DelegatedPaymentApproval, error) {
	var approvals []models.DelegatedPaymentApproval
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("paying_address = ? AND approved_address = ?", payingAddress, approvedAddress).
		Where("expiration_date IS NULL OR expiration_date > ?", now.UTC()).
		Order("creation_date ASC").
		Find(&approvals).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: query approvals for pair: %w", err)
	}
	return approvals, nil
}
