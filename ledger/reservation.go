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

// PaymentDirective selects how the payer list is built for a reservation.
type PaymentDirective string

// Supported payment directives.
const (
	// DirectiveListOnly uses the paid-by list verbatim; an empty list is a
	// bad request.
	DirectiveListOnly PaymentDirective = "list-only"
	// DirectiveListOrSigner tries the paid-by list in order, then falls
	// back to the signer's own balance. This is the default.
	DirectiveListOrSigner PaymentDirective = "list-or-signer"
)

// CreateReservationParams describes an upload-intent hold.
type CreateReservationParams struct {
	DataItemID         string
	SignerAddress      string
	SignerAddressType  models.AddressType
	ReservedWincAmount currency.Winc
	NetworkWincAmount  currency.Winc
	Adjustments        []AppliedAdjustment
	PaidBy             []string
	PaymentDirective   PaymentDirective
}

// CreateBalanceReservation holds winc against a data item. Candidate payers
// are tried in list order; a payer other than the signer contributes through
// its active approvals to the signer, the signer contributes from its own
// balance. The whole hold commits atomically or not at all.
func (s *Store) CreateBalanceReservation(ctx context.Context, params CreateReservationParams) (*models.BalanceReservation, error) {
	if strings.TrimSpace(params.DataItemID) == "" || strings.TrimSpace(params.SignerAddress) == "" {
		return nil, fmt.Errorf("%w: data item id and signer required", ErrBadRequest)
	}
	directive := params.PaymentDirective
	if directive == "" {
		directive = DirectiveListOrSigner
	}
	payers, err := buildPayerList(directive, params.PaidBy, params.SignerAddress)
	if err != nil {
		return nil, err
	}

	var reservation *models.BalanceReservation
	err = s.transact(ctx, func(tx *gorm.DB) error {
		var existing models.BalanceReservation
		if err := tx.First(&existing, "data_item_id = ?", params.DataItemID).Error; err == nil {
			return fmt.Errorf("%w: data item %s already reserved", ErrBadRequest, params.DataItemID)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("ledger: check reservation: %w", err)
		}

		owed := params.ReservedWincAmount
		var spends []models.OverflowSpend

		for _, payer := range payers {
			if owed.IsZero() {
				break
			}
			var take currency.Winc
			var err error
			if payer == params.SignerAddress {
				take, err = s.debitSignerUpTo(tx, params.SignerAddress, owed, params.DataItemID)
			} else {
				take, err = s.consumeApprovalsUpTo(tx, payer, params.SignerAddress, owed, params.DataItemID)
			}
			if err != nil {
				return err
			}
			if take.IsZero() {
				continue
			}
			owed, err = owed.Sub(take)
			if err != nil {
				return fmt.Errorf("ledger: reservation accounting: %w", err)
			}
			spends = append(spends, models.OverflowSpend{
				PayingAddress: payer,
				WincAmount:    take,
			})
		}

		if !owed.IsZero() {
			breakdown, err := s.insufficientBreakdown(tx, params.SignerAddress, params.ReservedWincAmount)
			if err != nil {
				return err
			}
			// The partial debits above roll back with this error, so add
			// their contributions back into the reported availability.
			for _, spend := range spends {
				if spend.PayingAddress == params.SignerAddress {
					breakdown.OwnBalance = breakdown.OwnBalance.Add(spend.WincAmount)
				} else {
					breakdown.ReceivedApprovals = breakdown.ReceivedApprovals.Add(spend.WincAmount)
				}
			}
			if s.metrics != nil {
				s.metrics.Reservations.WithLabelValues("insufficient_balance").Inc()
			}
			return breakdown
		}

		row := models.BalanceReservation{
			ReservationID:      uuid.NewString(),
			DataItemID:         params.DataItemID,
			UserAddress:        params.SignerAddress,
			UserAddressType:    params.SignerAddressType,
			ReservedWincAmount: params.ReservedWincAmount,
			NetworkWincAmount:  params.NetworkWincAmount,
			ReservedDate:       s.Now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: data item %s already reserved", ErrBadRequest, params.DataItemID)
			}
			return fmt.Errorf("ledger: insert reservation: %w", err)
		}
		for i := range spends {
			spends[i].ReservationID = row.ReservationID
			if err := tx.Create(&spends[i]).Error; err != nil {
				return fmt.Errorf("ledger: insert overflow spend: %w", err)
			}
		}
		for _, adj := range params.Adjustments {
			applied := models.AppliedUploadAdjustment{
				CatalogID:      adj.CatalogID,
				ReservationID:  row.ReservationID,
				UserAddress:    params.SignerAddress,
				AdjustedAmount: adj.AdjustedAmount,
				AppliedDate:    s.Now(),
			}
			if err := tx.Create(&applied).Error; err != nil {
				return fmt.Errorf("ledger: insert upload adjustment: %w", err)
			}
		}
		row.OverflowSpends = spends
		reservation = &row
		if s.metrics != nil {
			s.metrics.Reservations.WithLabelValues("reserved").Inc()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// buildPayerList resolves the ordered candidate payers for a directive.
func buildPayerList(directive PaymentDirective, paidBy []string, signer string) ([]string, error) {
	switch directive {
	case DirectiveListOnly:
		if len(paidBy) == 0 {
			return nil, fmt.Errorf("%w: list-only directive requires a paid-by list", ErrBadRequest)
		}
		return paidBy, nil
	case DirectiveListOrSigner:
		for _, payer := range paidBy {
			if payer == signer {
				return paidBy, nil
			}
		}
		return append(append([]string{}, paidBy...), signer), nil
	default:
		return nil, fmt.Errorf("%w: unknown payment directive %q", ErrBadRequest, directive)
	}
}

// debitSignerUpTo takes min(balance, owed) from the signer's own balance. A
// signer with no user row contributes nothing.
func (s *Store) debitSignerUpTo(tx *gorm.DB, signer string, owed currency.Winc, dataItemID string) (currency.Winc, error) {
	user, err := lockUser(tx, signer)
	if errors.Is(err, ErrUserNotFound) {
		return currency.NewWinc(0), nil
	}
	if err != nil {
		return currency.Winc{}, err
	}
	available := user.WincBalance.NonNegative()
	take := available.Min(owed)
	if take.IsZero() {
		return currency.NewWinc(0), nil
	}
	if err := s.debitUser(tx, signer, take, false, models.ReasonUpload, dataItemID); err != nil {
		return currency.Winc{}, err
	}
	return take, nil
}

// consumeApprovalsUpTo charges the payer's active approvals to the signer,
// oldest first, until owed is covered or the approvals run dry. Approvals
// consumed to their limit are archived as used. The payer balance already
// excludes earmarked funds, so these audit rows carry a zero delta.
func (s *Store) consumeApprovalsUpTo(tx *gorm.DB, payer, signer string, owed currency.Winc, dataItemID string) (currency.Winc, error) {
	approvals, err := activeApprovalsForPair(tx, payer, signer, s.Now())
	if err != nil {
		return currency.Winc{}, err
	}
	taken := currency.NewWinc(0)
	for _, approval := range approvals {
		if owed.IsZero() {
			break
		}
		remaining, err := approval.ApprovedWincAmount.Sub(approval.UsedWincAmount)
		if err != nil {
			return currency.Winc{}, fmt.Errorf("ledger: approval accounting corrupt for %s: %w", approval.ApprovalDataItemID, err)
		}
		take := remaining.Min(owed)
		if take.IsZero() {
			continue
		}
		used := approval.UsedWincAmount.Add(take)
		if err := tx.Model(&models.DelegatedPaymentApproval{}).
			Where("approval_data_item_id = ?", approval.ApprovalDataItemID).
			Update("used_winc_amount", used).Error; err != nil {
			return currency.Winc{}, fmt.Errorf("ledger: update approval usage: %w", err)
		}
		if used.Equal(approval.ApprovedWincAmount) {
			archived := approval
			archived.UsedWincAmount = used
			if err := s.archiveApproval(tx, archived, models.InactiveUsed, ""); err != nil {
				return currency.Winc{}, err
			}
		}
		if err := s.appendAudit(tx, payer, currency.NewSignedWinc(0),
			models.ReasonApprovedUpload, dataItemID); err != nil {
			return currency.Winc{}, err
		}
		taken = taken.Add(take)
		owed, err = owed.Sub(take)
		if err != nil {
			return currency.Winc{}, fmt.Errorf("ledger: reservation accounting: %w", err)
		}
	}
	return taken, nil
}

// insufficientBreakdown builds the 402 payload: the signer's own balance and
// the total remaining across approvals it has received.
func (s *Store) insufficientBreakdown(tx *gorm.DB, signer string, requested currency.Winc) (*InsufficientBalanceError, error) {
	own := currency.NewWinc(0)
	if user, err := lockUser(tx, signer); err == nil {
		own = user.WincBalance.NonNegative()
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	var received []models.DelegatedPaymentApproval
	if err := tx.Where("approved_address = ?", signer).
		Where("expiration_date IS NULL OR expiration_date > ?", s.Now()).
		Find(&received).Error; err != nil {
		return nil, fmt.Errorf("ledger: query received approvals: %w", err)
	}
	receivedTotal := currency.NewWinc(0)
	for _, approval := range received {
		remaining, err := approval.ApprovedWincAmount.Sub(approval.UsedWincAmount)
		if err != nil {
			continue
		}
		receivedTotal = receivedTotal.Add(remaining)
	}
	return &InsufficientBalanceError{
		Address:           signer,
		RequestedAmount:   requested,
		OwnBalance:        own,
		ReceivedApprovals: receivedTotal,
	}, nil
}

// GetBalanceReservation loads a reservation with its overflow spends.
func (s *Store) GetBalanceReservation(ctx context.Context, dataItemID string) (*models.BalanceReservation, error) {
	var row models.BalanceReservation
	err := s.db.WithContext(ctx).Preload("OverflowSpends").
		First(&row, "data_item_id = ?", dataItemID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("ledger: load reservation: %w", err)
	}
	return &row, nil
}

// RefundBalanceReservation returns a reservation's hold to the signer and
// archives the reservation. Finalisation needs no ledger movement, so only
// the refund path exists here.
func (s *Store) RefundBalanceReservation(ctx context.Context, dataItemID string) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		var row models.BalanceReservation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "data_item_id = ?", dataItemID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return fmt.Errorf("ledger: lock reservation: %w", err)
		}
		refunded := models.RefundedReservation{
			ReservationID:      row.ReservationID,
			DataItemID:         row.DataItemID,
			UserAddress:        row.UserAddress,
			UserAddressType:    row.UserAddressType,
			ReservedWincAmount: row.ReservedWincAmount,
			NetworkWincAmount:  row.NetworkWincAmount,
			ReservedDate:       row.ReservedDate,
			RefundedDate:       s.Now(),
		}
		if err := tx.Create(&refunded).Error; err != nil {
			return fmt.Errorf("ledger: insert refunded reservation: %w", err)
		}
		if err := tx.Delete(&models.OverflowSpend{}, "reservation_id = ?", row.ReservationID).Error; err != nil {
			return fmt.Errorf("ledger: delete overflow spends: %w", err)
		}
		if err := tx.Delete(&models.BalanceReservation{}, "reservation_id = ?", row.ReservationID).Error; err != nil {
			return fmt.Errorf("ledger: delete reservation: %w", err)
		}
		// A signer whose hold was funded entirely through approvals may not
		// have a user row yet, so the refund creates it with the type the
		// reservation recorded.
		return s.creditUser(tx, row.UserAddress, row.UserAddressType, row.ReservedWincAmount,
			models.ReasonRefundedUpload, models.ReasonRefundedUpload, row.DataItemID)
	})
}
