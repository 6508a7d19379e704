package ledger

import (
	"context"
	"fmt"

	"wincledger/currency"
	"wincledger/ledger/models"
)

// Balance is the spendable view of an address. Winc is the signer's own
// spendable balance; ControlledWinc adds back the remainders of approvals
// the address has given; EffectiveBalance adds remainders of approvals the
// address has received.
type Balance struct {
	Winc              currency.Winc
	ControlledWinc    currency.Winc
	EffectiveBalance  currency.Winc
	GivenApprovals    []models.DelegatedPaymentApproval
	ReceivedApprovals []models.DelegatedPaymentApproval
}

// GetBalance computes the balance view for an address. Addresses that have
// never been credited return ErrUserNotFound.
func (s *Store) GetBalance(ctx context.Context, address string) (*Balance, error) {
	user, err := s.GetUser(ctx, address)
	if err != nil {
		return nil, err
	}
	now := s.Now()

	var given []models.DelegatedPaymentApproval
	if err := s.db.WithContext(ctx).
		Where("paying_address = ?", address).
		Where("expiration_date IS NULL OR expiration_date > ?", now).
		Order("creation_date ASC").
		Find(&given).Error; err != nil {
		return nil, fmt.Errorf("ledger: query given approvals: %w", err)
	}
	var received []models.DelegatedPaymentApproval
	if err := s.db.WithContext(ctx).
		Where("approved_address = ?", address).
		Where("expiration_date IS NULL OR expiration_date > ?", now).
		Order("creation_date ASC").
		Find(&received).Error; err != nil {
		return nil, fmt.Errorf("ledger: query received approvals: %w", err)
	}

	givenRemaining := approvalRemainder(given)
	receivedRemaining := approvalRemainder(received)

	// Balances are debited when approvals are created, so the stored
	// amount is the spendable winc and controlled adds earmarks back.
	winc := user.WincBalance.NonNegative()
	return &Balance{
		Winc:              winc,
		ControlledWinc:    winc.Add(givenRemaining),
		EffectiveBalance:  winc.Add(receivedRemaining),
		GivenApprovals:    given,
		ReceivedApprovals: received,
	}, nil
}

func approvalRemainder(approvals []models.DelegatedPaymentApproval) currency.Winc {
	total := currency.NewWinc(0)
	for _, approval := range approvals {
		remaining, err := approval.ApprovedWincAmount.Sub(approval.UsedWincAmount)
		if err != nil {
			continue
		}
		total = total.Add(remaining)
	}
	return total
}
