package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wincledger/ledger/models"
)

// RedeemGift claims an email-addressed credit for a chain address. The
// recipient email must match the gift record and the gift must not have
// lapsed.
func (s *Store) RedeemGift(ctx context.Context, paymentReceiptID, recipientEmail, destinationAddress string, destinationAddressType models.AddressType) (*models.RedeemedGift, error) {
	if strings.TrimSpace(destinationAddress) == "" || !models.IsUserAddressType(destinationAddressType) {
		return nil, fmt.Errorf("%w: chain destination required for redemption", ErrBadRequest)
	}
	var redeemed *models.RedeemedGift
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var gift models.UnredeemedGift
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&gift, "payment_receipt_id = ?", paymentReceiptID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGiftNotFound
			}
			return fmt.Errorf("ledger: lock gift: %w", err)
		}
		if !strings.EqualFold(gift.RecipientEmail, strings.TrimSpace(recipientEmail)) {
			return ErrGiftNotFound
		}
		if !gift.ExpirationDate.After(s.Now()) {
			return ErrGiftExpired
		}
		row := models.RedeemedGift{
			PaymentReceiptID:   gift.PaymentReceiptID,
			RecipientEmail:     gift.RecipientEmail,
			WincAmount:         gift.WincAmount,
			GiftMessage:        gift.GiftMessage,
			CreationDate:       gift.CreationDate,
			DestinationAddress: destinationAddress,
			RedemptionDate:     s.Now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("ledger: insert redeemed gift: %w", err)
		}
		if err := tx.Delete(&models.UnredeemedGift{}, "payment_receipt_id = ?", gift.PaymentReceiptID).Error; err != nil {
			return fmt.Errorf("ledger: delete unredeemed gift: %w", err)
		}
		if err := s.creditUser(tx, destinationAddress, destinationAddressType, gift.WincAmount,
			models.ReasonGiftedPaymentRedemption, models.ReasonGiftedAccountCreation,
			gift.PaymentReceiptID); err != nil {
			return err
		}
		redeemed = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return redeemed, nil
}

// ExpiredGifts lists unredeemed gifts whose window lapsed; the refund path
// through the payment provider consumes these.
func (s *Store) ExpiredGifts(ctx context.Context, now time.Time) ([]models.UnredeemedGift, error) {
	var gifts []models.UnredeemedGift
	err := s.db.WithContext(ctx).
		Where("expiration_date <= ?", now.UTC()).
		Order("expiration_date ASC").
		Find(&gifts).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: query expired gifts: %w", err)
	}
	return gifts, nil
}
