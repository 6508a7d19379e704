package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wincledger/currency"
	"wincledger/ledger/models"
)

// giftExpirationPeriod is how long an email-addressed credit waits for
// redemption before the sweeper refunds it.
const giftExpirationPeriod = 30 * 24 * time.Hour

// CreateTopUpQuoteParams describes a new quote.
type CreateTopUpQuoteParams struct {
	QuoteID                string
	DestinationAddress     string
	DestinationAddressType models.AddressType
	PaymentAmount          int64
	QuotedPaymentAmount    int64
	CurrencyType           string
	WincAmount             currency.Winc
	Provider               string
	GiftMessage            string
	ExpirationDate         time.Time
}

// AppliedAdjustment is one catalog application recorded alongside a quote or
// reservation.
type AppliedAdjustment struct {
	CatalogID      string
	AdjustedAmount currency.SignedWinc
}

// CreateTopUpQuote inserts an immutable quote row together with its applied
// payment adjustments.
func (s *Store) CreateTopUpQuote(ctx context.Context, params CreateTopUpQuoteParams, adjustments []AppliedAdjustment) error {
	if strings.TrimSpace(params.QuoteID) == "" || strings.TrimSpace(params.DestinationAddress) == "" {
		return fmt.Errorf("%w: quote id and destination required", ErrBadRequest)
	}
	if !params.ExpirationDate.After(s.Now()) {
		return fmt.Errorf("%w: expiration must be in the future", ErrBadRequest)
	}
	return s.transact(ctx, func(tx *gorm.DB) error {
		quote := models.TopUpQuote{
			QuoteID:                params.QuoteID,
			DestinationAddress:     params.DestinationAddress,
			DestinationAddressType: params.DestinationAddressType,
			PaymentAmount:          params.PaymentAmount,
			QuotedPaymentAmount:    params.QuotedPaymentAmount,
			CurrencyType:           strings.ToLower(params.CurrencyType),
			WincAmount:             params.WincAmount,
			Provider:               params.Provider,
			GiftMessage:            params.GiftMessage,
			QuoteExpirationDate:    params.ExpirationDate.UTC(),
			QuoteCreationDate:      s.Now(),
		}
		if err := tx.Create(&quote).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrQuoteExists
			}
			return fmt.Errorf("ledger: insert quote: %w", err)
		}
		for _, adj := range adjustments {
			applied := models.AppliedPaymentAdjustment{
				CatalogID:      adj.CatalogID,
				QuoteID:        quote.QuoteID,
				UserAddress:    quote.DestinationAddress,
				AdjustedAmount: adj.AdjustedAmount,
				AppliedDate:    s.Now(),
			}
			if err := tx.Create(&applied).Error; err != nil {
				return fmt.Errorf("ledger: insert payment adjustment: %w", err)
			}
		}
		return nil
	})
}

// GetTopUpQuote loads a live quote.
func (s *Store) GetTopUpQuote(ctx context.Context, quoteID string) (*models.TopUpQuote, error) {
	var quote models.TopUpQuote
	err := s.db.WithContext(ctx).First(&quote, "quote_id = ?", quoteID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("ledger: load quote %s: %w", quoteID, err)
	}
	return &quote, nil
}

// FulfillTopUpQuote settles a quote: it deletes the quote row, writes the
// payment receipt, and credits the destination. Email destinations receive
// an unredeemed gift instead of a direct balance credit. The expiry check
// runs under the quote's row lock so a concurrent sweep cannot race a
// fulfilment past the deadline.
func (s *Store) FulfillTopUpQuote(ctx context.Context, quoteID, receiptID, senderEmail string) (*models.PaymentReceipt, error) {
	if strings.TrimSpace(receiptID) == "" {
		receiptID = uuid.NewString()
	}
	var receipt *models.PaymentReceipt
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var quote models.TopUpQuote
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&quote, "quote_id = ?", quoteID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// A previously fulfilled quote leaves a receipt behind.
				var existing models.PaymentReceipt
				if lookupErr := tx.First(&existing, "quote_id = ?", quoteID).Error; lookupErr == nil {
					return ErrPaymentReceiptExists
				}
				return ErrQuoteNotFound
			}
			return fmt.Errorf("ledger: lock quote %s: %w", quoteID, err)
		}
		if !quote.QuoteExpirationDate.After(s.Now()) {
			return ErrQuoteExpired
		}

		r := models.PaymentReceipt{
			ReceiptID:              receiptID,
			QuoteID:                quote.QuoteID,
			DestinationAddress:     quote.DestinationAddress,
			DestinationAddressType: quote.DestinationAddressType,
			PaymentAmount:          quote.PaymentAmount,
			QuotedPaymentAmount:    quote.QuotedPaymentAmount,
			CurrencyType:           quote.CurrencyType,
			WincAmount:             quote.WincAmount,
			Provider:               quote.Provider,
			GiftMessage:            quote.GiftMessage,
			QuoteExpirationDate:    quote.QuoteExpirationDate,
			QuoteCreationDate:      quote.QuoteCreationDate,
			ReceiptDate:            s.Now(),
		}
		if err := tx.Create(&r).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrPaymentReceiptExists
			}
			return fmt.Errorf("ledger: insert receipt: %w", err)
		}

		if quote.DestinationAddressType == models.AddressEmail {
			gift := models.UnredeemedGift{
				PaymentReceiptID: r.ReceiptID,
				RecipientEmail:   quote.DestinationAddress,
				WincAmount:       quote.WincAmount,
				GiftMessage:      quote.GiftMessage,
				CreationDate:     s.Now(),
				ExpirationDate:   s.Now().Add(giftExpirationPeriod),
			}
			if err := tx.Create(&gift).Error; err != nil {
				return fmt.Errorf("ledger: insert gift: %w", err)
			}
			// Email destinations have no user row; the credit lands on
			// redemption. The zero delta keeps per-user audit sums exact.
			if err := s.appendAudit(tx, quote.DestinationAddress, currency.NewSignedWinc(0),
				models.ReasonGiftedPayment, r.ReceiptID); err != nil {
				return err
			}
			if senderEmail != "" {
				s.log.Info("gift payment received",
					slog.String("recipient", quote.DestinationAddress),
					slog.String("sender", senderEmail))
			}
		} else {
			if err := s.creditUser(tx, quote.DestinationAddress, quote.DestinationAddressType,
				quote.WincAmount, models.ReasonPayment, models.ReasonAccountCreation, r.ReceiptID); err != nil {
				return err
			}
		}

		if err := tx.Delete(&models.TopUpQuote{}, "quote_id = ?", quote.QuoteID).Error; err != nil {
			return fmt.Errorf("ledger: delete fulfilled quote: %w", err)
		}
		receipt = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// FailTopUpQuote moves a quote into the failed set without touching any
// balance.
func (s *Store) FailTopUpQuote(ctx context.Context, quoteID, reason string) error {
	return s.transact(ctx, func(tx *gorm.DB) error {
		return s.failTopUpQuoteTx(tx, quoteID, reason)
	})
}

func (s *Store) failTopUpQuoteTx(tx *gorm.DB, quoteID, reason string) error {
	var quote models.TopUpQuote
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&quote, "quote_id = ?", quoteID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrQuoteNotFound
		}
		return fmt.Errorf("ledger: lock quote %s: %w", quoteID, err)
	}
	failed := models.FailedTopUpQuote{
		QuoteID:                quote.QuoteID,
		DestinationAddress:     quote.DestinationAddress,
		DestinationAddressType: quote.DestinationAddressType,
		PaymentAmount:          quote.PaymentAmount,
		QuotedPaymentAmount:    quote.QuotedPaymentAmount,
		CurrencyType:           quote.CurrencyType,
		WincAmount:             quote.WincAmount,
		Provider:               quote.Provider,
		QuoteExpirationDate:    quote.QuoteExpirationDate,
		QuoteCreationDate:      quote.QuoteCreationDate,
		FailedReason:           reason,
		QuoteFailedDate:        s.Now(),
	}
	if err := tx.Create(&failed).Error; err != nil {
		return fmt.Errorf("ledger: insert failed quote: %w", err)
	}
	if err := tx.Delete(&models.TopUpQuote{}, "quote_id = ?", quote.QuoteID).Error; err != nil {
		return fmt.Errorf("ledger: delete failed quote: %w", err)
	}
	return nil
}

// ExpireTopUpQuotes fails every quote whose deadline passed, returning how
// many rows moved. The sweeper calls this on an interval.
func (s *Store) ExpireTopUpQuotes(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	err := s.transact(ctx, func(tx *gorm.DB) error {
		expired = 0
		var quotes []models.TopUpQuote
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("quote_expiration_date < ?", now.UTC()).
			Find(&quotes).Error; err != nil {
			return fmt.Errorf("ledger: query expired quotes: %w", err)
		}
		for _, quote := range quotes {
			if err := s.failTopUpQuoteTx(tx, quote.QuoteID, "expired"); err != nil {
				return err
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

// CreateChargebackReceipt reverses a settled receipt. The destination is
// debited even when that overdraws the balance; the audit row flags it.
func (s *Store) CreateChargebackReceipt(ctx context.Context, quoteID, chargebackID, reason string) (*models.ChargebackReceipt, error) {
	if strings.TrimSpace(chargebackID) == "" {
		chargebackID = uuid.NewString()
	}
	var chargeback *models.ChargebackReceipt
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var receipt models.PaymentReceipt
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&receipt, "quote_id = ?", quoteID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReceiptNotFound
			}
			return fmt.Errorf("ledger: lock receipt for quote %s: %w", quoteID, err)
		}
		cb := models.ChargebackReceipt{
			ChargebackID:           chargebackID,
			ReceiptID:              receipt.ReceiptID,
			QuoteID:                receipt.QuoteID,
			DestinationAddress:     receipt.DestinationAddress,
			DestinationAddressType: receipt.DestinationAddressType,
			PaymentAmount:          receipt.PaymentAmount,
			CurrencyType:           receipt.CurrencyType,
			WincAmount:             receipt.WincAmount,
			Provider:               receipt.Provider,
			ChargebackReason:       reason,
			ChargebackDate:         s.Now(),
		}
		if err := tx.Create(&cb).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrChargebackExists
			}
			return fmt.Errorf("ledger: insert chargeback: %w", err)
		}
		if receipt.DestinationAddressType == models.AddressEmail {
			// An unclaimed gift is simply withdrawn; a redeemed one has
			// already moved the credit onto a chain address, which takes
			// the debit.
			var gift models.UnredeemedGift
			giftErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&gift, "payment_receipt_id = ?", receipt.ReceiptID).Error
			switch {
			case giftErr == nil:
				if err := tx.Delete(&models.UnredeemedGift{}, "payment_receipt_id = ?", receipt.ReceiptID).Error; err != nil {
					return fmt.Errorf("ledger: withdraw gift: %w", err)
				}
				if err := s.appendAudit(tx, receipt.DestinationAddress, currency.NewSignedWinc(0),
					models.ReasonChargeback, cb.ChargebackID); err != nil {
					return err
				}
			case errors.Is(giftErr, gorm.ErrRecordNotFound):
				var redeemed models.RedeemedGift
				if err := tx.First(&redeemed, "payment_receipt_id = ?", receipt.ReceiptID).Error; err != nil {
					return fmt.Errorf("ledger: locate redeemed gift: %w", err)
				}
				if err := s.debitUser(tx, redeemed.DestinationAddress, receipt.WincAmount,
					true, models.ReasonChargeback, cb.ChargebackID); err != nil {
					return err
				}
			default:
				return fmt.Errorf("ledger: lock gift: %w", giftErr)
			}
		} else {
			if err := s.debitUser(tx, receipt.DestinationAddress, receipt.WincAmount,
				true, models.ReasonChargeback, cb.ChargebackID); err != nil {
				return err
			}
		}
		chargeback = &cb
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chargeback, nil
}
