package pricing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wincledger/currency"
	"wincledger/ledger"
	"wincledger/ledger/models"
)

func openTestService(t *testing.T, opts ...Option) (*Service, *ledger.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	store := ledger.New(db)
	// Keep the cache window tiny so every test sees fresh catalog rows.
	opts = append([]Option{WithCatalogTTL(time.Nanosecond)}, opts...)
	return New(store, opts...), store
}

func upsertCatalog(t *testing.T, store *ledger.Store, catalog models.AdjustmentCatalog) {
	t.Helper()
	if catalog.StartDate.IsZero() {
		catalog.StartDate = time.Now().UTC().Add(-time.Hour)
	}
	if err := store.UpsertAdjustmentCatalog(context.Background(), catalog); err != nil {
		t.Fatalf("upsert catalog %s: %v", catalog.CatalogID, err)
	}
}

func TestPriceUploadNoRules(t *testing.T) {
	svc, _ := openTestService(t)
	result, err := svc.PriceUpload(context.Background(), 1024, currency.NewWinc(1000))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !result.FinalAmount.Equal(currency.NewWinc(1000)) {
		t.Fatalf("expected passthrough 1000, got %s", result.FinalAmount)
	}
	if len(result.Applied) != 0 {
		t.Fatalf("expected no applied rules, got %d", len(result.Applied))
	}
}

func TestPriceUploadMultiplyAndThreshold(t *testing.T) {
	svc, store := openTestService(t)
	ctx := context.Background()

	upsertCatalog(t, store, models.AdjustmentCatalog{
		CatalogID:          "CAT_HALF",
		Name:               "half off large uploads",
		Target:             ledger.TargetUpload,
		Operator:           models.OperatorMultiply,
		OperatorMagnitude:  0.5,
		ByteCountThreshold: 1 << 20,
	})

	// Below the threshold the rule does not fire.
	result, err := svc.PriceUpload(ctx, 1024, currency.NewWinc(1000))
	if err != nil {
		t.Fatalf("price small: %v", err)
	}
	if !result.FinalAmount.Equal(currency.NewWinc(1000)) {
		t.Fatalf("expected 1000 below threshold, got %s", result.FinalAmount)
	}

	result, err = svc.PriceUpload(ctx, 2<<20, currency.NewWinc(1000))
	if err != nil {
		t.Fatalf("price large: %v", err)
	}
	if !result.FinalAmount.Equal(currency.NewWinc(500)) {
		t.Fatalf("expected 500, got %s", result.FinalAmount)
	}
	if len(result.Applied) != 1 || result.Applied[0].CatalogID != "CAT_HALF" {
		t.Fatalf("expected CAT_HALF applied, got %+v", result.Applied)
	}
	if result.Applied[0].AdjustedAmount.String() != "-500" {
		t.Fatalf("expected delta -500, got %s", result.Applied[0].AdjustedAmount)
	}
}

func TestPriceUploadPriorityOrder(t *testing.T) {
	svc, store := openTestService(t)
	ctx := context.Background()

	// Priority 100 halves first, then priority 200 subtracts 100.
	upsertCatalog(t, store, models.AdjustmentCatalog{
		CatalogID:         "CAT_SUB",
		Name:              "subtract",
		Target:            ledger.TargetUpload,
		Operator:          models.OperatorAdd,
		OperatorMagnitude: -100,
		Priority:          200,
	})
	upsertCatalog(t, store, models.AdjustmentCatalog{
		CatalogID:         "CAT_HALF",
		Name:              "half",
		Target:            ledger.TargetUpload,
		Operator:          models.OperatorMultiply,
		OperatorMagnitude: 0.5,
		Priority:          100,
	})

	result, err := svc.PriceUpload(ctx, 0, currency.NewWinc(1000))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// (1000 * 0.5) - 100, not (1000 - 100) * 0.5.
	if !result.FinalAmount.Equal(currency.NewWinc(400)) {
		t.Fatalf("expected 400, got %s", result.FinalAmount)
	}
	if len(result.Applied) != 2 || result.Applied[0].CatalogID != "CAT_HALF" {
		t.Fatalf("unexpected application order: %+v", result.Applied)
	}
}

func TestPriceUploadMaxDiscountClamp(t *testing.T) {
	svc, store := openTestService(t, WithMaxDiscount(0.3))
	ctx := context.Background()

	upsertCatalog(t, store, models.AdjustmentCatalog{
		CatalogID:         "CAT_DEEP",
		Name:              "deep discount",
		Target:            ledger.TargetUpload,
		Operator:          models.OperatorMultiply,
		OperatorMagnitude: 0.1,
	})

	result, err := svc.PriceUpload(ctx, 0, currency.NewWinc(1000))
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// 90% off clamps to the 30% cap.
	if !result.FinalAmount.Equal(currency.NewWinc(700)) {
		t.Fatalf("expected clamp at 700, got %s", result.FinalAmount)
	}
}

func TestPricePaymentBonusAndLimitation(t *testing.T) {
	svc, store := openTestService(t)
	ctx := context.Background()

	upsertCatalog(t, store, models.AdjustmentCatalog{
		CatalogID:         "CAT_BONUS",
		Name:              "20 percent bonus",
		Target:            ledger.TargetPayment,
		Operator:          models.OperatorMultiply,
		OperatorMagnitude: 1.2,
		WincLimitation:    150,
	})

	result, err := svc.PricePayment(ctx, "ADDR_A", currency.NewWinc(1000), nil)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// The raw bonus would be 200; the limitation caps it at 150.
	if !result.FinalAmount.Equal(currency.NewWinc(1150)) {
		t.Fatalf("expected 1150, got %s", result.FinalAmount)
	}
	if result.Applied[0].AdjustedAmount.String() != "150" {
		t.Fatalf("expected delta 150, got %s", result.Applied[0].AdjustedAmount)
	}
}

func TestPricePaymentPromoCodes(t *testing.T) {
	svc, store := openTestService(t)
	ctx := context.Background()

	upsertCatalog(t, store, models.AdjustmentCatalog{
		CatalogID:         "CAT_AUTO",
		Name:              "automatic",
		Target:            ledger.TargetPayment,
		Operator:          models.OperatorMultiply,
		OperatorMagnitude: 1.1,
	})
	upsertCatalog(t, store, models.AdjustmentCatalog{
		CatalogID:         "CAT_PROMO",
		Name:              "promo",
		Target:            ledger.TargetPayment,
		Operator:          models.OperatorMultiply,
		OperatorMagnitude: 1.5,
		PromoCode:         "BIG50",
		Exclusive:         true,
	})

	// Without the code only the automatic rule fires.
	result, err := svc.PricePayment(ctx, "ADDR_A", currency.NewWinc(1000), nil)
	if err != nil {
		t.Fatalf("price plain: %v", err)
	}
	if !result.FinalAmount.Equal(currency.NewWinc(1100)) {
		t.Fatalf("expected 1100, got %s", result.FinalAmount)
	}

	// The exclusive promo replaces the automatic rules.
	result, err = svc.PricePayment(ctx, "ADDR_A", currency.NewWinc(1000), []string{"BIG50"})
	if err != nil {
		t.Fatalf("price promo: %v", err)
	}
	if !result.FinalAmount.Equal(currency.NewWinc(1500)) {
		t.Fatalf("expected 1500, got %s", result.FinalAmount)
	}
	if len(result.Applied) != 1 || result.Applied[0].CatalogID != "CAT_PROMO" {
		t.Fatalf("expected only the promo applied, got %+v", result.Applied)
	}

	if _, err := svc.PricePayment(ctx, "ADDR_A", currency.NewWinc(1000), []string{"NOPE"}); !errors.Is(err, ledger.ErrPromoCodeNotFound) {
		t.Fatalf("expected promo not found, got %v", err)
	}
}

func TestPricePaymentSingleUsePromo(t *testing.T) {
	svc, store := openTestService(t)
	ctx := context.Background()

	upsertCatalog(t, store, models.AdjustmentCatalog{
		CatalogID:         "CAT_ONCE",
		Name:              "one shot",
		Target:            ledger.TargetPayment,
		Operator:          models.OperatorMultiply,
		OperatorMagnitude: 1.2,
		PromoCode:         "ONCE",
		SingleUse:         true,
	})

	result, err := svc.PricePayment(ctx, "ADDR_A", currency.NewWinc(1000), []string{"ONCE"})
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	// Record the application the way the credit path would.
	if _, err := store.CreatePendingTransaction(ctx, ledger.CreatePendingTransactionParams{
		TxID:                   "TX_ONCE",
		TokenType:              models.TokenEthereum,
		Quantity:               currency.NewWinc(1),
		WincAmount:             result.FinalAmount,
		DestinationAddress:     "ADDR_A",
		DestinationAddressType: models.AddressEthereum,
	}, result.Adjustments()); err != nil {
		t.Fatalf("record application: %v", err)
	}

	if _, err := svc.PricePayment(ctx, "ADDR_A", currency.NewWinc(1000), []string{"ONCE"}); !errors.Is(err, ledger.ErrPromoCodeUsed) {
		t.Fatalf("expected promo used, got %v", err)
	}
	// Another address can still use it.
	if _, err := svc.PricePayment(ctx, "ADDR_B", currency.NewWinc(1000), []string{"ONCE"}); err != nil {
		t.Fatalf("other address: %v", err)
	}
}

func TestPriceQuoteCreatesAdjustedQuote(t *testing.T) {
	svc, store := openTestService(t)
	ctx := context.Background()

	upsertCatalog(t, store, models.AdjustmentCatalog{
		CatalogID:         "CAT_Q20",
		Name:              "twenty percent bonus",
		Target:            ledger.TargetPayment,
		Operator:          models.OperatorMultiply,
		OperatorMagnitude: 1.2,
		PromoCode:         "QUOTE20",
	})

	quote, err := svc.PriceQuote(ctx, QuoteParams{
		DestinationAddress:     "ADDR_Q",
		DestinationAddressType: models.AddressArweave,
		PaymentAmount:          1000,
		CurrencyType:           "USD",
		Provider:               "stripe",
		WincAmount:             currency.NewWinc(1000),
		PromoCodes:             []string{"QUOTE20"},
	})
	if err != nil {
		t.Fatalf("price quote: %v", err)
	}
	if quote.QuoteID == "" {
		t.Fatalf("expected a quote id")
	}
	if !quote.WincAmount.Equal(currency.NewWinc(1200)) {
		t.Fatalf("expected adjusted 1200, got %s", quote.WincAmount)
	}
	if quote.CurrencyType != "usd" || quote.Provider != "stripe" {
		t.Fatalf("unexpected quote %s / %s", quote.CurrencyType, quote.Provider)
	}
	if !quote.QuoteExpirationDate.After(time.Now().UTC()) {
		t.Fatalf("expected a future expiration, got %s", quote.QuoteExpirationDate)
	}
	// The stored row survives a fresh load and carries its adjustment.
	stored, err := store.GetTopUpQuote(ctx, quote.QuoteID)
	if err != nil {
		t.Fatalf("reload quote: %v", err)
	}
	if !stored.WincAmount.Equal(quote.WincAmount) {
		t.Fatalf("stored quote diverges: %s", stored.WincAmount)
	}
	used, err := store.PromoCodeUsed(ctx, "CAT_Q20", "ADDR_Q")
	if err != nil {
		t.Fatalf("check application: %v", err)
	}
	if !used {
		t.Fatalf("expected the catalog application recorded with the quote")
	}
}

func TestPriceQuoteValidation(t *testing.T) {
	svc, _ := openTestService(t)
	ctx := context.Background()

	if _, err := svc.PriceQuote(ctx, QuoteParams{
		DestinationAddressType: models.AddressArweave,
		WincAmount:             currency.NewWinc(100),
	}); !errors.Is(err, ledger.ErrBadRequest) {
		t.Fatalf("expected bad request for blank destination, got %v", err)
	}
	if _, err := svc.PriceQuote(ctx, QuoteParams{
		DestinationAddress:     "ADDR_Q",
		DestinationAddressType: models.AddressArweave,
	}); !errors.Is(err, ledger.ErrBadRequest) {
		t.Fatalf("expected bad request for zero winc, got %v", err)
	}
	// An unknown promo never persists a quote.
	if _, err := svc.PriceQuote(ctx, QuoteParams{
		DestinationAddress:     "ADDR_Q",
		DestinationAddressType: models.AddressArweave,
		WincAmount:             currency.NewWinc(100),
		PromoCodes:             []string{"NOPE"},
	}); !errors.Is(err, ledger.ErrPromoCodeNotFound) {
		t.Fatalf("expected promo not found, got %v", err)
	}
}
