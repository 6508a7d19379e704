// Package pricing applies promotional catalog rules to upload and payment
// amounts. Rules come from the ledger's adjustment catalog and are cached for
// a short window; the applied deltas land on the Applied* rows the ledger
// writes inside the same transaction as the balance change.
package pricing

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"wincledger/cache"
	"wincledger/currency"
	"wincledger/ledger"
	"wincledger/ledger/models"
)

// quoteLifetime is how long a priced top-up quote stays fulfillable.
const quoteLifetime = 30 * time.Minute

// PricingService is the pricing surface the HTTP layer and admin jobs
// consume.
type PricingService interface {
	PriceUpload(ctx context.Context, byteCount currency.ByteCount, networkPrice currency.Winc) (Result, error)
	PricePayment(ctx context.Context, userAddress string, amount currency.Winc, promoCodes []string) (Result, error)
	PriceQuote(ctx context.Context, params QuoteParams) (*models.TopUpQuote, error)
}

// Applied is one catalog rule's effect on a price. AdjustedAmount is the
// delta against the pre-rule amount, negative for discounts.
type Applied struct {
	CatalogID      string
	Name           string
	AdjustedAmount currency.SignedWinc
}

// Result is the priced amount plus the rules that shaped it.
type Result struct {
	FinalAmount currency.Winc
	Applied     []Applied
}

// Adjustments converts the applied rules into the shape the ledger records.
func (r Result) Adjustments() []ledger.AppliedAdjustment {
	out := make([]ledger.AppliedAdjustment, 0, len(r.Applied))
	for _, a := range r.Applied {
		out = append(out, ledger.AppliedAdjustment{
			CatalogID:      a.CatalogID,
			AdjustedAmount: a.AdjustedAmount,
		})
	}
	return out
}

// Option customises Service construction.
type Option func(*Service)

// WithMaxDiscount caps the total discount as a fraction of the base amount.
// Zero disables the cap.
func WithMaxDiscount(ratio float64) Option {
	return func(s *Service) { s.maxDiscount = ratio }
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCatalogTTL tunes how long catalog rules are cached.
func WithCatalogTTL(ttl time.Duration) Option {
	return func(s *Service) { s.catalogs = cache.New[string, []models.AdjustmentCatalog](64, ttl) }
}

// Service prices uploads and payments against the live catalog.
type Service struct {
	store       *ledger.Store
	catalogs    *cache.Cache[string, []models.AdjustmentCatalog]
	maxDiscount float64
	now         func() time.Time
}

var _ PricingService = (*Service)(nil)

// New builds a pricing service over the ledger store.
func New(store *ledger.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		catalogs: cache.New[string, []models.AdjustmentCatalog](64, cache.DefaultTTL),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) activeCatalogs(ctx context.Context, target string) ([]models.AdjustmentCatalog, error) {
	if cached, ok := s.catalogs.Get(target); ok {
		return cached, nil
	}
	catalogs, err := s.store.ActiveAdjustmentCatalogs(ctx, target, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.catalogs.Set(target, catalogs)
	return catalogs, nil
}

// PriceUpload applies upload catalog rules to the network price for the given
// byte count. Rules with a byte-count threshold skip smaller uploads.
func (s *Service) PriceUpload(ctx context.Context, byteCount currency.ByteCount, networkPrice currency.Winc) (Result, error) {
	catalogs, err := s.activeCatalogs(ctx, ledger.TargetUpload)
	if err != nil {
		return Result{}, err
	}
	result := Result{FinalAmount: networkPrice}
	base := networkPrice.BigInt()
	current := new(big.Int).Set(base)
	for _, catalog := range catalogs {
		if catalog.ByteCountThreshold > 0 && int64(byteCount) < catalog.ByteCountThreshold {
			continue
		}
		next := applyOperator(current, catalog.Operator, catalog.OperatorMagnitude)
		next = s.clamp(base, next)
		if next.Cmp(current) == 0 {
			continue
		}
		result.Applied = append(result.Applied, Applied{
			CatalogID:      catalog.CatalogID,
			Name:           catalog.Name,
			AdjustedAmount: signedDelta(current, next),
		})
		current = next
	}
	final, err := currency.ParseWinc(current.String())
	if err != nil {
		return Result{}, fmt.Errorf("pricing: final upload amount: %w", err)
	}
	result.FinalAmount = final
	return result, nil
}

// PricePayment applies payment catalog rules to the winc a payment converts
// to. Promo codes resolve to their catalogs and apply on top of the automatic
// rules; an exclusive promo catalog replaces them.
func (s *Service) PricePayment(ctx context.Context, userAddress string, amount currency.Winc, promoCodes []string) (Result, error) {
	automatic, err := s.activeCatalogs(ctx, ledger.TargetPayment)
	if err != nil {
		return Result{}, err
	}
	applicable := automatic
	for _, code := range promoCodes {
		catalog, err := s.store.CatalogByPromoCode(ctx, code, s.now().UTC())
		if err != nil {
			return Result{}, err
		}
		if catalog.SingleUse {
			used, err := s.store.PromoCodeUsed(ctx, catalog.CatalogID, userAddress)
			if err != nil {
				return Result{}, err
			}
			if used {
				return Result{}, fmt.Errorf("%w: %s", ledger.ErrPromoCodeUsed, code)
			}
		}
		if catalog.Exclusive {
			applicable = []models.AdjustmentCatalog{*catalog}
			break
		}
		applicable = append(applicable, *catalog)
	}

	result := Result{FinalAmount: amount}
	base := amount.BigInt()
	current := new(big.Int).Set(base)
	for _, catalog := range applicable {
		next := applyOperator(current, catalog.Operator, catalog.OperatorMagnitude)
		next = s.clamp(base, next)
		if catalog.WincLimitation > 0 {
			// Cap the granted bonus, not the base amount.
			bonus := new(big.Int).Sub(next, base)
			if bonus.Sign() > 0 && bonus.Cmp(big.NewInt(catalog.WincLimitation)) > 0 {
				next = new(big.Int).Add(base, big.NewInt(catalog.WincLimitation))
			}
		}
		if next.Cmp(current) == 0 {
			continue
		}
		result.Applied = append(result.Applied, Applied{
			CatalogID:      catalog.CatalogID,
			Name:           catalog.Name,
			AdjustedAmount: signedDelta(current, next),
		})
		current = next
	}
	final, err := currency.ParseWinc(current.String())
	if err != nil {
		return Result{}, fmt.Errorf("pricing: final payment amount: %w", err)
	}
	result.FinalAmount = final
	return result, nil
}

// QuoteParams describes a top-up quote request. WincAmount is the winc the
// payment converts to at the current rate, before catalog rules apply.
type QuoteParams struct {
	DestinationAddress     string
	DestinationAddressType models.AddressType
	PaymentAmount          int64
	CurrencyType           string
	Provider               string
	WincAmount             currency.Winc
	PromoCodes             []string
	GiftMessage            string
}

// PriceQuote prices a payment through the catalog and persists the resulting
// top-up quote, adjustments included, returning the stored row.
func (s *Service) PriceQuote(ctx context.Context, params QuoteParams) (*models.TopUpQuote, error) {
	if strings.TrimSpace(params.DestinationAddress) == "" {
		return nil, fmt.Errorf("%w: destination address required", ledger.ErrBadRequest)
	}
	if params.WincAmount.IsZero() {
		return nil, fmt.Errorf("%w: payment converts to zero winc", ledger.ErrBadRequest)
	}
	priced, err := s.PricePayment(ctx, params.DestinationAddress, params.WincAmount, params.PromoCodes)
	if err != nil {
		return nil, err
	}
	quoteID := uuid.NewString()
	if err := s.store.CreateTopUpQuote(ctx, ledger.CreateTopUpQuoteParams{
		QuoteID:                quoteID,
		DestinationAddress:     params.DestinationAddress,
		DestinationAddressType: params.DestinationAddressType,
		PaymentAmount:          params.PaymentAmount,
		QuotedPaymentAmount:    params.PaymentAmount,
		CurrencyType:           params.CurrencyType,
		WincAmount:             priced.FinalAmount,
		Provider:               params.Provider,
		GiftMessage:            params.GiftMessage,
		ExpirationDate:         s.now().UTC().Add(quoteLifetime),
	}, priced.Adjustments()); err != nil {
		return nil, err
	}
	return s.store.GetTopUpQuote(ctx, quoteID)
}

// applyOperator computes the post-rule amount. Add treats the magnitude as a
// winc delta; multiply scales the running amount. Results truncate toward
// zero and never go negative.
func applyOperator(current *big.Int, op models.AdjustmentOperator, magnitude float64) *big.Int {
	out := new(big.Int)
	switch op {
	case models.OperatorAdd:
		delta, _ := big.NewFloat(magnitude).Int(nil)
		out.Add(current, delta)
	case models.OperatorMultiply:
		scaled := new(big.Float).SetInt(current)
		scaled.Mul(scaled, big.NewFloat(magnitude))
		scaled.Int(out)
	default:
		out.Set(current)
	}
	if out.Sign() < 0 {
		out.SetInt64(0)
	}
	return out
}

// clamp enforces the configured max-discount floor against the base amount.
func (s *Service) clamp(base, next *big.Int) *big.Int {
	if s.maxDiscount <= 0 || s.maxDiscount >= 1 {
		return next
	}
	floor := new(big.Float).SetInt(base)
	floor.Mul(floor, big.NewFloat(1-s.maxDiscount))
	min := new(big.Int)
	floor.Int(min)
	if next.Cmp(min) < 0 {
		return min
	}
	return next
}

func signedDelta(before, after *big.Int) currency.SignedWinc {
	delta := new(big.Int).Sub(after, before)
	signed, _ := currency.ParseSignedWinc(delta.String())
	return signed
}
