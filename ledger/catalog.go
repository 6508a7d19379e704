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

// Catalog targets.
const (
	TargetUpload  = "upload"
	TargetPayment = "payment"
)

// UpsertAdjustmentCatalog inserts or replaces a promotional rule.
func (s *Store) UpsertAdjustmentCatalog(ctx context.Context, catalog models.AdjustmentCatalog) error {
	if strings.TrimSpace(catalog.CatalogID) == "" {
		return fmt.Errorf("%w: catalog id required", ErrBadRequest)
	}
	if catalog.Target != TargetUpload && catalog.Target != TargetPayment {
		return fmt.Errorf("%w: catalog target must be upload or payment", ErrBadRequest)
	}
	switch catalog.Operator {
	case models.OperatorAdd, models.OperatorMultiply:
	default:
		return fmt.Errorf("%w: unknown catalog operator %q", ErrBadRequest, catalog.Operator)
	}
	return s.transact(ctx, func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "catalog_id"}},
			UpdateAll: true,
		}).Create(&catalog).Error
		if err != nil {
			return fmt.Errorf("ledger: upsert catalog: %w", err)
		}
		return nil
	})
}

// ActiveAdjustmentCatalogs returns the rules live at the given instant for a
// target, highest priority first. Promo-code rules are excluded; they apply
// only when the caller presents the code.
func (s *Store) ActiveAdjustmentCatalogs(ctx context.Context, target string, now time.Time) ([]models.AdjustmentCatalog, error) {
	var catalogs []models.AdjustmentCatalog
	err := s.db.WithContext(ctx).
		Where("target = ? AND promo_code = '' AND start_date <= ? AND (end_date IS NULL OR end_date > ?)",
			target, now.UTC(), now.UTC()).
		Order("priority ASC, catalog_id ASC").
		Find(&catalogs).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: query active catalogs: %w", err)
	}
	return catalogs, nil
}

// CatalogByPromoCode resolves a live promo-code rule.
func (s *Store) CatalogByPromoCode(ctx context.Context, code string, now time.Time) (*models.AdjustmentCatalog, error) {
	var catalog models.AdjustmentCatalog
	err := s.db.WithContext(ctx).
		Where("promo_code = ? AND start_date <= ? AND (end_date IS NULL OR end_date > ?)",
			strings.TrimSpace(code), now.UTC(), now.UTC()).
		First(&catalog).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPromoCodeNotFound
		}
		return nil, fmt.Errorf("ledger: query promo code: %w", err)
	}
	return &catalog, nil
}

// PromoCodeUsed reports whether a single-use catalog was already applied for
// the address on either target.
func (s *Store) PromoCodeUsed(ctx context.Context, catalogID, userAddress string) (bool, error) {
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.AppliedPaymentAdjustment{}).
		Where("catalog_id = ? AND user_address = ?", catalogID, userAddress).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("ledger: check promo use: %w", err)
	}
	if count > 0 {
		return true, nil
	}
	if err := db.Model(&models.AppliedUploadAdjustment{}).
		Where("catalog_id = ? AND user_address = ?", catalogID, userAddress).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("ledger: check promo use: %w", err)
	}
	return count > 0, nil
}
