package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"wincledger/currency"
	"wincledger/ledger/models"
	"wincledger/observability"
)

// serializationRetries bounds how often a transaction is replayed after the
// database reports a serialization conflict.
const serializationRetries = 3

// auditChainLockID keys the advisory lock that serializes audit appends.
const auditChainLockID int64 = 0x77696e636c6c6f67

// Store is the transactional ledger. All mutating operations emit their
// audit rows inside the same database transaction that moves the balance.
type Store struct {
	db      *gorm.DB
	now     func() time.Time
	log     *slog.Logger
	metrics *observability.LedgerMetrics
}

// Option customises Store construction.
type Option func(*Store)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger attaches a structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMetrics attaches ledger collectors.
func WithMetrics(m *observability.LedgerMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New wraps an existing gorm handle. The schema must already be migrated or
// migrated by the caller via models.AutoMigrate.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: time.Now,
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the configured Postgres endpoint and migrates the schema.
func Open(dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("ledger: database DSN required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("ledger: migrate schema: %w", err)
	}
	return New(db, opts...), nil
}

// DB exposes the underlying handle for read-only consumers such as the
// audit exporter.
func (s *Store) DB() *gorm.DB { return s.db }

// Now returns the store's current time in UTC.
func (s *Store) Now() time.Time { return s.now().UTC() }

// transact runs fn in a transaction, replaying it a bounded number of times
// when the database reports a serialization conflict.
func (s *Store) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < serializationRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		s.log.Warn("ledger transaction serialization conflict, retrying",
			slog.Int("attempt", attempt+1))
	}
	return err
}

func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "could not serialize") ||
		strings.Contains(msg, "deadlock detected")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

// appendAudit inserts one append-only audit row. The chain hash commits the
// row to its predecessor so exports can detect tampering.
func (s *Store) appendAudit(tx *gorm.DB, address string, delta currency.SignedWinc, reason models.ChangeReason, changeID string) error {
	// Under read committed two transactions can read the same head and both
	// chain onto it, leaving a fork. The advisory lock holds until commit,
	// so concurrent appenders queue and each sees the latest head.
	if tx.Dialector.Name() == "postgres" {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", auditChainLockID).Error; err != nil {
			return fmt.Errorf("ledger: lock audit chain: %w", err)
		}
	}
	var prev models.AuditLog
	prevHash := ""
	err := tx.Order("audit_id DESC").Limit(1).First(&prev).Error
	switch {
	case err == nil:
		prevHash = prev.ChainHash
	case errors.Is(err, gorm.ErrRecordNotFound):
		// genesis row
	default:
		return fmt.Errorf("ledger: read audit head: %w", err)
	}
	when := s.Now()
	payload := strings.Join([]string{
		prevHash, address, delta.String(), string(reason), changeID,
		when.Format(time.RFC3339Nano),
	}, "|")
	sum := blake3.Sum256([]byte(payload))
	entry := models.AuditLog{
		UserAddress:  address,
		WincDelta:    delta,
		ChangeReason: reason,
		ChangeID:     changeID,
		ChainHash:    hex.EncodeToString(sum[:]),
		AuditDate:    when,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("ledger: append audit: %w", err)
	}
	if s.metrics != nil {
		s.metrics.AuditRows.WithLabelValues(string(reason)).Inc()
	}
	return nil
}

// lockUser loads the user row under a row lock, returning ErrUserNotFound
// when absent.
func lockUser(tx *gorm.DB, address string) (*models.User, error) {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, "address = ?", address).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ledger: load user %s: %w", address, err)
	}
	return &user, nil
}

// creditUser adds amount to the address, creating the user when absent. The
// audit reason switches to creationReason when the credit creates the row.
func (s *Store) creditUser(tx *gorm.DB, address string, addressType models.AddressType, amount currency.Winc, reason, creationReason models.ChangeReason, changeID string) error {
	user, err := lockUser(tx, address)
	if errors.Is(err, ErrUserNotFound) {
		user = &models.User{
			Address:         address,
			AddressType:     addressType,
			WincBalance:     currency.SignedFromWinc(amount, false),
			PromotionalInfo: "{}",
			CreatedAt:       s.Now(),
			UpdatedAt:       s.Now(),
		}
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("ledger: create user %s: %w", address, err)
		}
		return s.appendAudit(tx, address, currency.SignedFromWinc(amount, false), creationReason, changeID)
	}
	if err != nil {
		return err
	}
	updated := user.WincBalance.AddWinc(amount)
	if err := tx.Model(&models.User{}).Where("address = ?", address).
		Updates(map[string]any{"winc_balance": updated, "updated_at": s.Now()}).Error; err != nil {
		return fmt.Errorf("ledger: credit user %s: %w", address, err)
	}
	return s.appendAudit(tx, address, currency.SignedFromWinc(amount, false), reason, changeID)
}

// debitUser removes amount from the address. A reservation debit never
// overdraws; chargebacks pass allowNegative and may push the balance below
// zero, which the audit row records.
func (s *Store) debitUser(tx *gorm.DB, address string, amount currency.Winc, allowNegative bool, reason models.ChangeReason, changeID string) error {
	user, err := lockUser(tx, address)
	if err != nil {
		return err
	}
	remaining := user.WincBalance.SubWinc(amount)
	if remaining.Sign() < 0 {
		if !allowNegative {
			return &InsufficientBalanceError{
				Address:         address,
				RequestedAmount: amount,
				OwnBalance:      user.WincBalance.NonNegative(),
			}
		}
		s.log.Warn("balance overdrawn",
			slog.String("address", address),
			slog.String("balance", remaining.String()),
			slog.String("reason", string(reason)))
	}
	if err := tx.Model(&models.User{}).Where("address = ?", address).
		Updates(map[string]any{"winc_balance": remaining, "updated_at": s.Now()}).Error; err != nil {
		return fmt.Errorf("ledger: debit user %s: %w", address, err)
	}
	return s.appendAudit(tx, address, currency.SignedFromWinc(amount, true), reason, changeID)
}

// refundUser returns amount to an account that was debited earlier, reusing
// the stored address type. A missing row means the books are corrupt, so the
// refund fails instead of creating an untyped user.
func (s *Store) refundUser(tx *gorm.DB, address string, amount currency.Winc, reason models.ChangeReason, changeID string) error {
	user, err := lockUser(tx, address)
	if err != nil {
		return err
	}
	return s.creditUser(tx, address, user.AddressType, amount, reason, reason, changeID)
}

// GetUser loads a user without locking.
func (s *Store) GetUser(ctx context.Context, address string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "address = ?", address).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("ledger: load user %s: %w", address, err)
	}
	return &user, nil
}

// AddCreditsToAddress is the admin path that grants winc without a payment,
// auditing the bypass.
func (s *Store) AddCreditsToAddress(ctx context.Context, address string, addressType models.AddressType, amount currency.Winc) error {
	if strings.TrimSpace(address) == "" || amount.IsZero() {
		return fmt.Errorf("%w: address and amount required", ErrBadRequest)
	}
	return s.transact(ctx, func(tx *gorm.DB) error {
		return s.creditUser(tx, address, addressType, amount,
			models.ReasonBypassedPayment, models.ReasonBypassedAccountCreation, "")
	})
}

// AuditEntries returns committed audit rows inside [from, to), oldest first.
func (s *Store) AuditEntries(ctx context.Context, from, to time.Time) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("audit_date >= ? AND audit_date < ?", from.UTC(), to.UTC()).
		Order("audit_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: query audit entries: %w", err)
	}
	return rows, nil
}

// AuditSum folds the signed deltas recorded for an address. Against a
// committed database it equals the stored balance for every chain user.
func (s *Store) AuditSum(ctx context.Context, address string) (currency.SignedWinc, error) {
	var rows []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("user_address = ?", address).
		Order("audit_id ASC").
		Find(&rows).Error
	if err != nil {
		return currency.SignedWinc{}, fmt.Errorf("ledger: query audit for %s: %w", address, err)
	}
	sum := currency.NewSignedWinc(0)
	for _, row := range rows {
		sum = sum.Add(row.WincDelta)
	}
	return sum, nil
}
