package models

import (
	"time"

	"gorm.io/gorm"

	"wincledger/currency"
)

// AddressType identifies the native chain of a user address.
type AddressType string

// Supported address types.
const (
	AddressArweave  AddressType = "arweave"
	AddressArio     AddressType = "ario"
	AddressSolana   AddressType = "solana"
	AddressEd25519  AddressType = "ed25519"
	AddressEthereum AddressType = "ethereum"
	AddressKyve     AddressType = "kyve"
	AddressMatic    AddressType = "matic"
	AddressPol      AddressType = "pol"
	AddressBaseEth  AddressType = "base-eth"
	// AddressEmail is only valid as a top-up destination and routes the
	// credit through the gift tables.
	AddressEmail AddressType = "email"
)

// UserAddressTypes enumerates types that identify a chain wallet.
var UserAddressTypes = []AddressType{
	AddressArweave, AddressArio, AddressSolana, AddressEd25519,
	AddressEthereum, AddressKyve, AddressMatic, AddressPol, AddressBaseEth,
}

// IsUserAddressType reports whether t identifies a chain wallet rather than
// an email destination.
func IsUserAddressType(t AddressType) bool {
	for _, candidate := range UserAddressTypes {
		if t == candidate {
			return true
		}
	}
	return false
}

// TokenType identifies the settlement chain of a crypto payment.
type TokenType string

// Supported payment tokens.
const (
	TokenArweave  TokenType = "arweave"
	TokenArio     TokenType = "ario"
	TokenEthereum TokenType = "ethereum"
	TokenBaseEth  TokenType = "base-eth"
	TokenSolana   TokenType = "solana"
	TokenKyve     TokenType = "kyve"
	TokenMatic    TokenType = "matic"
	TokenPol      TokenType = "pol"
)

// ChangeReason labels an audit log entry.
type ChangeReason string

// All audit change reasons.
const (
	ReasonUpload                   ChangeReason = "upload"
	ReasonApprovedUpload           ChangeReason = "approved_upload"
	ReasonPayment                  ChangeReason = "payment"
	ReasonCryptoPayment            ChangeReason = "crypto_payment"
	ReasonBypassedPayment          ChangeReason = "bypassed_payment"
	ReasonAccountCreation          ChangeReason = "account_creation"
	ReasonBypassedAccountCreation  ChangeReason = "bypassed_account_creation"
	ReasonChargeback               ChangeReason = "chargeback"
	ReasonRefund                   ChangeReason = "refund"
	ReasonRefundedUpload           ChangeReason = "refunded_upload"
	ReasonGiftedPayment            ChangeReason = "gifted_payment"
	ReasonBypassedGiftedPayment    ChangeReason = "bypassed_gifted_payment"
	ReasonGiftedPaymentRedemption  ChangeReason = "gifted_payment_redemption"
	ReasonGiftedAccountCreation    ChangeReason = "gifted_account_creation"
	ReasonDelegatedPaymentApproval ChangeReason = "delegated_payment_approval"
	ReasonDelegatedPaymentRevoke   ChangeReason = "delegated_payment_revoke"
	ReasonDelegatedPaymentExpired  ChangeReason = "delegated_payment_expired"
	ReasonArNSAccountCreation      ChangeReason = "arns_account_creation"
	ReasonArNSPurchaseOrder        ChangeReason = "arns_purchase_order"
	ReasonApprovedArNSPurchase     ChangeReason = "approved_arns_purchase_order"
	ReasonArNSPurchaseFailed       ChangeReason = "arns_purchase_order_failed"
)

// InactiveReason explains why a delegated approval was archived.
type InactiveReason string

// Approval archive reasons.
const (
	InactiveExpired InactiveReason = "expired"
	InactiveUsed    InactiveReason = "used"
	InactiveRevoked InactiveReason = "revoked"
)

// User is a credited address. Balances are always non-negative except after
// chargebacks, which are permitted to overdraw and are flagged in audit.
// The signed column type exists solely for that overdraw case.
type User struct {
	Address         string              `gorm:"primaryKey;size:128"`
	AddressType     AddressType         `gorm:"size:16;not null"`
	WincBalance     currency.SignedWinc `gorm:"not null;default:'0'"`
	PromotionalInfo string              `gorm:"type:text;default:'{}'"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TopUpQuote is a promise to credit winc once a fiat payment settles. Rows
// are immutable; lifecycle transitions move them into the receipt or failed
// tables.
type TopUpQuote struct {
	QuoteID                string        `gorm:"primaryKey;size:64"`
	DestinationAddress     string        `gorm:"index;size:320;not null"`
	DestinationAddressType AddressType   `gorm:"size:16;not null"`
	PaymentAmount          int64         `gorm:"not null"`
	QuotedPaymentAmount    int64         `gorm:"not null"`
	CurrencyType           string        `gorm:"size:8;not null"`
	WincAmount             currency.Winc `gorm:"not null"`
	Provider               string        `gorm:"size:32;not null"`
	GiftMessage            string        `gorm:"type:text"`
	QuoteExpirationDate    time.Time     `gorm:"index;not null"`
	QuoteCreationDate      time.Time     `gorm:"not null"`
}

// PaymentReceipt records a settled top-up quote.
type PaymentReceipt struct {
	ReceiptID              string        `gorm:"primaryKey;size:64"`
	QuoteID                string        `gorm:"uniqueIndex;size:64;not null"`
	DestinationAddress     string        `gorm:"index;size:320;not null"`
	DestinationAddressType AddressType   `gorm:"size:16;not null"`
	PaymentAmount          int64         `gorm:"not null"`
	QuotedPaymentAmount    int64         `gorm:"not null"`
	CurrencyType           string        `gorm:"size:8;not null"`
	WincAmount             currency.Winc `gorm:"not null"`
	Provider               string        `gorm:"size:32;not null"`
	GiftMessage            string        `gorm:"type:text"`
	QuoteExpirationDate    time.Time     `gorm:"not null"`
	QuoteCreationDate      time.Time     `gorm:"not null"`
	ReceiptDate            time.Time     `gorm:"not null"`
}

// FailedTopUpQuote preserves quotes that expired or failed at the provider.
type FailedTopUpQuote struct {
	QuoteID                string        `gorm:"primaryKey;size:64"`
	DestinationAddress     string        `gorm:"index;size:320;not null"`
	DestinationAddressType AddressType   `gorm:"size:16;not null"`
	PaymentAmount          int64         `gorm:"not null"`
	QuotedPaymentAmount    int64         `gorm:"not null"`
	CurrencyType           string        `gorm:"size:8;not null"`
	WincAmount             currency.Winc `gorm:"not null"`
	Provider               string        `gorm:"size:32;not null"`
	QuoteExpirationDate    time.Time     `gorm:"not null"`
	QuoteCreationDate      time.Time     `gorm:"not null"`
	FailedReason           string        `gorm:"size:64;not null"`
	QuoteFailedDate        time.Time     `gorm:"not null"`
}

// ChargebackReceipt records a provider-initiated reversal of a receipt.
type ChargebackReceipt struct {
	ChargebackID           string        `gorm:"primaryKey;size:64"`
	ReceiptID              string        `gorm:"uniqueIndex;size:64;not null"`
	QuoteID                string        `gorm:"index;size:64;not null"`
	DestinationAddress     string        `gorm:"index;size:320;not null"`
	DestinationAddressType AddressType   `gorm:"size:16;not null"`
	PaymentAmount          int64         `gorm:"not null"`
	CurrencyType           string        `gorm:"size:8;not null"`
	WincAmount             currency.Winc `gorm:"not null"`
	Provider               string        `gorm:"size:32;not null"`
	ChargebackReason       string        `gorm:"size:128;not null"`
	ChargebackDate         time.Time     `gorm:"not null"`
}

// PendingPaymentTransaction is an observed crypto payment awaiting enough
// confirmations. (TxID, TokenType) is unique across pending, credited and
// failed rows combined.
type PendingPaymentTransaction struct {
	TxID                   string        `gorm:"primaryKey;size:128"`
	TokenType              TokenType     `gorm:"primaryKey;size:16"`
	Quantity               currency.Winc `gorm:"not null"`
	WincAmount             currency.Winc `gorm:"not null"`
	DestinationAddress     string        `gorm:"index;size:128;not null"`
	DestinationAddressType AddressType   `gorm:"size:16;not null"`
	CreatedDate            time.Time     `gorm:"index;not null"`
}

// CreditedPaymentTransaction is a pending transaction that settled.
type CreditedPaymentTransaction struct {
	TxID                   string        `gorm:"primaryKey;size:128"`
	TokenType              TokenType     `gorm:"primaryKey;size:16"`
	Quantity               currency.Winc `gorm:"not null"`
	WincAmount             currency.Winc `gorm:"not null"`
	DestinationAddress     string        `gorm:"index;size:128;not null"`
	DestinationAddressType AddressType   `gorm:"size:16;not null"`
	CreatedDate            time.Time     `gorm:"not null"`
	BlockHeight            int64         `gorm:"not null"`
	CreditedDate           time.Time     `gorm:"not null"`
}

// FailedPaymentTransaction is a pending transaction that will never settle.
type FailedPaymentTransaction struct {
	TxID                   string        `gorm:"primaryKey;size:128"`
	TokenType              TokenType     `gorm:"primaryKey;size:16"`
	Quantity               currency.Winc `gorm:"not null"`
	WincAmount             currency.Winc `gorm:"not null"`
	DestinationAddress     string        `gorm:"index;size:128;not null"`
	DestinationAddressType AddressType   `gorm:"size:16;not null"`
	CreatedDate            time.Time     `gorm:"not null"`
	FailedReason           string        `gorm:"size:64;not null"`
	FailedDate             time.Time     `gorm:"not null"`
}

// BalanceReservation holds winc against a future upload. OverflowSpends
// records which payers funded it and by how much.
type BalanceReservation struct {
	ReservationID      string          `gorm:"primaryKey;size:64"`
	DataItemID         string          `gorm:"uniqueIndex;size:64;not null"`
	UserAddress        string          `gorm:"index;size:128;not null"`
	UserAddressType    AddressType     `gorm:"size:16;not null;default:''"`
	ReservedWincAmount currency.Winc   `gorm:"not null"`
	NetworkWincAmount  currency.Winc   `gorm:"not null"`
	ReservedDate       time.Time       `gorm:"not null"`
	OverflowSpends     []OverflowSpend `gorm:"foreignKey:ReservationID"`
}

// OverflowSpend is one payer's contribution to a reservation.
type OverflowSpend struct {
	ID            uint          `gorm:"primaryKey;autoIncrement"`
	ReservationID string        `gorm:"index;size:64;not null"`
	PayingAddress string        `gorm:"size:128;not null"`
	WincAmount    currency.Winc `gorm:"not null"`
}

// RefundedReservation preserves reservations whose spend was returned.
type RefundedReservation struct {
	ReservationID      string        `gorm:"primaryKey;size:64"`
	DataItemID         string        `gorm:"uniqueIndex;size:64;not null"`
	UserAddress        string        `gorm:"index;size:128;not null"`
	UserAddressType    AddressType   `gorm:"size:16;not null;default:''"`
	ReservedWincAmount currency.Winc `gorm:"not null"`
	NetworkWincAmount  currency.Winc `gorm:"not null"`
	ReservedDate       time.Time     `gorm:"not null"`
	RefundedDate       time.Time     `gorm:"not null"`
}

// DelegatedPaymentApproval earmarks a payer's winc for another address.
// Invariant: UsedWincAmount <= ApprovedWincAmount.
type DelegatedPaymentApproval struct {
	ApprovalDataItemID string        `gorm:"primaryKey;size:64"`
	PayingAddress      string        `gorm:"index;size:128;not null"`
	ApprovedAddress    string        `gorm:"index;size:128;not null"`
	ApprovedWincAmount currency.Winc `gorm:"not null"`
	UsedWincAmount     currency.Winc `gorm:"not null;default:'0'"`
	CreationDate       time.Time     `gorm:"not null"`
	ExpirationDate     *time.Time    `gorm:"index"`
}

// InactiveDelegatedPaymentApproval archives consumed, revoked or expired
// approvals.
type InactiveDelegatedPaymentApproval struct {
	ApprovalDataItemID string         `gorm:"primaryKey;size:64"`
	PayingAddress      string         `gorm:"index;size:128;not null"`
	ApprovedAddress    string         `gorm:"index;size:128;not null"`
	ApprovedWincAmount currency.Winc  `gorm:"not null"`
	UsedWincAmount     currency.Winc  `gorm:"not null"`
	CreationDate       time.Time      `gorm:"not null"`
	ExpirationDate     *time.Time     ``
	InactiveReason     InactiveReason `gorm:"size:16;not null"`
	InactiveDate       time.Time      `gorm:"not null"`
	RevokeDataItemID   string         `gorm:"size:64"`
}

// AdjustmentOperator selects how a catalog rule changes a price.
type AdjustmentOperator string

// Catalog operators.
const (
	OperatorAdd      AdjustmentOperator = "add"
	OperatorMultiply AdjustmentOperator = "multiply"
)

// AdjustmentCatalog is a priceable promotional rule. Subtype-specific
// constraints live in the nullable columns.
type AdjustmentCatalog struct {
	CatalogID         string             `gorm:"primaryKey;size:64"`
	Name              string             `gorm:"size:128;not null"`
	Target            string             `gorm:"size:16;not null;index"` // upload | payment
	Operator          AdjustmentOperator `gorm:"size:16;not null"`
	OperatorMagnitude float64            `gorm:"not null"`
	Priority          int                `gorm:"not null;default:500"`
	StartDate         time.Time          `gorm:"not null"`
	EndDate           *time.Time         ``
	// Upload-specific: bytes below the threshold are not adjusted.
	ByteCountThreshold int64 `gorm:"default:0"`
	// Payment-specific: cap on winc granted per interval, exclusivity.
	WincLimitation int64  `gorm:"default:0"`
	Exclusive      bool   `gorm:"default:false"`
	PromoCode      string `gorm:"size:64;index"`
	SingleUse      bool   `gorm:"default:false"`
}

// AppliedUploadAdjustment records a catalog applied to a reservation.
type AppliedUploadAdjustment struct {
	ID             uint                `gorm:"primaryKey;autoIncrement"`
	CatalogID      string              `gorm:"index;size:64;not null"`
	ReservationID  string              `gorm:"index;size:64;not null"`
	UserAddress    string              `gorm:"index;size:128;not null"`
	AdjustedAmount currency.SignedWinc `gorm:"not null"`
	AppliedDate    time.Time           `gorm:"not null"`
}

// AppliedPaymentAdjustment records a catalog applied to a top-up quote.
type AppliedPaymentAdjustment struct {
	ID             uint                `gorm:"primaryKey;autoIncrement"`
	CatalogID      string              `gorm:"index;size:64;not null"`
	QuoteID        string              `gorm:"index;size:64;not null"`
	UserAddress    string              `gorm:"index;size:320;not null"`
	AdjustedAmount currency.SignedWinc `gorm:"not null"`
	AppliedDate    time.Time           `gorm:"not null"`
}

// UnredeemedGift ties an email-addressed receipt to a future redemption.
type UnredeemedGift struct {
	PaymentReceiptID string        `gorm:"primaryKey;size:64"`
	RecipientEmail   string        `gorm:"index;size:320;not null"`
	WincAmount       currency.Winc `gorm:"not null"`
	GiftMessage      string        `gorm:"type:text"`
	CreationDate     time.Time     `gorm:"not null"`
	ExpirationDate   time.Time     `gorm:"index;not null"`
}

// RedeemedGift records the address that claimed a gift.
type RedeemedGift struct {
	PaymentReceiptID   string        `gorm:"primaryKey;size:64"`
	RecipientEmail     string        `gorm:"size:320;not null"`
	WincAmount         currency.Winc `gorm:"not null"`
	GiftMessage        string        `gorm:"type:text"`
	CreationDate       time.Time     `gorm:"not null"`
	DestinationAddress string        `gorm:"index;size:128;not null"`
	RedemptionDate     time.Time     `gorm:"not null"`
}

// ArNSPurchaseStatus tracks the name purchase lifecycle.
type ArNSPurchaseStatus string

// ArNS purchase states.
const (
	ArNSQuote   ArNSPurchaseStatus = "quote"
	ArNSPending ArNSPurchaseStatus = "pending"
	ArNSSuccess ArNSPurchaseStatus = "success"
	ArNSFailed  ArNSPurchaseStatus = "failed"
)

// ArNSPurchase tracks a name-service purchase paid in winc.
type ArNSPurchase struct {
	PurchaseID       string             `gorm:"primaryKey;size:64"`
	Name             string             `gorm:"index;size:64;not null"`
	Intent           string             `gorm:"size:32;not null"` // Buy-Name | Extend-Lease | ...
	OwnerAddress     string             `gorm:"index;size:128;not null"`
	OwnerAddressType AddressType        `gorm:"size:16;not null;default:''"`
	WincAmount       currency.Winc      `gorm:"not null"`
	MARIOAmount      int64              `gorm:"not null"`
	Status           ArNSPurchaseStatus `gorm:"size:16;index;not null"`
	MessageID        string             `gorm:"size:64"`
	FailedReason     string             `gorm:"size:128"`
	CreatedDate      time.Time          `gorm:"not null"`
	UpdatedDate      time.Time          `gorm:"not null"`
}

// AuditLog is the append-only signed-delta trail. The running sum of deltas
// per user equals that user's balance. Rows are never updated or deleted.
// ChainHash is blake3(previous chain hash || row payload) and makes exports
// tamper-evident.
type AuditLog struct {
	AuditID      uint64              `gorm:"primaryKey;autoIncrement"`
	UserAddress  string              `gorm:"index;size:320;not null"`
	WincDelta    currency.SignedWinc `gorm:"not null"`
	ChangeReason ChangeReason        `gorm:"size:40;not null"`
	ChangeID     string              `gorm:"size:128"`
	ChainHash    string              `gorm:"size:64;not null"`
	AuditDate    time.Time           `gorm:"index;not null"`
}

// AutoMigrate performs all schema migrations for the ledger.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&TopUpQuote{},
		&PaymentReceipt{},
		&FailedTopUpQuote{},
		&ChargebackReceipt{},
		&PendingPaymentTransaction{},
		&CreditedPaymentTransaction{},
		&FailedPaymentTransaction{},
		&BalanceReservation{},
		&OverflowSpend{},
		&RefundedReservation{},
		&DelegatedPaymentApproval{},
		&InactiveDelegatedPaymentApproval{},
		&AdjustmentCatalog{},
		&AppliedUploadAdjustment{},
		&AppliedPaymentAdjustment{},
		&UnredeemedGift{},
		&RedeemedGift{},
		&ArNSPurchase{},
		&AuditLog{},
	)
}
