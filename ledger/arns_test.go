package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"wincledger/ledger/models"
)

func TestArNSPurchaseLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AddCreditsToAddress(ctx, "OWNER", models.AddressArweave, mustWinc(t, 500)); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	purchase, err := store.CreateArNSPurchaseQuote(ctx, CreateArNSPurchaseParams{
		Name:             "hot-name",
		Intent:           "Buy-Name",
		OwnerAddress:     "OWNER",
		OwnerAddressType: models.AddressArweave,
		WincAmount:       mustWinc(t, 300),
		MARIOAmount:      42,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if purchase.Status != models.ArNSQuote {
		t.Fatalf("expected quote status, got %s", purchase.Status)
	}

	// The quote holds nothing; the debit lands at the pending transition.
	balance, err := store.GetBalance(ctx, "OWNER")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Winc.Equal(mustWinc(t, 500)) {
		t.Fatalf("expected untouched 500 after quote, got %s", balance.Winc)
	}

	if err := store.PendArNSPurchase(ctx, purchase.PurchaseID, "MSG_1", nil); err != nil {
		t.Fatalf("pend: %v", err)
	}
	balance, err = store.GetBalance(ctx, "OWNER")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Winc.Equal(mustWinc(t, 200)) {
		t.Fatalf("expected 200 after pend, got %s", balance.Winc)
	}
	pending, err := store.GetArNSPurchase(ctx, purchase.PurchaseID)
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if pending.Status != models.ArNSPending || pending.MessageID != "MSG_1" {
		t.Fatalf("unexpected pending row %s / %q", pending.Status, pending.MessageID)
	}

	// Pending is the only state that settles; a second pend is rejected.
	if err := store.PendArNSPurchase(ctx, purchase.PurchaseID, "MSG_2", nil); !errors.Is(err, ErrPurchaseState) {
		t.Fatalf("expected purchase state error, got %v", err)
	}

	if err := store.SucceedArNSPurchase(ctx, purchase.PurchaseID); err != nil {
		t.Fatalf("succeed: %v", err)
	}
	settled, err := store.GetArNSPurchase(ctx, purchase.PurchaseID)
	if err != nil {
		t.Fatalf("load settled: %v", err)
	}
	if settled.Status != models.ArNSSuccess {
		t.Fatalf("expected success status, got %s", settled.Status)
	}
	// Settlement moves no funds.
	balance, err = store.GetBalance(ctx, "OWNER")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Winc.Equal(mustWinc(t, 200)) {
		t.Fatalf("expected 200 after settle, got %s", balance.Winc)
	}
	assertBalanceMatchesAudit(t, store, "OWNER")

	// A settled purchase can neither succeed again nor fail.
	if err := store.SucceedArNSPurchase(ctx, purchase.PurchaseID); !errors.Is(err, ErrPurchaseState) {
		t.Fatalf("expected purchase state error, got %v", err)
	}
	if err := store.FailArNSPurchase(ctx, purchase.PurchaseID, "late"); !errors.Is(err, ErrPurchaseState) {
		t.Fatalf("expected purchase state error, got %v", err)
	}
}

func TestArNSPurchaseUnknownAndInvalid(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateArNSPurchaseQuote(ctx, CreateArNSPurchaseParams{
		Name:         " ",
		OwnerAddress: "OWNER",
		WincAmount:   mustWinc(t, 1),
	}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request for blank name, got %v", err)
	}
	if err := store.PendArNSPurchase(ctx, "NOPE", "MSG", nil); !errors.Is(err, ErrPurchaseNotFound) {
		t.Fatalf("expected purchase not found, got %v", err)
	}
	if err := store.SucceedArNSPurchase(ctx, "NOPE"); !errors.Is(err, ErrPurchaseNotFound) {
		t.Fatalf("expected purchase not found, got %v", err)
	}
	if err := store.FailArNSPurchase(ctx, "NOPE", "gone"); !errors.Is(err, ErrPurchaseNotFound) {
		t.Fatalf("expected purchase not found, got %v", err)
	}
}

func TestPendArNSPurchaseInsufficientBalanceKeepsQuote(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AddCreditsToAddress(ctx, "OWNER", models.AddressArweave, mustWinc(t, 100)); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	purchase, err := store.CreateArNSPurchaseQuote(ctx, CreateArNSPurchaseParams{
		Name:             "pricey-name",
		Intent:           "Buy-Name",
		OwnerAddress:     "OWNER",
		OwnerAddressType: models.AddressArweave,
		WincAmount:       mustWinc(t, 300),
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if err := store.PendArNSPurchase(ctx, purchase.PurchaseID, "MSG", nil); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	// The failed transition rolls back whole, leaving the quote reusable.
	row, err := store.GetArNSPurchase(ctx, purchase.PurchaseID)
	if err != nil {
		t.Fatalf("load purchase: %v", err)
	}
	if row.Status != models.ArNSQuote {
		t.Fatalf("expected quote status after rollback, got %s", row.Status)
	}
	balance, err := store.GetBalance(ctx, "OWNER")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Winc.Equal(mustWinc(t, 100)) {
		t.Fatalf("expected untouched 100, got %s", balance.Winc)
	}
}

func TestFailArNSPurchaseRefundsApprovalFundedOwner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// The owner has no user row; the purchase is funded entirely through an
	// approval the payer granted.
	if err := store.AddCreditsToAddress(ctx, "PAYER", models.AddressArweave, mustWinc(t, 500)); err != nil {
		t.Fatalf("seed payer: %v", err)
	}
	if _, err := store.CreateDelegatedPaymentApproval(ctx, CreateApprovalParams{
		ApprovalDataItemID: "APPR_ARNS",
		PayingAddress:      "PAYER",
		ApprovedAddress:    "OWNER",
		ApprovedWincAmount: mustWinc(t, 300),
	}); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	purchase, err := store.CreateArNSPurchaseQuote(ctx, CreateArNSPurchaseParams{
		Name:             "gift-name",
		Intent:           "Buy-Name",
		OwnerAddress:     "OWNER",
		OwnerAddressType: models.AddressArweave,
		WincAmount:       mustWinc(t, 300),
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if err := store.PendArNSPurchase(ctx, purchase.PurchaseID, "MSG_A", []string{"PAYER"}); err != nil {
		t.Fatalf("pend: %v", err)
	}
	// Fully approval-funded pends still leave an owner audit trace.
	rows, err := store.AuditEntries(ctx, time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("audit entries: %v", err)
	}
	sawOwnerTrace := false
	for _, row := range rows {
		if row.UserAddress == "OWNER" && row.ChangeReason == models.ReasonApprovedArNSPurchase {
			if row.WincDelta.String() != "0" {
				t.Fatalf("expected zero delta on owner trace, got %s", row.WincDelta)
			}
			sawOwnerTrace = true
		}
	}
	if !sawOwnerTrace {
		t.Fatalf("expected approved purchase audit row for owner")
	}

	if err := store.FailArNSPurchase(ctx, purchase.PurchaseID, "ao rejected"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	failed, err := store.GetArNSPurchase(ctx, purchase.PurchaseID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if failed.Status != models.ArNSFailed || failed.FailedReason != "ao rejected" {
		t.Fatalf("unexpected failed row %s / %q", failed.Status, failed.FailedReason)
	}

	// The refund creates the owner with the type the quote recorded.
	user, err := store.GetUser(ctx, "OWNER")
	if err != nil {
		t.Fatalf("load owner: %v", err)
	}
	if user.AddressType != models.AddressArweave {
		t.Fatalf("expected arweave address type, got %q", user.AddressType)
	}
	if user.WincBalance.String() != "300" {
		t.Fatalf("expected 300 refunded, got %s", user.WincBalance)
	}
	assertBalanceMatchesAudit(t, store, "OWNER")

	// A failed purchase stays failed.
	if err := store.FailArNSPurchase(ctx, purchase.PurchaseID, "again"); !errors.Is(err, ErrPurchaseState) {
		t.Fatalf("expected purchase state error, got %v", err)
	}
}
