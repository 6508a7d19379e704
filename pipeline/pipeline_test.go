package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wincledger/currency"
	"wincledger/gateway"
	"wincledger/ledger"
	"wincledger/ledger/models"
)

type fakeSource struct {
	status   gateway.Status
	stErr    error
	info     *gateway.TransactionInfo
	infoErr  error
	endpoint string
}

func (f *fakeSource) GetTransaction(ctx context.Context, txID string) (*gateway.TransactionInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeSource) GetTransactionStatus(ctx context.Context, txID string) (gateway.Status, error) {
	return f.status, f.stErr
}

func (f *fakeSource) Endpoint() string { return f.endpoint }

func openTestStore(t *testing.T, opts ...ledger.Option) *ledger.Store {
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
	return ledger.New(db, opts...)
}

func seedPending(t *testing.T, store *ledger.Store, txID string) {
	t.Helper()
	if _, err := store.CreatePendingTransaction(context.Background(), ledger.CreatePendingTransactionParams{
		TxID:                   txID,
		TokenType:              models.TokenEthereum,
		Quantity:               currency.NewWinc(100),
		WincAmount:             currency.NewWinc(500),
		DestinationAddress:     "0xDEST",
		DestinationAddressType: models.AddressEthereum,
	}, nil); err != nil {
		t.Fatalf("seed pending: %v", err)
	}
}

func expectStatus(t *testing.T, store *ledger.Store, txID string, want ledger.TransactionStatus) {
	t.Helper()
	status, err := store.GetTransactionStatus(context.Background(), txID, models.TokenEthereum)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != want {
		t.Fatalf("expected %s, got %s", want, status)
	}
}

func TestRunOnceCreditsConfirmed(t *testing.T) {
	current := time.Now().UTC()
	store := openTestStore(t, ledger.WithClock(func() time.Time { return current }))
	seedPending(t, store, "TX_OK")
	current = current.Add(time.Minute)

	sources := gateway.Registry{
		models.TokenEthereum: &fakeSource{
			status: gateway.Status{State: gateway.StateConfirmed, BlockHeight: 777},
		},
	}
	worker := New(store, sources, Config{}, nil)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	expectStatus(t, store, "TX_OK", ledger.StatusCredited)
	balance, err := store.GetBalance(context.Background(), "0xDEST")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if !balance.Winc.Equal(currency.NewWinc(500)) {
		t.Fatalf("expected 500, got %s", balance.Winc)
	}
}

func TestRunOnceVerifiesSink(t *testing.T) {
	current := time.Now().UTC()
	store := openTestStore(t, ledger.WithClock(func() time.Time { return current }))
	seedPending(t, store, "TX_SINK")
	current = current.Add(time.Minute)

	sources := gateway.Registry{
		models.TokenEthereum: &fakeSource{
			status: gateway.Status{State: gateway.StateConfirmed, BlockHeight: 777},
			info: &gateway.TransactionInfo{
				RecipientAddress: "0x00000000000000000000000000000000000000FF",
			},
		},
	}
	worker := New(store, sources, Config{
		Sinks: map[models.TokenType]string{
			models.TokenEthereum: "0x00000000000000000000000000000000000000AA",
		},
	}, nil)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	expectStatus(t, store, "TX_SINK", ledger.StatusFailed)
}

func TestRunOnceSinkMatchIsCaseInsensitive(t *testing.T) {
	current := time.Now().UTC()
	store := openTestStore(t, ledger.WithClock(func() time.Time { return current }))
	seedPending(t, store, "TX_CASE")
	current = current.Add(time.Minute)

	sources := gateway.Registry{
		models.TokenEthereum: &fakeSource{
			status: gateway.Status{State: gateway.StateConfirmed, BlockHeight: 777},
			info: &gateway.TransactionInfo{
				RecipientAddress: "0x00000000000000000000000000000000000000aa",
			},
		},
	}
	worker := New(store, sources, Config{
		Sinks: map[models.TokenType]string{
			models.TokenEthereum: "0x00000000000000000000000000000000000000AA",
		},
	}, nil)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	expectStatus(t, store, "TX_CASE", ledger.StatusCredited)
}

func TestRunOnceLeavesPendingChain(t *testing.T) {
	current := time.Now().UTC()
	store := openTestStore(t, ledger.WithClock(func() time.Time { return current }))
	seedPending(t, store, "TX_WAIT")
	current = current.Add(time.Minute)

	sources := gateway.Registry{
		models.TokenEthereum: &fakeSource{status: gateway.Status{State: gateway.StatePending}},
	}
	worker := New(store, sources, Config{}, nil)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	expectStatus(t, store, "TX_WAIT", ledger.StatusPending)
}

func TestRunOnceRespectsSettleAge(t *testing.T) {
	current := time.Now().UTC()
	store := openTestStore(t, ledger.WithClock(func() time.Time { return current }))
	seedPending(t, store, "TX_YOUNG")

	// The row is brand new, so the batch must not query the chain yet.
	sources := gateway.Registry{
		models.TokenEthereum: &fakeSource{
			status: gateway.Status{State: gateway.StateConfirmed, BlockHeight: 1},
		},
	}
	worker := New(store, sources, Config{}, nil)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	expectStatus(t, store, "TX_YOUNG", ledger.StatusPending)
}

func TestRunOnceFailsNeverObserved(t *testing.T) {
	current := time.Now().UTC()
	store := openTestStore(t, ledger.WithClock(func() time.Time { return current }))
	seedPending(t, store, "TX_GHOST")
	current = current.Add(time.Hour)

	sources := gateway.Registry{
		models.TokenEthereum: &fakeSource{status: gateway.Status{State: gateway.StateNotFound}},
	}
	worker := New(store, sources, Config{
		MaxLifetime: map[models.TokenType]time.Duration{models.TokenEthereum: 30 * time.Minute},
	}, nil)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	expectStatus(t, store, "TX_GHOST", ledger.StatusFailed)
}

func TestRunOnceNotFoundInsideLifetimeWaits(t *testing.T) {
	current := time.Now().UTC()
	store := openTestStore(t, ledger.WithClock(func() time.Time { return current }))
	seedPending(t, store, "TX_SLOW")
	current = current.Add(time.Minute)

	sources := gateway.Registry{
		models.TokenEthereum: &fakeSource{status: gateway.Status{State: gateway.StateNotFound}},
	}
	worker := New(store, sources, Config{}, nil)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	expectStatus(t, store, "TX_SLOW", ledger.StatusPending)
}

func TestRunOnceFailsNotMined(t *testing.T) {
	current := time.Now().UTC()
	store := openTestStore(t, ledger.WithClock(func() time.Time { return current }))
	seedPending(t, store, "TX_REVERT")
	current = current.Add(time.Minute)

	sources := gateway.Registry{
		models.TokenEthereum: &fakeSource{stErr: fmt.Errorf("wrapped: %w", gateway.ErrTransactionNotMined)},
	}
	worker := New(store, sources, Config{}, nil)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	expectStatus(t, store, "TX_REVERT", ledger.StatusFailed)
}

func TestRunOnceFailsUnroutableToken(t *testing.T) {
	current := time.Now().UTC()
	store := openTestStore(t, ledger.WithClock(func() time.Time { return current }))
	seedPending(t, store, "TX_NOWHERE")
	current = current.Add(time.Minute)

	worker := New(store, gateway.Registry{}, Config{}, nil)
	if err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	expectStatus(t, store, "TX_NOWHERE", ledger.StatusFailed)
}
