package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
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

func openTestStore(t *testing.T) *ledger.Store {
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
	return ledger.New(db)
}

func TestRunExportsWindow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AddCreditsToAddress(ctx, "ADDR_A", models.AddressArweave, currency.NewWinc(100)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.AddCreditsToAddress(ctx, "ADDR_B", models.AddressSolana, currency.NewWinc(200)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	exporter := New(store, Config{OutputDir: t.TempDir()}, nil)
	result, err := exporter.Run(ctx, time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Rows != 2 {
		t.Fatalf("expected 2 rows, got %d", result.Rows)
	}

	file, err := os.Open(result.CSVPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// Header plus one record per audit row.
	if len(records) != 3 {
		t.Fatalf("expected 3 csv records, got %d", len(records))
	}
	if records[0][0] != "audit_id" {
		t.Fatalf("unexpected header %v", records[0])
	}
	if records[1][1] != "ADDR_A" || records[1][2] != "100" {
		t.Fatalf("unexpected first row %v", records[1])
	}

	info, err := os.Stat(result.ParquetPath)
	if err != nil {
		t.Fatalf("stat parquet: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("parquet file is empty")
	}
}

func TestRunRejectsEmptyWindow(t *testing.T) {
	store := openTestStore(t)
	exporter := New(store, Config{OutputDir: t.TempDir()}, nil)
	now := time.Now().UTC()
	if _, err := exporter.Run(context.Background(), now, now); err == nil {
		t.Fatalf("expected error for empty window")
	}
}

func TestRunDetectsTamperedChain(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.AddCreditsToAddress(ctx, "ADDR_A", models.AddressArweave, currency.NewWinc(100)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.AddCreditsToAddress(ctx, "ADDR_A", models.AddressArweave, currency.NewWinc(50)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Rewrite the second row's delta without recomputing its hash.
	if err := store.DB().Model(&models.AuditLog{}).
		Where("audit_id = ?", 2).
		Update("winc_delta", currency.NewSignedWinc(999)).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}

	exporter := New(store, Config{OutputDir: t.TempDir()}, nil)
	_, err := exporter.Run(ctx, time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	if !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected chain broken, got %v", err)
	}
}
