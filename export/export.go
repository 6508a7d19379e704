// Package export materialises audit windows as CSV and Parquet files for
// offline reconciliation. Exports also walk the audit chain hashes so a
// tampered window fails loudly instead of shipping.
package export

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"lukechampine.com/blake3"

	"wincledger/ledger"
	"wincledger/ledger/models"
)

// ErrChainBroken indicates a row's chain hash does not commit to its
// predecessor.
var ErrChainBroken = errors.New("export: audit chain hash mismatch")

// Config tunes an exporter.
type Config struct {
	// OutputDir receives one subdirectory per exported window.
	OutputDir string
}

// Result references the artefacts one run produced.
type Result struct {
	From        time.Time
	To          time.Time
	Rows        int
	CSVPath     string
	ParquetPath string
}

// Exporter writes audit windows to disk.
type Exporter struct {
	store     *ledger.Store
	outputDir string
	log       *slog.Logger
}

// New builds an exporter over the ledger store.
func New(store *ledger.Store, cfg Config, log *slog.Logger) *Exporter {
	outputDir := strings.TrimSpace(cfg.OutputDir)
	if outputDir == "" {
		outputDir = filepath.Join("wincledger-data", "audit-exports")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{store: store, outputDir: outputDir, log: log}
}

// Run exports the audit rows inside [from, to).
func (e *Exporter) Run(ctx context.Context, from, to time.Time) (*Result, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("export: window end must follow start")
	}
	rows, err := e.store.AuditEntries(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if err := verifyChain(rows); err != nil {
		return nil, err
	}

	runDir := filepath.Join(e.outputDir,
		fmt.Sprintf("%s_%s", from.UTC().Format("20060102T150405"), to.UTC().Format("20060102T150405")))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("export: ensure output dir: %w", err)
	}
	csvPath := filepath.Join(runDir, "audit.csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return nil, err
	}
	parquetPath := filepath.Join(runDir, "audit.parquet")
	if err := writeParquet(parquetPath, rows); err != nil {
		return nil, err
	}
	e.log.Info("exported audit window",
		slog.Time("from", from),
		slog.Time("to", to),
		slog.Int("rows", len(rows)),
		slog.String("dir", runDir))
	return &Result{
		From:        from,
		To:          to,
		Rows:        len(rows),
		CSVPath:     csvPath,
		ParquetPath: parquetPath,
	}, nil
}

// verifyChain recomputes every hash against its predecessor. The window's
// first row verifies against the hash it carries forward, so partial windows
// only check internal consistency.
func verifyChain(rows []models.AuditLog) error {
	for i := 1; i < len(rows); i++ {
		prev, row := rows[i-1], rows[i]
		payload := strings.Join([]string{
			prev.ChainHash, row.UserAddress, row.WincDelta.String(),
			string(row.ChangeReason), row.ChangeID,
			row.AuditDate.UTC().Format(time.RFC3339Nano),
		}, "|")
		sum := blake3.Sum256([]byte(payload))
		if hex.EncodeToString(sum[:]) != row.ChainHash {
			return fmt.Errorf("%w: audit row %d", ErrChainBroken, row.AuditID)
		}
	}
	return nil
}

func writeCSV(path string, rows []models.AuditLog) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{"audit_id", "user_address", "winc_delta", "change_reason", "change_id", "chain_hash", "audit_date"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			fmt.Sprintf("%d", row.AuditID),
			row.UserAddress,
			row.WincDelta.String(),
			string(row.ChangeReason),
			row.ChangeID,
			row.ChainHash,
			row.AuditDate.UTC().Format(time.RFC3339Nano),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	AuditID      int64  `parquet:"name=audit_id, type=INT64"`
	UserAddress  string `parquet:"name=user_address, type=BYTE_ARRAY, convertedtype=UTF8"`
	WincDelta    string `parquet:"name=winc_delta, type=BYTE_ARRAY, convertedtype=UTF8"`
	ChangeReason string `parquet:"name=change_reason, type=BYTE_ARRAY, convertedtype=UTF8"`
	ChangeID     string `parquet:"name=change_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ChainHash    string `parquet:"name=chain_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	AuditDate    string `parquet:"name=audit_date, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, rows []models.AuditLog) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			AuditID:      int64(row.AuditID),
			UserAddress:  row.UserAddress,
			WincDelta:    row.WincDelta.String(),
			ChangeReason: string(row.ChangeReason),
			ChangeID:     row.ChangeID,
			ChainHash:    row.ChainHash,
			AuditDate:    row.AuditDate.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}
