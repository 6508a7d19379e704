package auth

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	nonceKeyPrefix    = "nonce:"
	observedKeyPrefix = "observed:"
)

// NonceStore records nonce usage so a captured signature cannot be replayed.
type NonceStore interface {
	// Ensure records the (publicKey, nonce) pair and reports whether it
	// was already present.
	Ensure(ctx context.Context, publicKey, nonce string, observed time.Time) (bool, error)
	// Prune deletes pairs observed before the cutoff.
	Prune(ctx context.Context, cutoff time.Time) error
	Close() error
}

// LevelDBNonceStore persists nonce usage across restarts. Keys are written
// twice: once under the pair for lookups and once under the observation time
// for range pruning.
type LevelDBNonceStore struct {
	db *leveldb.DB
}

// NewLevelDBNonceStore opens (or creates) the database at path.
func NewLevelDBNonceStore(path string) (*LevelDBNonceStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("auth: nonce store path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("auth: resolve nonce store path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: open nonce store: %w", err)
	}
	return &LevelDBNonceStore{db: db}, nil
}

// Close releases the underlying database.
func (s *LevelDBNonceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ensure implements NonceStore.
func (s *LevelDBNonceStore) Ensure(ctx context.Context, publicKey, nonce string, observed time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("auth: nonce store not configured")
	}
	publicKey = strings.TrimSpace(publicKey)
	nonce = strings.TrimSpace(nonce)
	if publicKey == "" || nonce == "" {
		return false, fmt.Errorf("auth: public key and nonce required")
	}
	composite := publicKey + "|" + nonce
	pairKey := []byte(nonceKeyPrefix + composite)
	_, err := s.db.Get(pairKey, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, leveldb.ErrNotFound):
	default:
		return false, fmt.Errorf("auth: load nonce: %w", err)
	}
	nanos := observed.UTC().UnixNano()
	batch := new(leveldb.Batch)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	batch.Put(pairKey, buf)
	batch.Put([]byte(observedKey(nanos, composite)), nil)
	if err := s.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("auth: record nonce: %w", err)
	}
	return false, nil
}

// Prune implements NonceStore.
func (s *LevelDBNonceStore) Prune(ctx context.Context, cutoff time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("auth: nonce store not configured")
	}
	cutoffKey := []byte(observedKey(cutoff.UTC().UnixNano(), ""))
	iter := s.db.NewIterator(util.BytesPrefix([]byte(observedKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if string(iter.Key()) >= string(cutoffKey) {
			break
		}
		composite, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(nonceKeyPrefix + composite))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("auth: iterate nonces: %w", err)
	}
	if batch.Len() > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return fmt.Errorf("auth: prune nonces: %w", err)
		}
	}
	return nil
}

func observedKey(nanos int64, composite string) string {
	return fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, composite)
}

func parseObservedKey(key []byte) (string, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 {
		return "", false
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return "", false
	}
	return parts[2], true
}

// MemoryNonceStore is the in-process fallback used by tests and single-node
// deployments without a data directory.
type MemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryNonceStore builds an empty store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{seen: make(map[string]time.Time)}
}

// Ensure implements NonceStore.
func (m *MemoryNonceStore) Ensure(ctx context.Context, publicKey, nonce string, observed time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := publicKey + "|" + nonce
	if _, ok := m.seen[key]; ok {
		return true, nil
	}
	m.seen[key] = observed.UTC()
	return false, nil
}

// Prune implements NonceStore.
func (m *MemoryNonceStore) Prune(ctx context.Context, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, observed := range m.seen {
		if observed.Before(cutoff) {
			delete(m.seen, key)
		}
	}
	return nil
}

// Close implements NonceStore.
func (m *MemoryNonceStore) Close() error { return nil }
