package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// SolanaSource reads SOL transfers through the JSON-RPC interface.
// Finalized commitment counts as confirmed; confirmed commitment stays
// pending until finality.
type SolanaSource struct {
	endpoint string
	http     *http.Client
}

// NewSolanaSource builds an adapter for the given RPC URL.
func NewSolanaSource(endpoint string, client *http.Client) *SolanaSource {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &SolanaSource{endpoint: strings.TrimRight(endpoint, "/"), http: client}
}

// Endpoint reports the RPC URL.
func (s *SolanaSource) Endpoint() string { return s.endpoint }

// ValidSolanaAddress reports whether the address is a 32-byte base58 key.
func ValidSolanaAddress(address string) bool {
	decoded := base58.Decode(address)
	return len(decoded) == 32
}

type solanaRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type solanaTxResponse struct {
	Result *struct {
		Slot int64 `json:"slot"`
		Meta *struct {
			Err          any     `json:"err"`
			PreBalances  []int64 `json:"preBalances"`
			PostBalances []int64 `json:"postBalances"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	} `json:"result"`
}

func (s *SolanaSource) getTransaction(ctx context.Context, txID, commitment string) (*solanaTxResponse, error) {
	payload := solanaRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []any{txID, map[string]any{
			"commitment":                     commitment,
			"maxSupportedTransactionVersion": 0,
			"encoding":                       "json",
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal solana request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build solana request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: solana rpc: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway: solana rpc returned %d", resp.StatusCode)
	}
	var parsed solanaTxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("gateway: decode solana response: %w", err)
	}
	return &parsed, nil
}

// GetTransaction resolves the transfer using finalized commitment. The
// quantity is the recipient's lamport balance delta.
func (s *SolanaSource) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	parsed, err := s.getTransaction(ctx, txID, "finalized")
	if err != nil {
		return nil, err
	}
	result := parsed.Result
	if result == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	meta := result.Meta
	if meta == nil {
		return nil, fmt.Errorf("%w: %s missing meta", ErrTransactionNotFound, txID)
	}
	if meta.Err != nil {
		return nil, fmt.Errorf("%w: solana tx errored", ErrTransactionNotMined)
	}
	keys := result.Transaction.Message.AccountKeys
	if len(keys) < 2 || len(meta.PreBalances) < 2 || len(meta.PostBalances) < 2 {
		return nil, fmt.Errorf("%w: not a transfer shape", ErrNotAPaymentTransaction)
	}
	lamports := meta.PostBalances[1] - meta.PreBalances[1]
	if lamports <= 0 {
		return nil, fmt.Errorf("%w: no lamport delta", ErrNotAPaymentTransaction)
	}
	return &TransactionInfo{
		Quantity:         big.NewInt(lamports),
		SenderAddress:    keys[0],
		RecipientAddress: keys[1],
	}, nil
}

// GetTransactionStatus maps commitments onto the tri-state: finalized is
// confirmed, confirmed-but-not-finalized is pending, absent is not found.
func (s *SolanaSource) GetTransactionStatus(ctx context.Context, txID string) (Status, error) {
	finalized, err := s.getTransaction(ctx, txID, "finalized")
	if err != nil {
		return Status{}, err
	}
	if finalized.Result != nil {
		if finalized.Result.Meta != nil && finalized.Result.Meta.Err != nil {
			return Status{}, fmt.Errorf("%w: solana tx errored", ErrTransactionNotMined)
		}
		return Status{State: StateConfirmed, BlockHeight: finalized.Result.Slot}, nil
	}
	confirmed, err := s.getTransaction(ctx, txID, "confirmed")
	if err != nil {
		return Status{}, err
	}
	if confirmed.Result != nil {
		return Status{State: StatePending}, nil
	}
	return Status{State: StateNotFound}, nil
}
