package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
)

// ArweaveSource reads AR transfers from an Arweave node. Status comes from
// the REST status endpoint; transaction detail comes from the GraphQL
// endpoint because it resolves the owner key to an address.
type ArweaveSource struct {
	endpoint         string
	minConfirmations int64
	http             *http.Client
}

// NewArweaveSource builds an adapter for the given node URL.
func NewArweaveSource(endpoint string, minConfirmations int64, client *http.Client) *ArweaveSource {
	if client == nil {
		client = defaultHTTPClient()
	}
	if minConfirmations <= 0 {
		minConfirmations = 18
	}
	return &ArweaveSource{
		endpoint:         strings.TrimRight(endpoint, "/"),
		minConfirmations: minConfirmations,
		http:             client,
	}
}

// Endpoint reports the node URL.
func (a *ArweaveSource) Endpoint() string { return a.endpoint }

type arweaveTxStatus struct {
	BlockHeight           int64  `json:"block_height"`
	BlockIndepHash        string `json:"block_indep_hash"`
	NumberOfConfirmations int64  `json:"number_of_confirmations"`
}

// GetTransactionStatus clamps the node's confirmation count against the
// configured threshold.
func (a *ArweaveSource) GetTransactionStatus(ctx context.Context, txID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/tx/%s/status", a.endpoint, txID), nil)
	if err != nil {
		return Status{}, fmt.Errorf("gateway: build arweave status request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("gateway: arweave status: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusAccepted:
		return Status{State: StateNotFound}, nil
	default:
		return Status{}, fmt.Errorf("gateway: arweave status returned %d", resp.StatusCode)
	}
	var status arweaveTxStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		// The node answers "Pending" as plain text before the tx mines.
		return Status{State: StatePending}, nil
	}
	if status.NumberOfConfirmations >= a.minConfirmations {
		return Status{State: StateConfirmed, BlockHeight: status.BlockHeight}, nil
	}
	return Status{State: StatePending}, nil
}

const arweaveTxQuery = `query($id: ID!) {
  transaction(id: $id) {
    recipient
    owner { address }
    quantity { winston }
  }
}`

type arweaveGraphQLResponse struct {
	Data struct {
		Transaction *struct {
			Recipient string `json:"recipient"`
			Owner     struct {
				Address string `json:"address"`
			} `json:"owner"`
			Quantity struct {
				Winston string `json:"winston"`
			} `json:"quantity"`
		} `json:"transaction"`
	} `json:"data"`
}

// GetTransaction resolves sender, recipient and winston quantity via
// GraphQL.
func (a *ArweaveSource) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	body, err := json.Marshal(map[string]any{
		"query":     arweaveTxQuery,
		"variables": map[string]string{"id": txID},
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal arweave query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.endpoint+"/graphql", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build arweave query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: arweave query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway: arweave query returned %d", resp.StatusCode)
	}
	var parsed arweaveGraphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("gateway: decode arweave query: %w", err)
	}
	tx := parsed.Data.Transaction
	if tx == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	quantity, ok := new(big.Int).SetString(tx.Quantity.Winston, 10)
	if !ok || quantity.Sign() <= 0 {
		return nil, fmt.Errorf("%w: zero winston quantity", ErrNotAPaymentTransaction)
	}
	return &TransactionInfo{
		Quantity:         quantity,
		SenderAddress:    tx.Owner.Address,
		RecipientAddress: tx.Recipient,
	}, nil
}
