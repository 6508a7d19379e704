package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
)

// kyveDenoms are the transfer denominations accepted as payments. The list
// is deliberately closed; other denoms classify as non-payments.
var kyveDenoms = map[string]struct{}{
	"ukyve": {},
	"tkyve": {},
}

// KyveSource reads MsgSend transfers from a Kyve (Cosmos SDK) REST
// endpoint.
type KyveSource struct {
	endpoint         string
	minConfirmations int64
	http             *http.Client
}

// NewKyveSource builds an adapter for the given REST URL.
func NewKyveSource(endpoint string, minConfirmations int64, client *http.Client) *KyveSource {
	if client == nil {
		client = defaultHTTPClient()
	}
	if minConfirmations <= 0 {
		minConfirmations = 1
	}
	return &KyveSource{
		endpoint:         strings.TrimRight(endpoint, "/"),
		minConfirmations: minConfirmations,
		http:             client,
	}
}

// Endpoint reports the REST URL.
func (k *KyveSource) Endpoint() string { return k.endpoint }

type kyveTxResponse struct {
	Tx *struct {
		Body struct {
			Messages []struct {
				Type        string `json:"@type"`
				FromAddress string `json:"from_address"`
				ToAddress   string `json:"to_address"`
				Amount      []struct {
					Denom  string `json:"denom"`
					Amount string `json:"amount"`
				} `json:"amount"`
			} `json:"messages"`
		} `json:"body"`
	} `json:"tx"`
	TxResponse *struct {
		Code   int    `json:"code"`
		Height string `json:"height"`
	} `json:"tx_response"`
}

func (k *KyveSource) fetch(ctx context.Context, txID string) (*kyveTxResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/cosmos/tx/v1beta1/txs/%s", k.endpoint, txID), nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: build kyve request: %w", err)
	}
	resp, err := k.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: kyve rest: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	default:
		return nil, fmt.Errorf("gateway: kyve rest returned %d", resp.StatusCode)
	}
	var parsed kyveTxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("gateway: decode kyve response: %w", err)
	}
	return &parsed, nil
}

// GetTransaction accepts only successful MsgSend transfers in a known
// denom.
func (k *KyveSource) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	parsed, err := k.fetch(ctx, txID)
	if err != nil {
		return nil, err
	}
	if parsed.TxResponse == nil || parsed.Tx == nil {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	if parsed.TxResponse.Code != 0 {
		return nil, fmt.Errorf("%w: code %d", ErrTransactionNotMined, parsed.TxResponse.Code)
	}
	for _, msg := range parsed.Tx.Body.Messages {
		if msg.Type != "/cosmos.bank.v1beta1.MsgSend" {
			continue
		}
		for _, coin := range msg.Amount {
			if _, ok := kyveDenoms[coin.Denom]; !ok {
				continue
			}
			quantity, ok := new(big.Int).SetString(coin.Amount, 10)
			if !ok || quantity.Sign() <= 0 {
				continue
			}
			return &TransactionInfo{
				Quantity:         quantity,
				SenderAddress:    msg.FromAddress,
				RecipientAddress: msg.ToAddress,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: no MsgSend in accepted denom", ErrNotAPaymentTransaction)
}

// GetTransactionStatus reports confirmed once the REST endpoint serves the
// transaction with a zero code; Tendermint finality needs no confirmation
// depth.
func (k *KyveSource) GetTransactionStatus(ctx context.Context, txID string) (Status, error) {
	parsed, err := k.fetch(ctx, txID)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return Status{State: StateNotFound}, nil
		}
		return Status{}, err
	}
	if parsed.TxResponse == nil {
		return Status{State: StateNotFound}, nil
	}
	if parsed.TxResponse.Code != 0 {
		return Status{}, fmt.Errorf("%w: code %d", ErrTransactionNotMined, parsed.TxResponse.Code)
	}
	var height int64
	fmt.Sscanf(parsed.TxResponse.Height, "%d", &height)
	return Status{State: StateConfirmed, BlockHeight: height}, nil
}
