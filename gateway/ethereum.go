package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMClient is the subset of the Ethereum RPC the adapter uses. Both
// Ethereum mainnet and Base satisfy it through ethclient.
type EVMClient interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*gethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// EthereumSource reads native-asset transfers from an EVM chain.
type EthereumSource struct {
	endpoint         string
	chainID          *big.Int
	minConfirmations int64
	client           EVMClient
}

// DialEthereumSource connects to a JSON-RPC endpoint.
func DialEthereumSource(endpoint string, chainID int64, minConfirmations int64) (*EthereumSource, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("gateway: evm endpoint required")
	}
	client, err := ethclient.Dial(trimmed)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial evm endpoint: %w", err)
	}
	return NewEthereumSource(trimmed, chainID, minConfirmations, client), nil
}

// NewEthereumSource wraps an existing client, which tests fake.
func NewEthereumSource(endpoint string, chainID int64, minConfirmations int64, client EVMClient) *EthereumSource {
	if minConfirmations <= 0 {
		minConfirmations = 5
	}
	return &EthereumSource{
		endpoint:         endpoint,
		chainID:          big.NewInt(chainID),
		minConfirmations: minConfirmations,
		client:           client,
	}
}

// Endpoint reports the RPC URL.
func (e *EthereumSource) Endpoint() string { return e.endpoint }

// GetTransaction resolves sender, recipient and wei quantity.
func (e *EthereumSource) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	tx, pending, err := e.client.TransactionByHash(ctx, common.HexToHash(txID))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
		}
		return nil, fmt.Errorf("gateway: fetch evm tx: %w", err)
	}
	if pending {
		return nil, fmt.Errorf("%w: %s still pending", ErrTransactionNotFound, txID)
	}
	if tx.To() == nil || tx.Value() == nil || tx.Value().Sign() <= 0 {
		return nil, fmt.Errorf("%w: no value transfer", ErrNotAPaymentTransaction)
	}
	sender, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(e.chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("gateway: recover evm sender: %w", err)
	}
	return &TransactionInfo{
		Quantity:         new(big.Int).Set(tx.Value()),
		SenderAddress:    sender.Hex(),
		RecipientAddress: tx.To().Hex(),
	}, nil
}

// GetTransactionStatus confirms once the receipt sits minConfirmations
// blocks behind the head. A reverted receipt is terminal.
func (e *EthereumSource) GetTransactionStatus(ctx context.Context, txID string) (Status, error) {
	receipt, err := e.client.TransactionReceipt(ctx, common.HexToHash(txID))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Status{State: StateNotFound}, nil
		}
		return Status{}, fmt.Errorf("gateway: fetch evm receipt: %w", err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return Status{}, fmt.Errorf("%w: receipt status %d", ErrTransactionNotMined, receipt.Status)
	}
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Status{}, fmt.Errorf("gateway: fetch evm head: %w", err)
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return Status{State: StatePending}, nil
	}
	confirmations := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	confirmations.Add(confirmations, big.NewInt(1))
	if confirmations.Cmp(big.NewInt(e.minConfirmations)) >= 0 {
		return Status{State: StateConfirmed, BlockHeight: receipt.BlockNumber.Int64()}, nil
	}
	return Status{State: StatePending}, nil
}
