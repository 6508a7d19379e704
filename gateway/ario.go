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

// ArioSource reads ARIO transfers from an AO compute unit. A message counts
// as confirmed once its result contains a Credit-Notice with Sender and
// Quantity tags; AO has no block height, so confirmations report zero.
type ArioSource struct {
	cuURL     string
	processID string
	http      *http.Client
}

// NewArioSource builds an adapter against the given compute unit.
func NewArioSource(cuURL, processID string, client *http.Client) *ArioSource {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &ArioSource{
		cuURL:     strings.TrimRight(cuURL, "/"),
		processID: processID,
		http:      client,
	}
}

// Endpoint reports the compute unit URL.
func (a *ArioSource) Endpoint() string { return a.cuURL }

type aoTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type aoResult struct {
	Messages []struct {
		Target string  `json:"Target"`
		Tags   []aoTag `json:"Tags"`
	} `json:"Messages"`
	Error any `json:"Error"`
}

func tagValue(tags []aoTag, name string) string {
	for _, tag := range tags {
		if strings.EqualFold(tag.Name, name) {
			return tag.Value
		}
	}
	return ""
}

func (a *ArioSource) fetchResult(ctx context.Context, messageID string) (*aoResult, error) {
	url := fmt.Sprintf("%s/result/%s?process-id=%s", a.cuURL, messageID, a.processID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: build ao request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: ao compute unit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, messageID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway: ao compute unit returned %d", resp.StatusCode)
	}
	var parsed aoResult
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("gateway: decode ao result: %w", err)
	}
	return &parsed, nil
}

// creditNotice extracts the Credit-Notice message, if present.
func (a *ArioSource) creditNotice(ctx context.Context, messageID string) (sender string, quantity *big.Int, recipient string, err error) {
	result, err := a.fetchResult(ctx, messageID)
	if err != nil {
		return "", nil, "", err
	}
	if result.Error != nil {
		return "", nil, "", fmt.Errorf("%w: ao message errored", ErrTransactionNotMined)
	}
	for _, msg := range result.Messages {
		if !strings.EqualFold(tagValue(msg.Tags, "Action"), "Credit-Notice") {
			continue
		}
		sender := tagValue(msg.Tags, "Sender")
		rawQuantity := tagValue(msg.Tags, "Quantity")
		if sender == "" || rawQuantity == "" {
			continue
		}
		quantity, ok := new(big.Int).SetString(rawQuantity, 10)
		if !ok || quantity.Sign() <= 0 {
			continue
		}
		return sender, quantity, msg.Target, nil
	}
	return "", nil, "", fmt.Errorf("%w: no credit notice", ErrNotAPaymentTransaction)
}

// GetTransaction resolves the transfer from the Credit-Notice tags.
func (a *ArioSource) GetTransaction(ctx context.Context, txID string) (*TransactionInfo, error) {
	sender, quantity, recipient, err := a.creditNotice(ctx, txID)
	if err != nil {
		return nil, err
	}
	return &TransactionInfo{
		Quantity:         quantity,
		SenderAddress:    sender,
		RecipientAddress: recipient,
	}, nil
}

// GetTransactionStatus confirms once the credit notice exists. A result
// without a notice is still being evaluated and stays pending.
func (a *ArioSource) GetTransactionStatus(ctx context.Context, txID string) (Status, error) {
	_, _, _, err := a.creditNotice(ctx, txID)
	switch {
	case err == nil:
		return Status{State: StateConfirmed, BlockHeight: 0}, nil
	case errors.Is(err, ErrTransactionNotFound):
		return Status{State: StateNotFound}, nil
	case errors.Is(err, ErrNotAPaymentTransaction):
		return Status{State: StatePending}, nil
	default:
		return Status{}, err
	}
}
