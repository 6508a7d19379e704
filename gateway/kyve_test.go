package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const kyveSendBody = `{
  "tx": {"body": {"messages": [
    {"@type": "/cosmos.bank.v1beta1.MsgSend",
     "from_address": "kyve1sender",
     "to_address": "kyve1sink",
     "amount": [{"denom": "ukyve", "amount": "777"}]}
  ]}},
  "tx_response": {"code": 0, "height": "4242"}
}`

func kyveServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cosmos/tx/v1beta1/txs/TX1" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func TestKyveGetTransaction(t *testing.T) {
	server := kyveServer(t, kyveSendBody, http.StatusOK)
	defer server.Close()

	source := NewKyveSource(server.URL, 1, server.Client())
	info, err := source.GetTransaction(context.Background(), "TX1")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if info.Quantity.String() != "777" {
		t.Fatalf("unexpected quantity %s", info.Quantity)
	}
	if info.SenderAddress != "kyve1sender" || info.RecipientAddress != "kyve1sink" {
		t.Fatalf("unexpected parties %s -> %s", info.SenderAddress, info.RecipientAddress)
	}
}

func TestKyveRejectsUnknownDenom(t *testing.T) {
	body := `{
	  "tx": {"body": {"messages": [
	    {"@type": "/cosmos.bank.v1beta1.MsgSend",
	     "from_address": "kyve1sender",
	     "to_address": "kyve1sink",
	     "amount": [{"denom": "uatom", "amount": "777"}]}
	  ]}},
	  "tx_response": {"code": 0, "height": "4242"}
	}`
	server := kyveServer(t, body, http.StatusOK)
	defer server.Close()

	source := NewKyveSource(server.URL, 1, server.Client())
	if _, err := source.GetTransaction(context.Background(), "TX1"); !errors.Is(err, ErrNotAPaymentTransaction) {
		t.Fatalf("expected non-payment, got %v", err)
	}
}

func TestKyveFailedExecutionIsTerminal(t *testing.T) {
	body := `{
	  "tx": {"body": {"messages": []}},
	  "tx_response": {"code": 5, "height": "4242"}
	}`
	server := kyveServer(t, body, http.StatusOK)
	defer server.Close()

	source := NewKyveSource(server.URL, 1, server.Client())
	if _, err := source.GetTransaction(context.Background(), "TX1"); !errors.Is(err, ErrTransactionNotMined) {
		t.Fatalf("expected not mined, got %v", err)
	}
	if _, err := source.GetTransactionStatus(context.Background(), "TX1"); !errors.Is(err, ErrTransactionNotMined) {
		t.Fatalf("expected not mined status, got %v", err)
	}
}

func TestKyveStatus(t *testing.T) {
	server := kyveServer(t, kyveSendBody, http.StatusOK)
	defer server.Close()

	source := NewKyveSource(server.URL, 1, server.Client())
	status, err := source.GetTransactionStatus(context.Background(), "TX1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != StateConfirmed || status.BlockHeight != 4242 {
		t.Fatalf("unexpected status %+v", status)
	}

	missing := kyveServer(t, `{"message": "not found"}`, http.StatusNotFound)
	defer missing.Close()
	source = NewKyveSource(missing.URL, 1, missing.Client())
	status, err = source.GetTransactionStatus(context.Background(), "TX1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.State != StateNotFound {
		t.Fatalf("expected not found, got %s", status.State)
	}
}
