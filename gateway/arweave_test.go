package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestArweaveTransactionStatus(t *testing.T) {
	cases := []struct {
		name          string
		handler       http.HandlerFunc
		wantState     ConfirmationState
		wantHeight    int64
		wantErrSubstr bool
	}{
		{
			name: "confirmed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"block_height": 1200, "number_of_confirmations": 25}`)
			},
			wantState:  StateConfirmed,
			wantHeight: 1200,
		},
		{
			name: "below threshold",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"block_height": 1200, "number_of_confirmations": 3}`)
			},
			wantState: StatePending,
		},
		{
			name: "pending text body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "Pending")
			},
			wantState: StatePending,
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			wantState: StateNotFound,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErrSubstr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/tx/TX1/status" {
					t.Fatalf("unexpected path %s", r.URL.Path)
				}
				tc.handler(w, r)
			}))
			defer server.Close()

			source := NewArweaveSource(server.URL, 18, server.Client())
			status, err := source.GetTransactionStatus(context.Background(), "TX1")
			if tc.wantErrSubstr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if status.State != tc.wantState {
				t.Fatalf("expected %s, got %s", tc.wantState, status.State)
			}
			if status.BlockHeight != tc.wantHeight {
				t.Fatalf("expected height %d, got %d", tc.wantHeight, status.BlockHeight)
			}
		})
	}
}

func TestArweaveGetTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graphql" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data": {"transaction": {
			"recipient": "SINK_ADDR",
			"owner": {"address": "SENDER_ADDR"},
			"quantity": {"winston": "123456789"}
		}}}`)
	}))
	defer server.Close()

	source := NewArweaveSource(server.URL, 18, server.Client())
	info, err := source.GetTransaction(context.Background(), "TX1")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if info.Quantity.String() != "123456789" {
		t.Fatalf("unexpected quantity %s", info.Quantity)
	}
	if info.SenderAddress != "SENDER_ADDR" || info.RecipientAddress != "SINK_ADDR" {
		t.Fatalf("unexpected parties %s -> %s", info.SenderAddress, info.RecipientAddress)
	}
}

func TestArweaveGetTransactionMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"transaction": null}}`)
	}))
	defer server.Close()

	source := NewArweaveSource(server.URL, 18, server.Client())
	if _, err := source.GetTransaction(context.Background(), "TX_MISSING"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestArweaveGetTransactionZeroQuantity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"transaction": {
			"recipient": "SINK_ADDR",
			"owner": {"address": "SENDER_ADDR"},
			"quantity": {"winston": "0"}
		}}}`)
	}))
	defer server.Close()

	source := NewArweaveSource(server.URL, 18, server.Client())
	if _, err := source.GetTransaction(context.Background(), "TX_DATA"); !errors.Is(err, ErrNotAPaymentTransaction) {
		t.Fatalf("expected non-payment, got %v", err)
	}
}
