package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcutil/base58"
)

const solanaFoundBody = `{"result": {
  "slot": 9000,
  "meta": {"err": null, "preBalances": [500, 100], "postBalances": [350, 250]},
  "transaction": {"message": {"accountKeys": ["SENDER_KEY", "SINK_KEY"]}}
}}`

// solanaServer answers per requested commitment level.
func solanaServer(t *testing.T, byCommitment map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req solanaRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		if req.Method != "getTransaction" || len(req.Params) != 2 {
			t.Fatalf("unexpected rpc call %s", req.Method)
		}
		opts, ok := req.Params[1].(map[string]any)
		if !ok {
			t.Fatalf("unexpected params shape")
		}
		commitment, _ := opts["commitment"].(string)
		body, ok := byCommitment[commitment]
		if !ok {
			body = `{"result": null}`
		}
		fmt.Fprint(w, body)
	}))
}

func TestSolanaGetTransaction(t *testing.T) {
	server := solanaServer(t, map[string]string{"finalized": solanaFoundBody})
	defer server.Close()

	source := NewSolanaSource(server.URL, server.Client())
	info, err := source.GetTransaction(context.Background(), "SIG1")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	// The quantity is the recipient's lamport delta.
	if info.Quantity.Int64() != 150 {
		t.Fatalf("unexpected quantity %s", info.Quantity)
	}
	if info.SenderAddress != "SENDER_KEY" || info.RecipientAddress != "SINK_KEY" {
		t.Fatalf("unexpected parties %s -> %s", info.SenderAddress, info.RecipientAddress)
	}
}

func TestSolanaGetTransactionErrored(t *testing.T) {
	body := `{"result": {
	  "slot": 9000,
	  "meta": {"err": {"InstructionError": [0, "Custom"]}, "preBalances": [1, 1], "postBalances": [1, 1]},
	  "transaction": {"message": {"accountKeys": ["A", "B"]}}
	}}`
	server := solanaServer(t, map[string]string{"finalized": body})
	defer server.Close()

	source := NewSolanaSource(server.URL, server.Client())
	if _, err := source.GetTransaction(context.Background(), "SIG1"); !errors.Is(err, ErrTransactionNotMined) {
		t.Fatalf("expected not mined, got %v", err)
	}
}

func TestSolanaStatusTriState(t *testing.T) {
	cases := []struct {
		name         string
		byCommitment map[string]string
		want         ConfirmationState
	}{
		{"finalized", map[string]string{"finalized": solanaFoundBody}, StateConfirmed},
		{"confirmed only", map[string]string{"confirmed": solanaFoundBody}, StatePending},
		{"absent", map[string]string{}, StateNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := solanaServer(t, tc.byCommitment)
			defer server.Close()

			source := NewSolanaSource(server.URL, server.Client())
			status, err := source.GetTransactionStatus(context.Background(), "SIG1")
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if status.State != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, status.State)
			}
			if tc.want == StateConfirmed && status.BlockHeight != 9000 {
				t.Fatalf("expected slot 9000, got %d", status.BlockHeight)
			}
		})
	}
}

func TestValidSolanaAddress(t *testing.T) {
	valid := base58.Encode(make([]byte, 32))
	if !ValidSolanaAddress(valid) {
		t.Fatalf("32-byte key must validate")
	}
	if ValidSolanaAddress("tooshort") {
		t.Fatalf("short string must not validate")
	}
}
