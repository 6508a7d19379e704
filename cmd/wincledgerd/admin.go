package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wincledger/auth"
	"wincledger/currency"
	"wincledger/export"
	"wincledger/ledger"
	"wincledger/ledger/models"
	"wincledger/pricing"
)

// adminDeps collects the services the admin surface exposes.
type adminDeps struct {
	store    *ledger.Store
	pricer   pricing.PricingService
	auth     *auth.Service
	exporter *export.Exporter
	log      *slog.Logger
}

// newAdminRouter wires the health, metrics and administration endpoints.
func newAdminRouter(deps adminDeps) http.Handler {
	if deps.log == nil {
		deps.log = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/balance/{address}", deps.handleBalance)
	r.Get("/v1/transactions/{txID}/status", deps.handleTransactionStatus)
	r.Post("/v1/quotes", deps.handlePriceQuote)
	r.Post("/v1/tokens", deps.handleToken)
	r.Post("/v1/audit/exports", deps.handleExport)
	return r
}

func (d adminDeps) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	balance, err := d.store.GetBalance(r.Context(), address)
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":           address,
		"winc":              balance.Winc.String(),
		"controlledWinc":    balance.ControlledWinc.String(),
		"effectiveBalance":  balance.EffectiveBalance.String(),
		"givenApprovals":    len(balance.GivenApprovals),
		"receivedApprovals": len(balance.ReceivedApprovals),
	})
}

func (d adminDeps) handleTransactionStatus(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txID")
	token := models.TokenType(r.URL.Query().Get("token"))
	status, err := d.store.GetTransactionStatus(r.Context(), txID, token)
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"txId":   txID,
		"token":  string(token),
		"status": string(status),
	})
}

type quoteRequest struct {
	DestinationAddress string   `json:"destinationAddress"`
	AddressType        string   `json:"addressType"`
	PaymentAmount      int64    `json:"paymentAmount"`
	CurrencyType       string   `json:"currencyType"`
	Provider           string   `json:"provider"`
	WincAmount         string   `json:"wincAmount"`
	PromoCodes         []string `json:"promoCodes"`
	GiftMessage        string   `json:"giftMessage"`
}

func (d adminDeps) handlePriceQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
		return
	}
	winc, err := currency.ParseWinc(req.WincAmount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid winc amount"})
		return
	}
	quote, err := d.pricer.PriceQuote(r.Context(), pricing.QuoteParams{
		DestinationAddress:     req.DestinationAddress,
		DestinationAddressType: models.AddressType(req.AddressType),
		PaymentAmount:          req.PaymentAmount,
		CurrencyType:           req.CurrencyType,
		Provider:               req.Provider,
		WincAmount:             winc,
		PromoCodes:             req.PromoCodes,
		GiftMessage:            req.GiftMessage,
	})
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quoteId":            quote.QuoteID,
		"destinationAddress": quote.DestinationAddress,
		"currencyType":       quote.CurrencyType,
		"paymentAmount":      quote.PaymentAmount,
		"winc":               quote.WincAmount.String(),
		"provider":           quote.Provider,
		"quoteExpirationDate": quote.QuoteExpirationDate.UTC().
			Format(time.RFC3339),
	})
}

func (d adminDeps) handleToken(w http.ResponseWriter, r *http.Request) {
	if d.auth == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "signature auth disabled"})
		return
	}
	// The signed payload is the request body concatenated with the nonce.
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable request body"})
		return
	}
	address, token, err := d.auth.Authenticate(r.Context(), auth.VerifyParams{
		AddressType:    models.AddressType(r.URL.Query().Get("addressType")),
		PublicKey:      r.Header.Get(auth.HeaderPublicKey),
		Nonce:          r.Header.Get(auth.HeaderNonce),
		Signature:      r.Header.Get(auth.HeaderSignature),
		AdditionalData: string(body),
	})
	if err != nil {
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"token":   token,
	})
}

func (d adminDeps) handleExport(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "from must be RFC3339"})
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "to must be RFC3339"})
		return
	}
	result, err := d.exporter.Run(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, export.ErrChainBroken) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
			return
		}
		if !to.After(from) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		d.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":        result.Rows,
		"csvPath":     result.CSVPath,
		"parquetPath": result.ParquetPath,
	})
}

// writeError maps domain errors onto HTTP statuses, hiding internals behind
// a 500.
func (d adminDeps) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrBadRequest), errors.Is(err, ledger.ErrPromoCodeUsed):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrNonceReplayed):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeJSON(w, http.StatusPaymentRequired, map[string]any{"error": err.Error()})
	case errors.Is(err, ledger.ErrUserNotFound),
		errors.Is(err, ledger.ErrQuoteNotFound),
		errors.Is(err, ledger.ErrPromoCodeNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	default:
		d.log.Error("admin request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
