package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// LedgerMetrics collects ledger activity counters.
type LedgerMetrics struct {
	// AuditRows counts appended audit rows segmented by change reason.
	AuditRows *prometheus.CounterVec
	// Reservations counts reservation outcomes segmented by result.
	Reservations *prometheus.CounterVec
	// CreditedTransactions counts crypto payments promoted to credited,
	// segmented by token.
	CreditedTransactions *prometheus.CounterVec
	// SweptRows counts rows transitioned by the expiry sweeper, segmented
	// by kind (top_up_quote, delegated_approval).
	SweptRows *prometheus.CounterVec
}

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			AuditRows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wincledger",
				Subsystem: "ledger",
				Name:      "audit_rows_total",
				Help:      "Total audit rows appended, segmented by change reason.",
			}, []string{"reason"}),
			Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wincledger",
				Subsystem: "ledger",
				Name:      "reservations_total",
				Help:      "Balance reservation attempts segmented by outcome.",
			}, []string{"outcome"}),
			CreditedTransactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wincledger",
				Subsystem: "ledger",
				Name:      "credited_transactions_total",
				Help:      "Crypto payments credited to user balances, segmented by token.",
			}, []string{"token"}),
			SweptRows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wincledger",
				Subsystem: "ledger",
				Name:      "swept_rows_total",
				Help:      "Rows expired by the background sweeper, segmented by kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.AuditRows,
			ledgerRegistry.Reservations,
			ledgerRegistry.CreditedTransactions,
			ledgerRegistry.SweptRows,
		)
	})
	return ledgerRegistry
}

// GatewayMetrics collects chain gateway instrumentation.
type GatewayMetrics struct {
	// Requests counts gateway lookups segmented by token and method.
	Requests *prometheus.CounterVec
	// Errors counts gateway failures segmented by token and class.
	Errors *prometheus.CounterVec
	// PollAttempts observes how many attempts each poll consumed.
	PollAttempts prometheus.Histogram
}

// Gateway returns the lazily-initialised gateway metrics registry.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wincledger",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Chain gateway lookups segmented by token and method.",
			}, []string{"token", "method"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wincledger",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Chain gateway failures segmented by token and error class.",
			}, []string{"token", "class"}),
			PollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "wincledger",
				Subsystem: "gateway",
				Name:      "poll_attempts",
				Help:      "Attempts consumed per transaction poll.",
				Buckets:   []float64{1, 2, 3, 4, 5},
			}),
		}
		prometheus.MustRegister(
			gatewayRegistry.Requests,
			gatewayRegistry.Errors,
			gatewayRegistry.PollAttempts,
		)
	})
	return gatewayRegistry
}
