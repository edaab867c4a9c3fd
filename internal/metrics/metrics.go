package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EntriesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_appended_total",
		Help: "Entries written to the ledger",
	}, []string{"kind"})

	DuplicateAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_duplicate_appends_total",
		Help: "Appends that resolved to an existing entry",
	}, []string{"kind"})

	EntryTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entry_transitions_total",
		Help: "Pending entries moved to a terminal status",
	}, []string{"status"})

	WithdrawalOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_withdrawals_total",
		Help: "Withdrawal lifecycle events",
	}, []string{"status", "automatic"})

	StatementsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_statements_emitted_total",
		Help: "Billing statements created",
	})

	DriftIncidents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_drift_incidents_total",
		Help: "Reconciliation incidents raised",
	}, []string{"kind"})

	AccountsAudited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_accounts_audited_total",
		Help: "Accounts checked by the reconciliation auditor",
	})

	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_tx_retries_total",
		Help: "Ledger transactions retried after a transient failure",
	})

	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_account_lock_wait_seconds",
		Help:    "Time spent waiting for an account serialization token",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "route"})
)
