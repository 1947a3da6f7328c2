package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_phase_transitions_total",
		Help: "The total number of orchestrator phase transitions by target phase",
	}, []string{"phase"})

	CurrentPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settler_current_phase",
		Help: "Set to 1 for the phase the orchestrator is currently in",
	}, []string{"phase"})

	ProofSubmissionTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settler_proof_submission_seconds",
		Help:    "Time taken from simulation to mined fulfillment",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	}, []string{"chain_id", "result"})

	GasUsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settler_gas_used",
		Help:    "Gas used for fulfilling intents",
		Buckets: prometheus.ExponentialBuckets(21000, 2, 10),
	}, []string{"chain_id"})

	SubmissionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_submission_errors_total",
		Help: "Total number of proof submission errors by category",
	}, []string{"chain_id", "category"})

	QuoteFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_quote_fetches_total",
		Help: "Bridge quote fetches by provider and result",
	}, []string{"provider", "result"})

	FallbackAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_quote_fallback_attempts_total",
		Help: "Number of times a lower ranked provider was tried",
	}, []string{"provider"})

	RetriesScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_retries_scheduled_total",
		Help: "Number of automatic retries scheduled by operation class",
	}, []string{"class"})

	MaxRetriesReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_max_retries_reached_total",
		Help: "Number of times an operation class exceeded its retry ceiling",
	}, []string{"class"})

	NextRetryIn = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settler_next_retry_seconds",
		Help: "Seconds until the next scheduled retry",
	}, []string{"class"})

	BridgeCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_bridge_completions_total",
		Help: "Completed bridge executions by provider and completion signal",
	}, []string{"provider", "signal"})

	CircuitBreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settler_circuit_breaker_open",
		Help: "Set to 1 while the provider's circuit breaker is open",
	}, []string{"provider"})

	TokenBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settler_token_balance",
		Help: "Balance of the settling account in whole tokens",
	}, []string{"chain_id", "token"})

	SettledIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_settled_intents_total",
		Help: "The total number of intents settled, by whether a bridge was used",
	}, []string{"bridged"})

	GasPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settler_gas_price_gwei",
		Help: "Current gas price in gwei",
	}, []string{"chain_id"})

	PendingSettlement = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settler_pending_settlement",
		Help: "Set to 1 while a persisted settlement record is waiting to be bridged",
	})
)
