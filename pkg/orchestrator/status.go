package orchestrator

import (
	"time"

	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/submission"
)

// Phase is the single observable state of a fulfillment run
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseProofReceived   Phase = "proof-received"
	PhaseSubmittingProof Phase = "submitting-proof"
	PhaseQuoting         Phase = "quoting"
	PhaseQuoteReady      Phase = "quote-ready"
	PhaseExecutingBridge Phase = "executing-bridge"
	PhaseSettled         Phase = "settled"

	PhaseValidationFailed Phase = "validation-failed"
	PhaseSimulationFailed Phase = "simulation-failed"
	PhaseExecutionFailed  Phase = "execution-failed"
	PhaseQuoteRetrying    Phase = "quote-retrying"
	PhaseBridgeRetrying   Phase = "bridge-retrying"
	PhaseBlocked          Phase = "blocked"
	PhaseCancelled        Phase = "cancelled"
)

// AllPhases lists every phase, in display order
var AllPhases = []Phase{
	PhaseIdle,
	PhaseProofReceived,
	PhaseSubmittingProof,
	PhaseQuoting,
	PhaseQuoteReady,
	PhaseExecutingBridge,
	PhaseSettled,
	PhaseValidationFailed,
	PhaseSimulationFailed,
	PhaseExecutionFailed,
	PhaseQuoteRetrying,
	PhaseBridgeRetrying,
	PhaseBlocked,
	PhaseCancelled,
}

var phaseLabels = map[Phase]string{
	PhaseIdle:             "Waiting for a payment proof",
	PhaseProofReceived:    "Payment proof received",
	PhaseSubmittingProof:  "Submitting payment proof",
	PhaseQuoting:          "Fetching bridge quote",
	PhaseQuoteReady:       "Bridge quote ready",
	PhaseExecutingBridge:  "Bridging funds",
	PhaseSettled:          "Settled",
	PhaseValidationFailed: "Missing payment details",
	PhaseSimulationFailed: "Payment proof was rejected",
	PhaseExecutionFailed:  "Fulfillment transaction failed",
	PhaseQuoteRetrying:    "Retrying bridge quote",
	PhaseBridgeRetrying:   "Retrying bridge",
	PhaseBlocked:          "Bridging stopped after repeated failures",
	PhaseCancelled:        "Cancelled",
}

// Label returns the human readable label of the phase
func (p Phase) Label() string {
	if label, ok := phaseLabels[p]; ok {
		return label
	}
	return string(p)
}

// IsError reports whether the phase is one of the failure phases
func (p Phase) IsError() bool {
	switch p {
	case PhaseValidationFailed, PhaseSimulationFailed, PhaseExecutionFailed,
		PhaseQuoteRetrying, PhaseBridgeRetrying, PhaseBlocked:
		return true
	}
	return false
}

// Remediation is the action offered to the user on a terminal failure
type Remediation string

const (
	RemediationNone                   Remediation = ""
	RemediationManualRetry            Remediation = "manual-retry"
	RemediationSelectDifferentPayment Remediation = "select-different-payment"
	RemediationResubmit               Remediation = "resubmit"
	RemediationContactSupport         Remediation = "contact-support"
)

// Status is a snapshot of the orchestrator, safe to share
type Status struct {
	RunID             string                    `json:"run_id,omitempty"`
	Phase             Phase                     `json:"phase"`
	Label             string                    `json:"label"`
	SubmissionState   submission.State          `json:"submission_state,omitempty"`
	Remediation       Remediation               `json:"remediation,omitempty"`
	QuoteAttempts     int                       `json:"quote_attempts"`
	ExecutionAttempts int                       `json:"execution_attempts"`
	ErrorCategory     models.Category           `json:"error_category,omitempty"`
	Error             string                    `json:"error,omitempty"`
	IntentHash        string                    `json:"intent_hash,omitempty"`
	Bridging          bool                      `json:"bridging"`
	TxRef             *models.TransactionRef    `json:"tx_ref,omitempty"`
	Quote             *models.SettlementQuote   `json:"quote,omitempty"`
	Outcome           *models.SettlementOutcome `json:"outcome,omitempty"`
	NextRetryAt       *time.Time                `json:"next_retry_at,omitempty"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

func (s Status) clone() Status {
	out := s
	if s.TxRef != nil {
		ref := *s.TxRef
		out.TxRef = &ref
	}
	if s.Quote != nil {
		q := *s.Quote
		out.Quote = &q
	}
	if s.Outcome != nil {
		o := *s.Outcome
		o.TxRefs = append([]models.TransactionRef(nil), s.Outcome.TxRefs...)
		out.Outcome = &o
	}
	if s.NextRetryAt != nil {
		t := *s.NextRetryAt
		out.NextRetryAt = &t
	}
	return out
}
