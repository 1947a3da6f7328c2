package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// WalletType describes how the fulfilling account signs, which changes how many
// transaction hashes a bridge provider reveals
type WalletType string

const (
	WalletExternal WalletType = "external"
	WalletEmbedded WalletType = "embedded"
	WalletSmart    WalletType = "smart"
)

// Fees is the fee breakdown of a settlement quote, denominated in the source token
type Fees struct {
	Gas     decimal.Decimal `json:"gas"`
	App     decimal.Decimal `json:"app"`
	Relayer decimal.Decimal `json:"relayer"`
}

// Total returns the sum of all fee components
func (f Fees) Total() decimal.Decimal {
	return f.Gas.Add(f.App).Add(f.Relayer)
}

// SettlementQuote is a priced plan to move the released token to its destination
type SettlementQuote struct {
	Sequence         uint64          `json:"sequence"`
	Provider         string          `json:"provider"`
	FallbackAttempts int             `json:"fallback_attempts"`
	SourceChain      int             `json:"source_chain"`
	SourceToken      string          `json:"source_token"`
	SourceAmount     decimal.Decimal `json:"source_amount"`
	DestChain        int             `json:"dest_chain"`
	DestToken        string          `json:"dest_token"`
	DestAmount       decimal.Decimal `json:"dest_amount"`
	Recipient        string          `json:"recipient"`
	Fees             Fees            `json:"fees"`
	Rate             decimal.Decimal `json:"rate"`
	TimeEstimate     time.Duration   `json:"time_estimate"`
	FetchedAt        time.Time       `json:"fetched_at"`
	// Payload is the provider's opaque route, handed back on execution
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StepStatus is the per-step status reported by a bridge provider
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepValidating StepStatus = "validating"
	StepComplete   StepStatus = "complete"
)

// ProgressEvent is one update from a provider's execution feed
type ProgressEvent struct {
	Status StepStatus       `json:"status"`
	TxRefs []TransactionRef `json:"tx_refs"`
	Err    error            `json:"-"`
}

// CompletionSignal names the rule that declared a bridge execution complete
type CompletionSignal string

const (
	SignalNone          CompletionSignal = ""
	SignalStandard      CompletionSignal = "standard"
	SignalReducedSignal CompletionSignal = "reduced_signal"
	SignalTimeout       CompletionSignal = "timeout"
)

// SettlementOutcome is the observed result of executing a quote
type SettlementOutcome struct {
	Provider    string           `json:"provider"`
	TxRefs      []TransactionRef `json:"tx_refs"`
	Complete    bool             `json:"complete"`
	Signal      CompletionSignal `json:"signal,omitempty"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
}
