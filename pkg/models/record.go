package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordStatus tracks how far a persisted settlement got
type RecordStatus string

const (
	RecordFulfilled    RecordStatus = "fulfilled"
	RecordBridging     RecordStatus = "bridging"
	RecordBridgeFailed RecordStatus = "bridge_failed"
)

// SettlementRecord is the per-account record of a settlement in progress.
// It is keyed by account rather than intent since one account settles intents sequentially.
type SettlementRecord struct {
	Account         string           `json:"account"`
	IntentHash      string           `json:"intent_hash"`
	PaymentPlatform string           `json:"payment_platform"`
	SourceChain     int              `json:"source_chain"`
	SourceToken     string           `json:"source_token"`
	SourceAmount    decimal.Decimal  `json:"source_amount"`
	DestChain       int              `json:"dest_chain"`
	DestToken       string           `json:"dest_token"`
	DestAmount      decimal.Decimal  `json:"dest_amount"`
	Recipient       string           `json:"recipient"`
	Fees            Fees             `json:"fees"`
	Rate            decimal.Decimal  `json:"rate"`
	Provider        string           `json:"provider,omitempty"`
	TransactionHash string           `json:"transaction_hash"`
	BridgeTxRefs    []TransactionRef `json:"bridge_tx_refs,omitempty"`
	Status          RecordStatus     `json:"status"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
