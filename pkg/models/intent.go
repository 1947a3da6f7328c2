package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Intent represents an open fiat to crypto exchange signalled on the escrow
type Intent struct {
	Hash            common.Hash     `json:"intent_hash"`
	DepositID       string          `json:"deposit_id"`
	Owner           common.Address  `json:"owner"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentPlatform string          `json:"payment_platform"`
	PayeeDetails    string          `json:"payee_details"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Proof is an opaque platform attestation that the off-chain payment for an intent happened
type Proof struct {
	Platform string `json:"platform"`
	Payload  []byte `json:"payload"`
}

// IsEmpty reports whether the proof carries no payload
func (p Proof) IsEmpty() bool {
	return len(p.Payload) == 0
}

// TransactionRef identifies a transaction on a chain
type TransactionRef struct {
	Hash    string `json:"hash"`
	ChainID int    `json:"chain_id"`
}

// IsPlaceholder reports whether the reference is a stand-in the provider emits before a hash exists
func (r TransactionRef) IsPlaceholder() bool {
	return r.Hash == "" || r.Hash == "0x" || r.Hash == (common.Hash{}).Hex()
}
