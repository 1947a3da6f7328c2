package httpprovider

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// quoteRequest is the body of POST /quote. Endpoints are encoded as chain:token.
type quoteRequest struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	FromAddress string          `json:"fromAddress"`
	Recipient   string          `json:"recipient"`
}

type quoteFees struct {
	Gas     decimal.Decimal `json:"gas"`
	App     decimal.Decimal `json:"app"`
	Relayer decimal.Decimal `json:"relayer"`
}

type quoteResponse struct {
	OutputAmount  decimal.Decimal `json:"outputAmount"`
	Rate          decimal.Decimal `json:"rate"`
	Fees          quoteFees       `json:"fees"`
	EstimatedTime int             `json:"estimatedTime"`
	Route         json.RawMessage `json:"route"`
}

// errorResponse is returned on non-2xx statuses
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// noRouteCode is the error code the aggregator uses for unsupported pairs
const noRouteCode = "NO_ROUTE"

type executeRequest struct {
	Route     json.RawMessage `json:"route"`
	Recipient string          `json:"recipient"`
}

type executeResponse struct {
	SwapID string `json:"swapId"`
}

type statusResponse struct {
	Status    string `json:"status"`
	FromTx    string `json:"fromTx"`
	ToTx      string `json:"toTx"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// swapStatus values reported by GET /status/{id}
const (
	statusPending    = "pending"
	statusBonded     = "bonded"
	statusValidating = "validating"
	statusReleasing  = "releasing"
	statusDone       = "done"
	statusFailed     = "failed"
	statusExpired    = "expired"
	statusCancelled  = "cancelled"
)
