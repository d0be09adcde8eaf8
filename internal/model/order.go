package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order record status constants
const (
	OrderStatusExecuted  = "executed"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
	OrderStatusTimedOut  = "timed_out"
	OrderStatusUnknown   = "unknown"
)

// Order type constants
const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// OrderRecord is one append-only ledger entry, keyed by intent ID
type OrderRecord struct {
	OrderID   string `json:"order_id"`
	IntentID  string `json:"intent_id"`
	SessionID string `json:"session_id"`
	OwnerID   string `json:"owner_id"`
	BotID     string `json:"bot_id,omitempty"` // set for managed-bot orders
	Pair      Pair   `json:"pair"`

	Action    string           `json:"action"`
	OrderType string           `json:"order_type"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"` // requested limit price

	// Execution details, filled on terminal outcome
	ExecutedPrice    *decimal.Decimal `json:"executed_price,omitempty"`
	ExecutedQuantity *decimal.Decimal `json:"executed_quantity,omitempty"`
	ExchangeOrderID  string           `json:"exchange_order_id,omitempty"`

	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// ExecutionOutcome is what the orchestrator returns for a submitted intent
type ExecutionOutcome struct {
	OrderID          string           `json:"order_id"`
	IntentID         string           `json:"intent_id"`
	Status           string           `json:"status"`
	ExecutedPrice    *decimal.Decimal `json:"executed_price,omitempty"`
	ExecutedQuantity *decimal.Decimal `json:"executed_quantity,omitempty"`
	ExchangeOrderID  string           `json:"exchange_order_id,omitempty"`
	Error            string           `json:"error,omitempty"`
	Replayed         bool             `json:"replayed"`
}

// Outcome converts a ledger record into the outcome shape returned to callers
func (r *OrderRecord) Outcome(replayed bool) *ExecutionOutcome {
	return &ExecutionOutcome{
		OrderID:          r.OrderID,
		IntentID:         r.IntentID,
		Status:           r.Status,
		ExecutedPrice:    r.ExecutedPrice,
		ExecutedQuantity: r.ExecutedQuantity,
		ExchangeOrderID:  r.ExchangeOrderID,
		Error:            r.Error,
		Replayed:         replayed,
	}
}
