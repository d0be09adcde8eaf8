package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Intent action constants
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// WebhookEndpoint represents a registered inbound trigger (e.g. a TradingView alert)
type WebhookEndpoint struct {
	ID             string `json:"id"`
	OwnerID        string `json:"owner_id"`
	SubscriptionID string `json:"subscription_id"`
	Name           string `json:"name"`
	Secret         string `json:"-"` // never serialized in API responses

	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`

	// Security options
	IPAllowlist      []string `json:"ip_allowlist,omitempty"`
	RequireSignature bool     `json:"require_signature"`
	Active           bool     `json:"active"`

	// Trigger counters, updated only by the security gate
	TotalTriggers      int64      `json:"total_triggers"`
	SuccessfulTriggers int64      `json:"successful_triggers"`
	LastTriggeredAt    *time.Time `json:"last_triggered_at,omitempty"`
	LastIPAddress      string     `json:"last_ip_address,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PairID returns the endpoint's trading pair
func (e *WebhookEndpoint) PairID() Pair {
	return Pair{Exchange: e.Exchange, Symbol: e.Symbol}
}

// WebhookPayload is the raw TradingView alert body
type WebhookPayload struct {
	Action        string `json:"action"`
	Ticker        string `json:"ticker"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	Secret        string `json:"secret"`
	CorrelationID string `json:"correlation_id"`
}

// OrderIntent is a normalized, idempotency-keyed request to buy or sell
type OrderIntent struct {
	IntentID    string           `json:"intent_id"`
	Action      string           `json:"action"`
	Ticker      string           `json:"ticker"`
	Quantity    decimal.Decimal  `json:"quantity"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	RequestedAt time.Time        `json:"requested_at"`
}

// CreateEndpointRequest is the payload for POST /api/v1/endpoints
type CreateEndpointRequest struct {
	Name             string   `json:"name" binding:"required"`
	SubscriptionID   string   `json:"subscription_id" binding:"required"`
	Exchange         string   `json:"exchange" binding:"required"`
	Symbol           string   `json:"symbol" binding:"required"`
	IPAllowlist      []string `json:"ip_allowlist"`
	RequireSignature bool     `json:"require_signature"`
}

// UpdateEndpointRequest is the payload for PUT /api/v1/endpoints/:id.
// Nil fields are left unchanged.
type UpdateEndpointRequest struct {
	Name             *string   `json:"name"`
	IPAllowlist      *[]string `json:"ip_allowlist"`
	RequireSignature *bool     `json:"require_signature"`
	Active           *bool     `json:"active"`
}

// TradingViewConfig is the generated alert configuration for an endpoint
type TradingViewConfig struct {
	WebhookURL      string            `json:"webhook_url"`
	TradingViewJSON map[string]string `json:"tradingview_json"`
}
