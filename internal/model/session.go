package model

import (
	"fmt"
	"strings"
	"time"
)

// Session status constants
const (
	SessionStatusStarting = "starting"
	SessionStatusRunning  = "running"
	SessionStatusStopping = "stopping"
	SessionStatusStopped  = "stopped"
	SessionStatusFailed   = "failed"
)

// Pair identifies a trading pair on a specific exchange
type Pair struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

// String returns the canonical "exchange:SYMBOL" form
func (p Pair) String() string {
	return fmt.Sprintf("%s:%s", p.Exchange, strings.ToUpper(p.Symbol))
}

// Valid checks that both parts are present
func (p Pair) Valid() bool {
	return p.Exchange != "" && p.Symbol != ""
}

// SlotKey returns the reservation key for one owner on this pair
func (p Pair) SlotKey(ownerID string) string {
	return fmt.Sprintf("%s|%s", ownerID, p.String())
}

// SessionConfig is the validated per-session configuration.
// Extra carries bot-specific settings the pipeline does not interpret.
type SessionConfig struct {
	OrderType       string            `json:"order_type"` // market, limit
	DefaultQuantity string            `json:"default_quantity,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// BotSession represents one running automated strategy instance
type BotSession struct {
	SessionID      string        `json:"session_id"`
	OwnerID        string        `json:"owner_id"`
	SubscriptionID string        `json:"subscription_id"`
	Pair           Pair          `json:"pair"`
	Status         string        `json:"status"`
	Config         SessionConfig `json:"config"`

	// Per-session execution counters
	SuccessfulOrders int64 `json:"successful_orders"`
	FailedOrders     int64 `json:"failed_orders"`

	ErrorMessage *string `json:"error_message,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// IsActive reports whether the session occupies its (owner, pair) slot
func (s *BotSession) IsActive() bool {
	switch s.Status {
	case SessionStatusStarting, SessionStatusRunning, SessionStatusStopping:
		return true
	}
	return false
}

// IsTerminal reports whether the session reached a final state
func (s *BotSession) IsTerminal() bool {
	return s.Status == SessionStatusStopped || s.Status == SessionStatusFailed
}

// StartSessionRequest is the payload for POST /api/v1/sessions
type StartSessionRequest struct {
	Exchange       string        `json:"exchange" binding:"required"`
	Symbol         string        `json:"symbol" binding:"required"`
	SubscriptionID string        `json:"subscription_id" binding:"required"`
	Config         SessionConfig `json:"config"`
}

// SessionStatistics aggregates a user's session and order history
type SessionStatistics struct {
	TotalSessions    int   `json:"total_sessions"`
	ActiveSessions   int   `json:"active_sessions"`
	TotalOrders      int64 `json:"total_orders"`
	SuccessfulOrders int64 `json:"successful_orders"`
	FailedOrders     int64 `json:"failed_orders"`
}
