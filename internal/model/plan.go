package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan type constants
const (
	PlanTypeCustomBot  = "custom_bot"
	PlanTypeManagedBot = "managed_bot"
)

// ResourceKind identifies a metered resource on a subscription
type ResourceKind string

const (
	ResourceAPICall        ResourceKind = "api_call"
	ResourceWebhookRequest ResourceKind = "webhook_request"
	ResourceConcurrentBot  ResourceKind = "concurrent_bot"
)

// Plan defines the quotas and managed-bot terms of a subscription tier
type Plan struct {
	ID          string `json:"id"`
	PlanType    string `json:"plan_type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Quotas. API calls and webhook requests reset daily; concurrent bots
	// is a live ceiling, not a rolling counter.
	APICallsPerDay        int64 `json:"api_calls_per_day"`
	WebhookRequestsPerMin int64 `json:"webhook_requests_per_minute"`
	ConcurrentBots        int64 `json:"concurrent_bots"`

	// Managed bot terms
	ProfitSharePercentage   decimal.Decimal `json:"profit_share_percentage"`
	GuaranteedMonthlyReturn decimal.Decimal `json:"guaranteed_monthly_return"`
	MinInvestment           decimal.Decimal `json:"min_investment"`

	MonthlyPrice decimal.Decimal `json:"monthly_price"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Subscription status constants
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription binds a user to a plan
type Subscription struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	PlanID           string    `json:"plan_id"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	CreatedAt        time.Time `json:"created_at"`
}

// IsActive reports whether the subscription entitles usage
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// Limit returns the quota for a metered resource kind
func (p *Plan) Limit(kind ResourceKind) int64 {
	switch kind {
	case ResourceAPICall:
		return p.APICallsPerDay
	case ResourceWebhookRequest:
		return p.WebhookRequestsPerMin
	case ResourceConcurrentBot:
		return p.ConcurrentBots
	}
	return 0
}
