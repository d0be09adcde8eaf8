package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ManagedBotPosition is one investor's stake in one managed bot.
// Mutated exclusively by the settlement engine.
type ManagedBotPosition struct {
	PositionID     string `json:"position_id"`
	InvestorID     string `json:"investor_id"`
	BotID          string `json:"bot_id"`
	SubscriptionID string `json:"subscription_id"`

	InitialInvestment     decimal.Decimal `json:"initial_investment"`
	CurrentBalance        decimal.Decimal `json:"current_balance"`
	ProfitSharePercentage decimal.Decimal `json:"profit_share_percentage"` // literal percent, e.g. 25.0
	ProfitSharePaid       decimal.Decimal `json:"profit_share_paid"`
	HighWaterMark         decimal.Decimal `json:"high_water_mark"`

	// Trade statistics maintained alongside settlements
	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	Archived      bool       `json:"archived"`
	LastSettledAt *time.Time `json:"last_settled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NetReturn is the gain or loss relative to the initial investment
func (p *ManagedBotPosition) NetReturn() decimal.Decimal {
	return p.CurrentBalance.Sub(p.InitialInvestment)
}

// NetReturnPercentage is the net return as a percentage of the initial investment
func (p *ManagedBotPosition) NetReturnPercentage() decimal.Decimal {
	if p.InitialInvestment.IsZero() {
		return decimal.Zero
	}
	return p.NetReturn().Div(p.InitialInvestment).Mul(decimal.NewFromInt(100))
}

// CreatePositionRequest is the payload for POST /api/v1/positions
type CreatePositionRequest struct {
	BotID             string `json:"bot_id" binding:"required"`
	SubscriptionID    string `json:"subscription_id" binding:"required"`
	InitialInvestment string `json:"initial_investment" binding:"required"`
}

// SettlementResult describes the outcome of one settlement pass
type SettlementResult struct {
	PositionID     string          `json:"position_id"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	HighWaterMark  decimal.Decimal `json:"high_water_mark"`
	ChargeableGain decimal.Decimal `json:"chargeable_gain"`
	ShareDue       decimal.Decimal `json:"share_due"`
	Charged        bool            `json:"charged"`
	SettledAt      time.Time       `json:"settled_at"`
}

// BotPerformance is the per-bot slice of a performance summary
type BotPerformance struct {
	BotID             string          `json:"bot_id"`
	PositionID        string          `json:"position_id"`
	InitialInvestment decimal.Decimal `json:"initial_investment"`
	CurrentBalance    decimal.Decimal `json:"current_balance"`
	NetProfit         decimal.Decimal `json:"net_profit"`
	ProfitPercentage  decimal.Decimal `json:"profit_percentage"`
	TotalTrades       int             `json:"total_trades"`
}

// PerformanceSummary folds over all of an investor's positions
type PerformanceSummary struct {
	PeriodDays       int              `json:"period_days"`
	TotalInvested    decimal.Decimal  `json:"total_invested"`
	CurrentValue     decimal.Decimal  `json:"current_value"`
	NetProfit        decimal.Decimal  `json:"net_profit"`
	ProfitPercentage decimal.Decimal  `json:"profit_percentage"`
	TotalTrades      int              `json:"total_trades"`
	WinningTrades    int              `json:"winning_trades"`
	LosingTrades     int              `json:"losing_trades"`
	WinRate          decimal.Decimal  `json:"win_rate"`
	BotBreakdown     []BotPerformance `json:"bot_breakdown"`
}
