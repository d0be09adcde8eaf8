package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"botforge/backend/internal/model"
	"botforge/backend/internal/util"
	"botforge/backend/pkg/logger"
)

// PositionStore persists managed bot positions
type PositionStore interface {
	Create(ctx context.Context, position *model.ManagedBotPosition) error
	GetByID(ctx context.Context, positionID string) (*model.ManagedBotPosition, error)
	Update(ctx context.Context, position *model.ManagedBotPosition) error
	ListByInvestor(ctx context.Context, investorID string) ([]*model.ManagedBotPosition, error)
}

// TradeLedger reads a bot's executed orders for settlement
type TradeLedger interface {
	EntriesSince(ctx context.Context, botID string, since time.Time) ([]*model.OrderRecord, error)
}

// SettlementEngine applies realized trading results to managed
// positions and charges profit share above the high-water mark.
// Settlements for one position are serialized with a per-position
// mutex; nothing else mutates position balances.
type SettlementEngine struct {
	positions PositionStore
	ledger    TradeLedger
	plans     PlanStore
	log       *logger.Logger
	now       func() time.Time

	locks sync.Map // positionID -> *sync.Mutex
}

func NewSettlementEngine(positions PositionStore, ledger TradeLedger, plans PlanStore) *SettlementEngine {
	return &SettlementEngine{
		positions: positions,
		ledger:    ledger,
		plans:     plans,
		log:       logger.GetLogger(),
		now:       time.Now,
	}
}

func (e *SettlementEngine) positionLock(positionID string) *sync.Mutex {
	lock, _ := e.locks.LoadOrStore(positionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// CreatePosition opens a managed bot position under a subscription's
// managed plan terms
func (e *SettlementEngine) CreatePosition(ctx context.Context, investorID string, req *model.CreatePositionRequest) (*model.ManagedBotPosition, error) {
	// 1. Validate parameters
	investment, err := decimal.NewFromString(req.InitialInvestment)
	if err != nil || !investment.IsPositive() {
		return nil, util.ErrValidation("Initial investment must be a positive number")
	}

	sub, plan, err := e.plans.ResolvePlan(ctx, req.SubscriptionID)
	if err != nil {
		return nil, util.ErrForbidden("No active subscription")
	}
	if !sub.IsActive() {
		return nil, util.ErrForbidden("Subscription is not active")
	}
	if plan.PlanType != model.PlanTypeManagedBot {
		return nil, util.ErrBadRequest("Subscription plan does not include managed bots")
	}
	if investment.LessThan(plan.MinInvestment) {
		return nil, util.ErrValidation(fmt.Sprintf("Minimum investment is %s", plan.MinInvestment.String()))
	}

	// 2. Open the position at its initial balance and water mark
	position := &model.ManagedBotPosition{
		PositionID:            uuid.New().String(),
		InvestorID:            investorID,
		BotID:                 req.BotID,
		SubscriptionID:        req.SubscriptionID,
		InitialInvestment:     investment,
		CurrentBalance:        investment,
		ProfitSharePercentage: plan.ProfitSharePercentage,
		ProfitSharePaid:       decimal.Zero,
		HighWaterMark:         investment,
	}

	if err := e.positions.Create(ctx, position); err != nil {
		e.log.Errorf("Failed to create position: %v", err)
		return nil, util.ErrInternalServer("Failed to create position")
	}

	return position, nil
}

// GetPosition retrieves a position and verifies ownership
func (e *SettlementEngine) GetPosition(ctx context.Context, investorID, positionID string) (*model.ManagedBotPosition, error) {
	position, err := e.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, util.ErrNotFound("Position not found")
	}
	if position.InvestorID != investorID {
		return nil, util.ErrForbidden("Access denied")
	}
	return position, nil
}

// ListPositions lists all of an investor's positions
func (e *SettlementEngine) ListPositions(ctx context.Context, investorID string) ([]*model.ManagedBotPosition, error) {
	return e.positions.ListByInvestor(ctx, investorID)
}

// ArchivePosition closes a position to further settlement
func (e *SettlementEngine) ArchivePosition(ctx context.Context, investorID, positionID string) error {
	lock := e.positionLock(positionID)
	lock.Lock()
	defer lock.Unlock()

	position, err := e.GetPosition(ctx, investorID, positionID)
	if err != nil {
		return err
	}

	position.Archived = true
	return e.positions.Update(ctx, position)
}

// Settle folds the bot's realized trades since the last settlement
// into the position balance and charges profit share on gains above
// the high-water mark. Settling with no new trades is a no-op, so the
// operation is idempotent at any ledger snapshot.
func (e *SettlementEngine) Settle(ctx context.Context, investorID, positionID string) (*model.SettlementResult, error) {
	lock := e.positionLock(positionID)
	lock.Lock()
	defer lock.Unlock()

	position, err := e.GetPosition(ctx, investorID, positionID)
	if err != nil {
		return nil, err
	}
	if position.Archived {
		return nil, util.ErrBadRequest("Position is archived")
	}

	var since time.Time
	if position.LastSettledAt != nil {
		since = *position.LastSettledAt
	}

	entries, err := e.ledger.EntriesSince(ctx, position.BotID, since)
	if err != nil {
		e.log.Errorf("Failed to load ledger for bot %s: %v", position.BotID, err)
		return nil, util.ErrInternalServer("Failed to load trade ledger")
	}

	realized, trades, wins, losses := fifoRealized(entries)

	newBalance := position.CurrentBalance.Add(realized)

	// Profit share applies only to the slice of balance above the
	// previous peak. Losses lower the balance but never the mark, so
	// recovering back to the mark is free.
	hwm := position.HighWaterMark
	if hwm.IsZero() {
		hwm = position.InitialInvestment
	}

	chargeable := decimal.Zero
	if newBalance.GreaterThan(hwm) {
		chargeable = newBalance.Sub(hwm)
		hwm = newBalance
	}

	share := chargeable.Mul(position.ProfitSharePercentage).Div(decimal.NewFromInt(100))

	now := e.now()
	position.CurrentBalance = newBalance
	position.HighWaterMark = hwm
	position.ProfitSharePaid = position.ProfitSharePaid.Add(share)
	position.TotalTrades += trades
	position.WinningTrades += wins
	position.LosingTrades += losses
	position.LastSettledAt = &now

	if err := e.positions.Update(ctx, position); err != nil {
		e.log.Errorf("Failed to persist settlement for position %s: %v", positionID, err)
		return nil, util.ErrInternalServer("Failed to persist settlement")
	}

	return &model.SettlementResult{
		PositionID:     positionID,
		CurrentBalance: position.CurrentBalance,
		HighWaterMark:  position.HighWaterMark,
		ChargeableGain: chargeable,
		ShareDue:       share,
		Charged:        share.IsPositive(),
		SettledAt:      now,
	}, nil
}

// AggregatePerformance folds all of an investor's open positions into
// one summary
func (e *SettlementEngine) AggregatePerformance(ctx context.Context, investorID string, periodDays int) (*model.PerformanceSummary, error) {
	positions, err := e.positions.ListByInvestor(ctx, investorID)
	if err != nil {
		return nil, util.ErrInternalServer("Failed to load positions")
	}

	summary := &model.PerformanceSummary{
		PeriodDays:       periodDays,
		TotalInvested:    decimal.Zero,
		CurrentValue:     decimal.Zero,
		NetProfit:        decimal.Zero,
		ProfitPercentage: decimal.Zero,
		WinRate:          decimal.Zero,
		BotBreakdown:     []model.BotPerformance{},
	}

	for _, p := range positions {
		if p.Archived {
			continue
		}

		summary.TotalInvested = summary.TotalInvested.Add(p.InitialInvestment)
		summary.CurrentValue = summary.CurrentValue.Add(p.CurrentBalance)
		summary.TotalTrades += p.TotalTrades
		summary.WinningTrades += p.WinningTrades
		summary.LosingTrades += p.LosingTrades

		summary.BotBreakdown = append(summary.BotBreakdown, model.BotPerformance{
			BotID:             p.BotID,
			PositionID:        p.PositionID,
			InitialInvestment: p.InitialInvestment,
			CurrentBalance:    p.CurrentBalance,
			NetProfit:         p.NetReturn(),
			ProfitPercentage:  p.NetReturnPercentage(),
			TotalTrades:       p.TotalTrades,
		})
	}

	summary.NetProfit = summary.CurrentValue.Sub(summary.TotalInvested)
	if summary.TotalInvested.IsPositive() {
		summary.ProfitPercentage = summary.NetProfit.Div(summary.TotalInvested).Mul(decimal.NewFromInt(100))
	}
	if decided := summary.WinningTrades + summary.LosingTrades; decided > 0 {
		summary.WinRate = decimal.NewFromInt(int64(summary.WinningTrades)).
			Div(decimal.NewFromInt(int64(decided))).
			Mul(decimal.NewFromInt(100))
	}

	return summary, nil
}

type buyLot struct {
	quantity decimal.Decimal
	price    decimal.Decimal
}

// fifoRealized matches sells against buys in arrival order and
// returns the net realized gain plus trade statistics. Sell quantity
// with no matching buy lot is skipped; it belongs to inventory
// acquired before this window.
func fifoRealized(entries []*model.OrderRecord) (realized decimal.Decimal, trades, wins, losses int) {
	realized = decimal.Zero
	var lots []buyLot

	for _, entry := range entries {
		if entry.Status != model.OrderStatusExecuted || entry.ExecutedPrice == nil || entry.ExecutedQuantity == nil {
			continue
		}

		price := *entry.ExecutedPrice
		qty := *entry.ExecutedQuantity

		switch entry.Action {
		case model.ActionBuy:
			lots = append(lots, buyLot{quantity: qty, price: price})

		case model.ActionSell:
			gain := decimal.Zero
			matched := false
			remaining := qty

			for len(lots) > 0 && remaining.IsPositive() {
				lot := &lots[0]
				take := decimal.Min(lot.quantity, remaining)

				gain = gain.Add(price.Sub(lot.price).Mul(take))
				lot.quantity = lot.quantity.Sub(take)
				remaining = remaining.Sub(take)
				matched = true

				if !lot.quantity.IsPositive() {
					lots = lots[1:]
				}
			}

			if matched {
				realized = realized.Add(gain)
				trades++
				if gain.IsPositive() {
					wins++
				} else if gain.IsNegative() {
					losses++
				}
			}
		}
	}

	return realized, trades, wins, losses
}
