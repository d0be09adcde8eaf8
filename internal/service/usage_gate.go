package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"botforge/backend/internal/model"
	"botforge/backend/internal/util"
	"botforge/backend/pkg/logger"
)

// PlanStore resolves a subscription to its plan
type PlanStore interface {
	ResolvePlan(ctx context.Context, subscriptionID string) (*model.Subscription, *model.Plan, error)
}

// UsageMeter maintains the fixed-window usage counters
type UsageMeter interface {
	IncrAPICall(ctx context.Context, subscriptionID string, now time.Time) (int64, error)
	IncrWebhook(ctx context.Context, subscriptionID string, now time.Time) (int64, error)
	WebhookWindowReset(now time.Time) time.Duration
}

// UsageGate enforces plan quotas. Metered counters live in Redis;
// the concurrent bot gauge is process-local and owned by the
// orchestrator's acquire/release calls.
type UsageGate struct {
	plans PlanStore
	meter UsageMeter
	log   *logger.Logger
	now   func() time.Time

	// webhookDefault applies when the plan leaves the per-minute
	// webhook quota unset
	webhookDefault int64

	mu         sync.Mutex
	concurrent map[string]int64
}

func NewUsageGate(plans PlanStore, meter UsageMeter, webhookDefault int64) *UsageGate {
	return &UsageGate{
		plans:          plans,
		meter:          meter,
		log:            logger.GetLogger(),
		now:            time.Now,
		webhookDefault: webhookDefault,
		concurrent:     make(map[string]int64),
	}
}

func (g *UsageGate) resolveActive(ctx context.Context, subscriptionID string) (*model.Plan, error) {
	sub, plan, err := g.plans.ResolvePlan(ctx, subscriptionID)
	if err != nil {
		return nil, util.ErrForbidden("No active subscription")
	}
	if !sub.IsActive() {
		return nil, util.ErrForbidden("Subscription is not active")
	}
	return plan, nil
}

// CheckAndIncrementAPICall admits one API call against the daily quota.
// The counter moves before the comparison, so concurrent callers can
// never both land under the limit.
func (g *UsageGate) CheckAndIncrementAPICall(ctx context.Context, subscriptionID string) error {
	plan, err := g.resolveActive(ctx, subscriptionID)
	if err != nil {
		return err
	}

	limit := plan.Limit(model.ResourceAPICall)
	if limit <= 0 {
		return nil
	}

	count, err := g.meter.IncrAPICall(ctx, subscriptionID, g.now())
	if err != nil {
		g.log.Errorf("Failed to increment API call counter for %s: %v", subscriptionID, err)
		return util.ErrInternalServer("Usage metering unavailable")
	}

	if count > limit {
		return util.ErrQuotaExceeded(fmt.Sprintf("Daily API call quota of %d exceeded", limit))
	}
	return nil
}

// CheckAndIncrementWebhook admits one webhook delivery against the
// per-minute quota. On rejection the error details carry the seconds
// until the window resets.
func (g *UsageGate) CheckAndIncrementWebhook(ctx context.Context, subscriptionID string) error {
	plan, err := g.resolveActive(ctx, subscriptionID)
	if err != nil {
		return err
	}

	limit := plan.Limit(model.ResourceWebhookRequest)
	if limit <= 0 {
		limit = g.webhookDefault
	}
	if limit <= 0 {
		return nil
	}

	now := g.now()
	count, err := g.meter.IncrWebhook(ctx, subscriptionID, now)
	if err != nil {
		g.log.Errorf("Failed to increment webhook counter for %s: %v", subscriptionID, err)
		return util.ErrInternalServer("Usage metering unavailable")
	}

	if count > limit {
		reset := g.meter.WebhookWindowReset(now)
		return util.ErrRateLimited(
			fmt.Sprintf("Webhook quota of %d per minute exceeded", limit),
			fmt.Sprintf("Window resets in %d seconds", int(reset.Seconds())+1),
		)
	}
	return nil
}

// AcquireBotSlot reserves one concurrent bot slot, failing when the
// plan ceiling is already reached
func (g *UsageGate) AcquireBotSlot(ctx context.Context, subscriptionID string) error {
	plan, err := g.resolveActive(ctx, subscriptionID)
	if err != nil {
		return err
	}

	limit := plan.Limit(model.ResourceConcurrentBot)

	g.mu.Lock()
	defer g.mu.Unlock()

	if limit > 0 && g.concurrent[subscriptionID] >= limit {
		return util.ErrQuotaExceeded(fmt.Sprintf("Concurrent bot limit of %d reached", limit))
	}
	g.concurrent[subscriptionID]++
	return nil
}

// ReleaseBotSlot frees a slot taken by AcquireBotSlot. Safe to call
// for a subscription holding no slots.
func (g *UsageGate) ReleaseBotSlot(subscriptionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.concurrent[subscriptionID] <= 1 {
		delete(g.concurrent, subscriptionID)
		return
	}
	g.concurrent[subscriptionID]--
}

// ConcurrentBots reports the current gauge for a subscription
func (g *UsageGate) ConcurrentBots(subscriptionID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.concurrent[subscriptionID]
}
