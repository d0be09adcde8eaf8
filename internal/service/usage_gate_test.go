package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"botforge/backend/internal/model"
	"botforge/backend/internal/util"
)

func newTestUsageGate(plan *model.Plan) *UsageGate {
	sub := &model.Subscription{ID: "sub-1", UserID: "user-1", Status: model.SubscriptionStatusActive}
	return NewUsageGate(&fakePlanStore{sub: sub, plan: plan}, newFakeMeter(), 0)
}

func TestAPICallQuota(t *testing.T) {
	gate := newTestUsageGate(&model.Plan{APICallsPerDay: 3})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if err := gate.CheckAndIncrementAPICall(ctx, "sub-1"); err != nil {
			t.Fatalf("call %d should pass: %v", i+1, err)
		}
	}
	if err := gate.CheckAndIncrementAPICall(ctx, "sub-1"); !util.HasCode(err, util.ErrCodeQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}

	// The counter rolls over at the day boundary
	gate.now = func() time.Time { return base.Add(24 * time.Hour) }
	if err := gate.CheckAndIncrementAPICall(ctx, "sub-1"); err != nil {
		t.Fatalf("next day should pass: %v", err)
	}
}

func TestAPICallQuotaUnlimited(t *testing.T) {
	gate := newTestUsageGate(&model.Plan{APICallsPerDay: 0})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := gate.CheckAndIncrementAPICall(ctx, "sub-1"); err != nil {
			t.Fatalf("unlimited plan rejected call %d: %v", i+1, err)
		}
	}
}

func TestWebhookQuota(t *testing.T) {
	gate := newTestUsageGate(&model.Plan{WebhookRequestsPerMin: 2})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	gate.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		if err := gate.CheckAndIncrementWebhook(ctx, "sub-1"); err != nil {
			t.Fatalf("delivery %d should pass: %v", i+1, err)
		}
	}

	err := gate.CheckAndIncrementWebhook(ctx, "sub-1")
	if !util.HasCode(err, util.ErrCodeRateLimit) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	appErr := util.GetAppError(err)
	if !strings.Contains(appErr.Details, "resets in") {
		t.Fatalf("rejection should carry the window reset, got %q", appErr.Details)
	}

	// Fresh minute, fresh window
	gate.now = func() time.Time { return base.Add(time.Minute) }
	if err := gate.CheckAndIncrementWebhook(ctx, "sub-1"); err != nil {
		t.Fatalf("next window should pass: %v", err)
	}
}

func TestWebhookQuotaDefault(t *testing.T) {
	// Plan sets no webhook quota; the configured default governs
	sub := &model.Subscription{ID: "sub-1", Status: model.SubscriptionStatusActive}
	gate := NewUsageGate(&fakePlanStore{sub: sub, plan: &model.Plan{}}, newFakeMeter(), 2)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		if err := gate.CheckAndIncrementWebhook(ctx, "sub-1"); err != nil {
			t.Fatalf("delivery %d should pass: %v", i+1, err)
		}
	}
	if err := gate.CheckAndIncrementWebhook(ctx, "sub-1"); !util.HasCode(err, util.ErrCodeRateLimit) {
		t.Fatalf("expected rate limit at the default quota, got %v", err)
	}
}

func TestInactiveSubscription(t *testing.T) {
	sub := &model.Subscription{ID: "sub-1", Status: model.SubscriptionStatusCancelled}
	gate := NewUsageGate(&fakePlanStore{sub: sub, plan: &model.Plan{}}, newFakeMeter(), 0)
	ctx := context.Background()

	if err := gate.CheckAndIncrementAPICall(ctx, "sub-1"); !util.HasCode(err, util.ErrCodeForbidden) {
		t.Fatalf("expected forbidden for API call, got %v", err)
	}
	if err := gate.CheckAndIncrementWebhook(ctx, "sub-1"); !util.HasCode(err, util.ErrCodeForbidden) {
		t.Fatalf("expected forbidden for webhook, got %v", err)
	}
	if err := gate.AcquireBotSlot(ctx, "sub-1"); !util.HasCode(err, util.ErrCodeForbidden) {
		t.Fatalf("expected forbidden for bot slot, got %v", err)
	}
}

func TestBotSlotLimit(t *testing.T) {
	gate := newTestUsageGate(&model.Plan{ConcurrentBots: 2})
	ctx := context.Background()

	if err := gate.AcquireBotSlot(ctx, "sub-1"); err != nil {
		t.Fatalf("first slot: %v", err)
	}
	if err := gate.AcquireBotSlot(ctx, "sub-1"); err != nil {
		t.Fatalf("second slot: %v", err)
	}
	if err := gate.AcquireBotSlot(ctx, "sub-1"); !util.HasCode(err, util.ErrCodeQuotaExceeded) {
		t.Fatalf("expected quota exceeded on third slot, got %v", err)
	}

	gate.ReleaseBotSlot("sub-1")
	if err := gate.AcquireBotSlot(ctx, "sub-1"); err != nil {
		t.Fatalf("slot after release: %v", err)
	}
	if got := gate.ConcurrentBots("sub-1"); got != 2 {
		t.Fatalf("gauge: want 2, got %d", got)
	}
}

func TestBotSlotLimitConcurrent(t *testing.T) {
	const limit = 3
	gate := newTestUsageGate(&model.Plan{ConcurrentBots: limit})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- gate.AcquireBotSlot(ctx, "sub-1")
		}()
	}
	wg.Wait()
	close(results)

	var granted int
	for err := range results {
		if err == nil {
			granted++
		} else if !util.HasCode(err, util.ErrCodeQuotaExceeded) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if granted != limit {
		t.Fatalf("want %d grants, got %d", limit, granted)
	}
	if got := gate.ConcurrentBots("sub-1"); got != limit {
		t.Fatalf("gauge: want %d, got %d", limit, got)
	}
}

func TestReleaseBotSlotWithoutAcquire(t *testing.T) {
	gate := newTestUsageGate(&model.Plan{ConcurrentBots: 1})

	// A stray release must not push the gauge negative
	gate.ReleaseBotSlot("sub-1")
	if got := gate.ConcurrentBots("sub-1"); got != 0 {
		t.Fatalf("gauge: want 0, got %d", got)
	}

	if err := gate.AcquireBotSlot(context.Background(), "sub-1"); err != nil {
		t.Fatalf("acquire after stray release: %v", err)
	}
}
