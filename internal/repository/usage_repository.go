package repository

import (
	"context"
	"strconv"
	"time"

	"botforge/backend/pkg/redis"
)

// UsageRepository maintains the fixed-window usage counters backing
// plan quotas. Day buckets use UTC dates, minute buckets unix minutes.
type UsageRepository struct {
	redis *redis.Client
}

func NewUsageRepository(redisClient *redis.Client) *UsageRepository {
	return &UsageRepository{
		redis: redisClient,
	}
}

// IncrAPICall bumps today's API call counter and returns the new count
func (r *UsageRepository) IncrAPICall(ctx context.Context, subscriptionID string, now time.Time) (int64, error) {
	key := redis.UsageAPICallsKey(subscriptionID, dayBucket(now))
	return r.redis.IncrWithExpiry(ctx, key, 48*time.Hour)
}

// IncrWebhook bumps the current minute's webhook counter and returns
// the new count
func (r *UsageRepository) IncrWebhook(ctx context.Context, subscriptionID string, now time.Time) (int64, error) {
	key := redis.UsageWebhookKey(subscriptionID, minuteBucket(now))
	return r.redis.IncrWithExpiry(ctx, key, 2*time.Minute)
}

// WebhookWindowReset returns how long until the current minute window
// rolls over. Used for rate limit response details.
func (r *UsageRepository) WebhookWindowReset(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

// APICallCount reads today's counter without incrementing
func (r *UsageRepository) APICallCount(ctx context.Context, subscriptionID string, now time.Time) (int64, error) {
	val, err := r.redis.Get(ctx, redis.UsageAPICallsKey(subscriptionID, dayBucket(now)))
	if err != nil {
		return 0, nil
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, nil
	}
	return count, nil
}

func dayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func minuteBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04")
}
