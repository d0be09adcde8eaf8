package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"botforge/backend/internal/model"
	"botforge/backend/pkg/redis"
)

// LedgerRepository stores the append-only order ledger. Records are
// immutable once written; intent keys make replays observable.
type LedgerRepository struct {
	redis *redis.Client
}

func NewLedgerRepository(redisClient *redis.Client) *LedgerRepository {
	return &LedgerRepository{
		redis: redisClient,
	}
}

// Append writes one terminal order record and its indexes
func (r *LedgerRepository) Append(ctx context.Context, record *model.OrderRecord) error {
	if err := r.redis.SetJSON(ctx, redis.OrderKey(record.OrderID), record, 0); err != nil {
		return err
	}

	score := float64(record.CreatedAt.UnixMilli())
	if err := r.redis.ZAdd(ctx, redis.SessionOrdersKey(record.SessionID), redislib.Z{
		Score:  score,
		Member: record.OrderID,
	}); err != nil {
		return err
	}

	if record.BotID != "" {
		if err := r.redis.ZAdd(ctx, redis.BotLedgerKey(record.BotID), redislib.Z{
			Score:  score,
			Member: record.OrderID,
		}); err != nil {
			return err
		}
	}

	// Intent index, written last so a crash never leaves an intent
	// pointing at a missing record
	return r.redis.Set(ctx, redis.IntentKey(record.SessionID, record.IntentID), record.OrderID, 0)
}

// GetByID retrieves an order record by ID
func (r *LedgerRepository) GetByID(ctx context.Context, orderID string) (*model.OrderRecord, error) {
	var record model.OrderRecord
	err := r.redis.GetJSON(ctx, redis.OrderKey(orderID), &record)
	if err != nil {
		if err == redislib.Nil {
			return nil, fmt.Errorf("order not found")
		}
		return nil, err
	}
	return &record, nil
}

// GetByIntent looks up the record an intent already produced.
// Returns (nil, nil) when the intent was never executed.
func (r *LedgerRepository) GetByIntent(ctx context.Context, sessionID, intentID string) (*model.OrderRecord, error) {
	orderID, err := r.redis.Get(ctx, redis.IntentKey(sessionID, intentID))
	if err != nil {
		if err == redislib.Nil {
			return nil, nil
		}
		return nil, err
	}
	return r.GetByID(ctx, orderID)
}

// ListBySession retrieves a session's orders in execution order
func (r *LedgerRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.OrderRecord, error) {
	orderIDs, err := r.redis.ZRange(ctx, redis.SessionOrdersKey(sessionID), 0, -1)
	if err != nil {
		return nil, err
	}
	return r.loadAll(ctx, orderIDs)
}

// EntriesSince retrieves a bot's ledger entries strictly after since,
// oldest first
func (r *LedgerRepository) EntriesSince(ctx context.Context, botID string, since time.Time) ([]*model.OrderRecord, error) {
	min := "-inf"
	if !since.IsZero() {
		// Exclusive lower bound so the boundary entry of the previous
		// settlement is not counted twice
		min = "(" + strconv.FormatInt(since.UnixMilli(), 10)
	}

	orderIDs, err := r.redis.ZRangeByScore(ctx, redis.BotLedgerKey(botID), min, "+inf")
	if err != nil {
		return nil, err
	}
	return r.loadAll(ctx, orderIDs)
}

func (r *LedgerRepository) loadAll(ctx context.Context, orderIDs []string) ([]*model.OrderRecord, error) {
	records := make([]*model.OrderRecord, 0, len(orderIDs))
	for _, id := range orderIDs {
		record, err := r.GetByID(ctx, id)
		if err == nil {
			records = append(records, record)
		}
	}
	return records, nil
}
