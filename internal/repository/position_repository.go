package repository

import (
	"context"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"botforge/backend/internal/model"
	"botforge/backend/pkg/redis"
)

type PositionRepository struct {
	redis *redis.Client
}

func NewPositionRepository(redisClient *redis.Client) *PositionRepository {
	return &PositionRepository{
		redis: redisClient,
	}
}

// Create stores a new managed bot position
func (r *PositionRepository) Create(ctx context.Context, position *model.ManagedBotPosition) error {
	position.CreatedAt = time.Now()
	position.UpdatedAt = position.CreatedAt

	if err := r.redis.SetJSON(ctx, redis.PositionKey(position.PositionID), position, 0); err != nil {
		return err
	}

	return r.redis.SAdd(ctx, redis.InvestorPositionsKey(position.InvestorID), position.PositionID)
}

// GetByID retrieves a position by ID
func (r *PositionRepository) GetByID(ctx context.Context, positionID string) (*model.ManagedBotPosition, error) {
	var position model.ManagedBotPosition
	err := r.redis.GetJSON(ctx, redis.PositionKey(positionID), &position)
	if err != nil {
		if err == redislib.Nil {
			return nil, fmt.Errorf("position not found")
		}
		return nil, err
	}
	return &position, nil
}

// Update persists a position
func (r *PositionRepository) Update(ctx context.Context, position *model.ManagedBotPosition) error {
	position.UpdatedAt = time.Now()
	return r.redis.SetJSON(ctx, redis.PositionKey(position.PositionID), position, 0)
}

// ListByInvestor retrieves all of an investor's positions
func (r *PositionRepository) ListByInvestor(ctx context.Context, investorID string) ([]*model.ManagedBotPosition, error) {
	positionIDs, err := r.redis.SMembers(ctx, redis.InvestorPositionsKey(investorID))
	if err != nil {
		return nil, err
	}

	positions := make([]*model.ManagedBotPosition, 0, len(positionIDs))
	for _, id := range positionIDs {
		position, err := r.GetByID(ctx, id)
		if err == nil {
			positions = append(positions, position)
		}
	}

	return positions, nil
}

// Archive marks a position closed. Archived positions are excluded
// from settlement and performance aggregation.
func (r *PositionRepository) Archive(ctx context.Context, positionID string) error {
	position, err := r.GetByID(ctx, positionID)
	if err != nil {
		return err
	}

	position.Archived = true
	return r.Update(ctx, position)
}
