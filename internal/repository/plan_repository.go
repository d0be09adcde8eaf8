package repository

import (
	"context"
	"fmt"

	redislib "github.com/redis/go-redis/v9"

	"botforge/backend/internal/model"
	"botforge/backend/pkg/redis"
)

type PlanRepository struct {
	redis *redis.Client
}

func NewPlanRepository(redisClient *redis.Client) *PlanRepository {
	return &PlanRepository{
		redis: redisClient,
	}
}

// CreatePlan stores a plan definition
func (r *PlanRepository) CreatePlan(ctx context.Context, plan *model.Plan) error {
	return r.redis.SetJSON(ctx, redis.PlanKey(plan.ID), plan, 0)
}

// GetPlan retrieves a plan by ID
func (r *PlanRepository) GetPlan(ctx context.Context, planID string) (*model.Plan, error) {
	var plan model.Plan
	err := r.redis.GetJSON(ctx, redis.PlanKey(planID), &plan)
	if err != nil {
		if err == redislib.Nil {
			return nil, fmt.Errorf("plan not found")
		}
		return nil, err
	}
	return &plan, nil
}

// CreateSubscription stores a subscription
func (r *PlanRepository) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	return r.redis.SetJSON(ctx, redis.SubscriptionKey(sub.ID), sub, 0)
}

// GetSubscription retrieves a subscription by ID
func (r *PlanRepository) GetSubscription(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.redis.GetJSON(ctx, redis.SubscriptionKey(subscriptionID), &sub)
	if err != nil {
		if err == redislib.Nil {
			return nil, fmt.Errorf("subscription not found")
		}
		return nil, err
	}
	return &sub, nil
}

// ResolvePlan loads the plan attached to a subscription
func (r *PlanRepository) ResolvePlan(ctx context.Context, subscriptionID string) (*model.Subscription, *model.Plan, error) {
	sub, err := r.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, nil, err
	}

	plan, err := r.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}

	return sub, plan, nil
}
