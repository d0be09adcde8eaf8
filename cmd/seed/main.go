package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"botforge/backend/internal/config"
	"botforge/backend/internal/model"
	"botforge/backend/internal/repository"
	"botforge/backend/pkg/jwt"
	"botforge/backend/pkg/redis"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize Redis
	redisClient, err := redis.New(redis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	planRepo := repository.NewPlanRepository(redisClient)
	ctx := context.Background()

	plans := []*model.Plan{
		{
			ID:                    "plan-starter",
			PlanType:              model.PlanTypeCustomBot,
			Name:                  "Starter",
			Description:           "Custom bots with modest quotas",
			APICallsPerDay:        1000,
			WebhookRequestsPerMin: 10,
			ConcurrentBots:        1,
			MonthlyPrice:          decimal.NewFromInt(9),
			Active:                true,
			CreatedAt:             time.Now(),
		},
		{
			ID:                    "plan-pro",
			PlanType:              model.PlanTypeCustomBot,
			Name:                  "Pro",
			Description:           "Custom bots for active traders",
			APICallsPerDay:        10000,
			WebhookRequestsPerMin: 60,
			ConcurrentBots:        5,
			MonthlyPrice:          decimal.NewFromInt(29),
			Active:                true,
			CreatedAt:             time.Now(),
		},
		{
			ID:                    "plan-managed",
			PlanType:              model.PlanTypeManagedBot,
			Name:                  "Managed",
			Description:           "Managed bots with profit sharing",
			APICallsPerDay:        10000,
			WebhookRequestsPerMin: 60,
			ConcurrentBots:        3,
			ProfitSharePercentage: decimal.NewFromInt(25),
			MinInvestment:         decimal.NewFromInt(100),
			MonthlyPrice:          decimal.NewFromInt(49),
			Active:                true,
			CreatedAt:             time.Now(),
		},
	}

	for _, plan := range plans {
		if existing, _ := planRepo.GetPlan(ctx, plan.ID); existing != nil {
			fmt.Printf("Plan %s already exists, skipping\n", plan.ID)
			continue
		}
		if err := planRepo.CreatePlan(ctx, plan); err != nil {
			log.Fatalf("Failed to create plan %s: %v", plan.ID, err)
		}
		fmt.Printf("✓ Plan created: %s (%s)\n", plan.Name, plan.ID)
	}

	// Demo subscription on the managed plan
	userID := uuid.New().String()
	sub := &model.Subscription{
		ID:               uuid.New().String(),
		UserID:           userID,
		PlanID:           "plan-managed",
		Status:           model.SubscriptionStatusActive,
		CurrentPeriodEnd: time.Now().AddDate(0, 1, 0),
		CreatedAt:        time.Now(),
	}
	if err := planRepo.CreateSubscription(ctx, sub); err != nil {
		log.Fatalf("Failed to create subscription: %v", err)
	}

	// Issue a token so the demo account can hit the API right away
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpire)
	token, err := jwtManager.GenerateAccessToken(userID, sub.ID, "user")
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}

	fmt.Printf("✓ Demo subscription created:\n")
	fmt.Printf("  User ID:         %s\n", userID)
	fmt.Printf("  Subscription ID: %s\n", sub.ID)
	fmt.Printf("  Plan:            plan-managed\n")
	fmt.Printf("  Access token:    %s\n", token)
}
