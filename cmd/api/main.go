package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"botforge/backend/internal/config"
	"botforge/backend/internal/exchange"
	"botforge/backend/internal/handler"
	"botforge/backend/internal/middleware"
	"botforge/backend/internal/repository"
	"botforge/backend/internal/service"
	"botforge/backend/pkg/jwt"
	"botforge/backend/pkg/logger"
	"botforge/backend/pkg/redis"
)

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log := logger.GetLogger()

	log.Info("Starting BotForge Backend...")
	log.Infof("Environment: %s", cfg.Server.Env)

	// Initialize Redis
	log.Info("Connecting to Redis...")
	redisClient, err := redis.New(redis.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal("Failed to connect to Redis", err)
	}
	defer redisClient.Close()
	log.Info("✓ Redis connected")

	// Set Gin mode
	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create Gin router
	router := gin.New()

	// Apply middleware
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	apiLimiter := middleware.NewRateLimiter(redisClient, cfg.RateLimit.RequestsPerMinute, time.Minute, "api")
	router.Use(apiLimiter.Limit())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "Redis connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"redis":  "connected",
		})
	})

	// Initialize JWT manager
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpire)

	// Initialize repositories
	endpointRepo := repository.NewEndpointRepository(redisClient)
	sessionRepo := repository.NewSessionRepository(redisClient)
	ledgerRepo := repository.NewLedgerRepository(redisClient)
	positionRepo := repository.NewPositionRepository(redisClient)
	planRepo := repository.NewPlanRepository(redisClient)
	usageRepo := repository.NewUsageRepository(redisClient)

	// Initialize services
	notificationService := service.NewNotificationService(redisClient)
	usageGate := service.NewUsageGate(planRepo, usageRepo, int64(cfg.Webhook.RequestsPerMinute))
	orchestrator := service.NewOrchestrator(
		sessionRepo,
		ledgerRepo,
		usageGate,
		notificationService,
		exchange.SimFactory(),
		cfg.Orchestrator,
	)
	securityGate := service.NewSecurityGate(endpointRepo, usageGate)
	settlementEngine := service.NewSettlementEngine(positionRepo, ledgerRepo, planRepo)
	endpointService := service.NewEndpointService(endpointRepo, planRepo, cfg.Server.PublicBaseURL, cfg.Webhook.SecretBytes)

	// Sessions left active by a previous process have no live adapter
	if err := orchestrator.RecoverStale(context.Background()); err != nil {
		log.Error("Failed to reconcile stale sessions", err)
	}

	// WebSocket hub
	wsHub := service.NewWSHub(redisClient)
	go wsHub.Run()
	go wsHub.StartPubSubListener(context.Background())

	// Initialize handlers
	webhookHandler := handler.NewWebhookHandler(securityGate, orchestrator, cfg.Webhook.SignatureHeader)
	sessionHandler := handler.NewSessionHandler(orchestrator)
	endpointHandler := handler.NewEndpointHandler(endpointService)
	settlementHandler := handler.NewSettlementHandler(settlementEngine)

	// Public webhook intake. The security gate does its own
	// authentication and per-subscription rate limiting.
	webhook := router.Group("/webhook")
	{
		webhook.POST("/receive/:secret", webhookHandler.Receive)
		webhook.GET("/test/:secret", webhookHandler.Test)
	}

	// API v1 group
	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	v1.Use(middleware.APIQuota(usageGate))
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", sessionHandler.Start)
			sessions.GET("", sessionHandler.List)
			sessions.GET("/statistics", sessionHandler.Statistics)
			sessions.GET("/:id", sessionHandler.Get)
			sessions.GET("/:id/orders", sessionHandler.Orders)
			sessions.POST("/:id/stop", sessionHandler.Stop)
		}

		endpoints := v1.Group("/endpoints")
		{
			endpoints.POST("", endpointHandler.Create)
			endpoints.GET("", endpointHandler.List)
			endpoints.GET("/:id", endpointHandler.Get)
			endpoints.PUT("/:id", endpointHandler.Update)
			endpoints.DELETE("/:id", endpointHandler.Delete)
			endpoints.POST("/:id/rotate", endpointHandler.RotateSecret)
			endpoints.GET("/:id/tradingview", endpointHandler.TradingViewConfig)
		}

		positions := v1.Group("/positions")
		{
			positions.POST("", settlementHandler.CreatePosition)
			positions.GET("", settlementHandler.ListPositions)
			positions.GET("/:id", settlementHandler.GetPosition)
			positions.POST("/:id/settle", settlementHandler.Settle)
			positions.POST("/:id/archive", settlementHandler.Archive)
		}

		v1.GET("/performance", settlementHandler.Performance)
		v1.GET("/ws", wsHub.ServeWS)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Infof("Server starting on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", err)
		}
	}()

	log.Info("✓ Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Stop running sessions before closing the HTTP listener so
	// queued orders get their drain window
	orchestrator.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", err)
	}

	log.Info("Server exited")
}
