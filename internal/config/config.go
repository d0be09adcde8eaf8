package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Webhook      WebhookConfig
	Orchestrator OrchestratorConfig
	CORS         CORSConfig
	RateLimit    RateLimitConfig
	Log          LogConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host string
	Port string
	Env  string
	// PublicBaseURL is the externally reachable URL, used when
	// rendering webhook URLs for TradingView alert setup.
	PublicBaseURL string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// JWTConfig holds JWT token configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpire time.Duration
}

// WebhookConfig holds webhook intake configuration
type WebhookConfig struct {
	RequestsPerMinute int
	SecretBytes       int
	SignatureHeader   string
}

// OrchestratorConfig holds bot session lifecycle tuning
type OrchestratorConfig struct {
	ConnectTimeout time.Duration
	DrainTimeout   time.Duration
	SubmitTimeout  time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:          getEnv("SERVER_HOST", "0.0.0.0"),
			Port:          getEnv("SERVER_PORT", "8080"),
			Env:           getEnv("SERVER_ENV", "development"),
			PublicBaseURL: getEnv("SERVER_PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpire: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRE_MINUTES", 15)) * time.Minute,
		},
		Webhook: WebhookConfig{
			RequestsPerMinute: getEnvAsInt("WEBHOOK_REQUESTS_PER_MINUTE", 10),
			SecretBytes:       getEnvAsInt("WEBHOOK_SECRET_BYTES", 32),
			SignatureHeader:   getEnv("WEBHOOK_SIGNATURE_HEADER", "X-Signature"),
		},
		Orchestrator: OrchestratorConfig{
			ConnectTimeout: time.Duration(getEnvAsInt("ORCHESTRATOR_CONNECT_TIMEOUT_SECONDS", 10)) * time.Second,
			DrainTimeout:   time.Duration(getEnvAsInt("ORCHESTRATOR_DRAIN_TIMEOUT_SECONDS", 5)) * time.Second,
			SubmitTimeout:  time.Duration(getEnvAsInt("ORCHESTRATOR_SUBMIT_TIMEOUT_SECONDS", 10)) * time.Second,
			MaxRetries:     getEnvAsInt("ORCHESTRATOR_MAX_RETRIES", 2),
			RetryBackoff:   time.Duration(getEnvAsInt("ORCHESTRATOR_RETRY_BACKOFF_MS", 250)) * time.Millisecond,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}, ","),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

// Address returns the full server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string, separator string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, separator)
}
