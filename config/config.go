package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	DatabaseURL   string
	RedisURL      string
	RunMigrations bool

	// JWT
	JWTSecret string

	// OpenAI
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int

	// Agent loop
	AgentMaxIterations int
	AgentHistoryLimit  int
	DefaultTimezone    string

	// Delivery (WhatsApp gateway)
	DeliveryBaseURL    string
	DeliveryAPIKey     string
	DeliveryTimeoutSec int

	// Worker
	WorkerID        string
	WorkerMax       int
	WorkerQueueSize int

	// Consumer (Redis Stream)
	InboundStream      string
	ConsumerGroup      string
	ConsumerBatchSize  int
	ConsumerBlockMS    int
	ConsumerMaxRetries int

	// Cache
	AgentCacheTTLSec  int
	AgentCacheMaxCost int64
	DedupeTTLSec      int

	// Inbound endpoint
	RateLimitPerMinute int

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Database
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		RunMigrations: getEnvBool("RUN_MIGRATIONS", true),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 60),

		// Agent loop
		AgentMaxIterations: getEnvInt("AGENT_MAX_ITERATIONS", 5),
		AgentHistoryLimit:  getEnvInt("AGENT_HISTORY_LIMIT", 20),
		DefaultTimezone:    getEnv("DEFAULT_TIMEZONE", "America/Sao_Paulo"),

		// Delivery
		DeliveryBaseURL:    getEnv("DELIVERY_BASE_URL", ""),
		DeliveryAPIKey:     getEnv("DELIVERY_API_KEY", ""),
		DeliveryTimeoutSec: getEnvInt("DELIVERY_TIMEOUT_SEC", 15),

		// Worker
		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerMax:       getEnvInt("WORKER_MAX", 20),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 1000),

		// Consumer
		InboundStream:      getEnv("INBOUND_STREAM", "agent:inbound"),
		ConsumerGroup:      getEnv("CONSUMER_GROUP", "agent-workers"),
		ConsumerBatchSize:  getEnvInt("CONSUMER_BATCH_SIZE", 50),
		ConsumerBlockMS:    getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries: getEnvInt("CONSUMER_MAX_RETRIES", 3),

		// Cache
		AgentCacheTTLSec:  getEnvInt("AGENT_CACHE_TTL_SEC", 60),
		AgentCacheMaxCost: int64(getEnvInt("AGENT_CACHE_MAX_COST", 1<<20)),
		DedupeTTLSec:      getEnvInt("DEDUPE_TTL_SEC", 600),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 600),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}

	if cfg.AgentMaxIterations < 1 {
		return nil, fmt.Errorf("AGENT_MAX_ITERATIONS must be >= 1, got %d", cfg.AgentMaxIterations)
	}
	if cfg.AgentHistoryLimit < 0 {
		return nil, fmt.Errorf("AGENT_HISTORY_LIMIT must be >= 0, got %d", cfg.AgentHistoryLimit)
	}
	return cfg, nil
}

// Timeouts as durations.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSec) * time.Second
}

func (c *Config) AgentCacheTTL() time.Duration {
	return time.Duration(c.AgentCacheTTLSec) * time.Second
}

func (c *Config) DedupeTTL() time.Duration {
	return time.Duration(c.DedupeTTLSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
