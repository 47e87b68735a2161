package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"agent_server/adapter/out/delivery"
	"agent_server/adapter/out/messaging"
	"agent_server/adapter/out/persistence"
	"agent_server/config"
	"agent_server/core/agent"
	"agent_server/core/agent/llm"
	"agent_server/core/agent/tools"
	"agent_server/core/service/booking"
	"agent_server/core/service/conversation"
	"agent_server/infra/database"
	"agent_server/pkg/cache"
	"agent_server/pkg/logger"
	"agent_server/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const dedupePrefix = "dedupe:"

type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client
	Log    zerolog.Logger

	AgentCache *cache.LocalCache
	Latencies  *metrics.Registry
	Costs      *llm.CostTracker

	Producer     *messaging.RedisProducer
	Conversation *conversation.Service
}

// NewDependencies opens Postgres and Redis and wires the inbound pipeline:
// agent repository behind an L1 cache, tool registry, orchestrator, delivery.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required")
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(logger.ParseLevel(cfg.LogLevel).Zerolog()).
		With().Timestamp().Logger()

	if cfg.RunMigrations {
		if err := persistence.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
		logger.Info("Database migrations applied")
	}

	pgCfg := database.DefaultPostgresConfig()
	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, pgCfg)
	if err != nil {
		return fail(fmt.Errorf("connect postgres: %w", err))
	}
	cleanups = append(cleanups, db.Close)

	sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL, pgCfg)
	if err != nil {
		return fail(fmt.Errorf("connect sqlx: %w", err))
	}
	cleanups = append(cleanups, func() { _ = sqlDB.Close() })

	deps := &Dependencies{
		Config:    cfg,
		DB:        db,
		SQLDB:     sqlDB,
		Log:       zlog,
		Latencies: metrics.NewRegistry(1000),
		Costs:     llm.NewCostTracker(),
	}

	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL, nil)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		deps.Redis = rdb
		deps.Producer = messaging.NewRedisProducer(rdb, cfg.InboundStream)
	} else {
		logger.Warn("REDIS_URL not set: inbound dedupe and async processing disabled")
	}

	agentCache, err := cache.NewLocalCache(cfg.AgentCacheMaxCost)
	if err != nil {
		return fail(fmt.Errorf("agent cache: %w", err))
	}
	cleanups = append(cleanups, agentCache.Close)
	deps.AgentCache = agentCache

	deps.Conversation = newConversationService(deps)
	return deps, cleanup, nil
}

func newConversationService(d *Dependencies) *conversation.Service {
	cfg := d.Config

	llmClient := llm.NewClientWithConfig(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout(),
		Logger:      d.Log,
	})

	registry := tools.NewRegistry()
	registry.RegisterAll(tools.BookingTools(booking.NewService(persistence.NewBookingRepository(d.SQLDB)))...)

	executor := tools.NewExecutor(persistence.NewToolAuditRepository(d.DB), d.Log)
	orchestrator := agent.NewOrchestrator(llmClient, executor, cfg.AgentMaxIterations, d.Log)

	sender := delivery.NewEvolutionSender(delivery.EvolutionConfig{
		BaseURL: cfg.DeliveryBaseURL,
		APIKey:  cfg.DeliveryAPIKey,
		Timeout: cfg.DeliveryTimeout(),
		Logger:  d.Log,
	})

	deps := conversation.Deps{
		Agents:        persistence.NewCachedAgentRepository(persistence.NewAgentRepository(d.SQLDB), d.AgentCache, cfg.AgentCacheTTL()),
		Conversations: persistence.NewConversationRepository(d.SQLDB),
		Model:         llmClient,
		Runner:        orchestrator,
		Registry:      registry,
		Sender:        sender,
		Costs:         d.Costs,
		Logger:        d.Log,
	}
	if d.Redis != nil {
		deps.Dedupe = cache.NewRedisCache(d.Redis, dedupePrefix)
	}

	logger.Info("Agent pipeline ready: %d tools, max %d iterations", len(registry.ListNames()), cfg.AgentMaxIterations)

	return conversation.NewService(deps, conversation.Config{
		HistoryLimit:    cfg.AgentHistoryLimit,
		DefaultTimezone: cfg.DefaultTimezone,
		DefaultModel:    cfg.LLMModel,
		MaxTokens:       cfg.LLMMaxTokens,
		Temperature:     cfg.LLMTemperature,
		DedupeTTL:       cfg.DedupeTTL(),
	})
}
