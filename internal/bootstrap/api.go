package bootstrap

import (
	"strings"
	"time"

	"agent_server/adapter/in/http"
	"agent_server/config"
	"agent_server/core/port/out"
	"agent_server/infra/middleware"
	"agent_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI builds the HTTP server. When w is non-nil the API shares its
// dependencies and exposes its pool counters on /metrics.
func NewAPI(cfg *config.Config, w *Worker) (*fiber.App, func(), error) {
	var deps *Dependencies
	cleanup := func() {}
	if w != nil {
		deps = w.deps
	} else {
		d, c, err := NewDependencies(cfg)
		if err != nil {
			logger.WithError(err).Error("Failed to initialize dependencies")
			return nil, nil, err
		}
		deps, cleanup = d, c
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             1 * 1024 * 1024,
		ReadTimeout:           30 * time.Second,
		// Synchronous inbound calls wait for the whole agent run.
		WriteTimeout: cfg.LLMTimeout()*time.Duration(cfg.AgentMaxIterations) + 30*time.Second,
		ServerHeader: "",
	})

	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if allowOrigins == "" || allowOrigins == "*" {
		allowOrigins = "http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders: "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		MaxAge:        86400,
	}))

	health := http.NewHealthHandler(deps.DB, deps.Redis)
	var poolStats http.PoolStatsFunc
	if w != nil {
		poolStats = w.poolStats
	}
	health.WithMetrics(deps.Latencies, deps.SQLDB.DB, poolStats).Register(app)

	// A nil *RedisProducer must not become a non-nil interface.
	var publisher out.InboundPublisher
	if deps.Producer != nil {
		publisher = deps.Producer
	}

	api := app.Group("/api/v1",
		middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).Handler(),
		middleware.JWTAuth(cfg.JWTSecret),
	)
	http.NewMessageHandler(deps.Conversation, publisher, deps.Latencies).Register(api)

	logger.Info("API routes registered")
	return app, cleanup, nil
}
