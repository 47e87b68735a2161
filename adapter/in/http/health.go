package http

import (
	"context"
	"database/sql"
	"time"

	"agent_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// PoolStatsFunc reports the worker pool counters, when the process runs one.
type PoolStatsFunc func() map[string]any

type HealthHandler struct {
	db        *pgxpool.Pool
	redis     *redis.Client
	sqlDB     *sql.DB
	latencies *metrics.Registry
	poolStats PoolStatsFunc
}

func NewHealthHandler(db *pgxpool.Pool, redis *redis.Client) *HealthHandler {
	return &HealthHandler{
		db:    db,
		redis: redis,
	}
}

// WithMetrics enables GET /metrics.
func (h *HealthHandler) WithMetrics(latencies *metrics.Registry, sqlDB *sql.DB, poolStats PoolStatsFunc) *HealthHandler {
	h.latencies = latencies
	h.sqlDB = sqlDB
	h.poolStats = poolStats
	return h
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	if h.latencies != nil {
		app.Get("/metrics", h.Metrics)
	}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["postgres"] = "healthy"
		}
	} else {
		checks["postgres"] = "not configured"
		allHealthy = false
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Metrics(c *fiber.Ctx) error {
	body := fiber.Map{
		"latency":  h.latencies.Snapshot(),
		"sql_pool": metrics.SQLPoolStats(h.sqlDB),
	}
	if h.db != nil {
		s := h.db.Stat()
		body["pgx_pool"] = fiber.Map{
			"total":    s.TotalConns(),
			"idle":     s.IdleConns(),
			"acquired": s.AcquiredConns(),
			"max":      s.MaxConns(),
		}
	}
	if h.poolStats != nil {
		body["worker_pool"] = h.poolStats()
	}
	return c.JSON(body)
}
