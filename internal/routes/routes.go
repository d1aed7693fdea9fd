package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nhatrang-rewards/rewards/internal/config"
	"github.com/nhatrang-rewards/rewards/internal/metrics"
	"github.com/nhatrang-rewards/rewards/internal/middleware"
	"github.com/nhatrang-rewards/rewards/internal/rewards"
)

// LedgerChecker reports whether the ledger network answers.
type LedgerChecker interface {
	OperatorBalance(ctx context.Context) (int64, error)
}

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Rewards *rewards.Service
	Ledger  LedgerChecker
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Rewards == nil {
		return fmt.Errorf("rewards service is required")
	}
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, middleware.IdempotencyConfig{
			TTL:       d.Cfg.IdempotencyTTL,
			Required:  d.Cfg.IdempotencyRequired,
			Committed: rewards.Committed,
			Logger:    d.Logger,
		}))
	}

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"success":    true,
			"message":    "pong",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterRewardsRoutes(api, rewards.NewHandler(d.Rewards),
		middleware.APIKey(d.Cfg.Rewards.CreditAPIKeyHash),
		middleware.CreditRateLimit(d.Cache, d.Cfg.Rewards.CreditRateLimit, d.Logger),
	)

	return nil
}
