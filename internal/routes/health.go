package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	statusOK       = "ok"
	statusDisabled = "disabled"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	handler := func(c *fiber.Ctx) error {
		ledgerStatus := statusDisabled
		dbStatus := statusDisabled
		redisStatus := statusDisabled

		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()
		if d.Ledger != nil {
			ledgerStatus = statusOK
			if _, err := d.Ledger.OperatorBalance(ctx); err != nil {
				ledgerStatus = err.Error()
			}
		}
		if d.DB != nil {
			dbStatus = statusOK
			if err := d.DB.Ping(ctx); err != nil {
				dbStatus = err.Error()
			}
		}
		if d.Cache != nil {
			redisStatus = statusOK
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}

		healthy := true
		for _, s := range []string{ledgerStatus, dbStatus, redisStatus} {
			if s != statusOK && s != statusDisabled {
				healthy = false
			}
		}
		status := http.StatusOK
		message := d.Cfg.AppName + " is running"
		if !healthy {
			status = http.StatusServiceUnavailable
			message = d.Cfg.AppName + " is degraded"
		}
		return c.Status(status).JSON(fiber.Map{
			"success":   healthy,
			"message":   message,
			"status":    fiber.Map{"ledger": ledgerStatus, "postgres": dbStatus, "redis": redisStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
	app.Get("/", handler)
	app.Get("/healthz", handler)
}
