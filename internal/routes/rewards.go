package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nhatrang-rewards/rewards/internal/rewards"
)

// RegisterRewardsRoutes wires the member and points endpoints. creditGuards run in front of the
// endpoints that issue points.
func RegisterRewardsRoutes(r fiber.Router, h *rewards.Handler, creditGuards ...fiber.Handler) {
	guarded := func(final fiber.Handler) []fiber.Handler {
		chain := make([]fiber.Handler, 0, len(creditGuards)+1)
		chain = append(chain, creditGuards...)
		return append(chain, final)
	}

	r.Get("/operator/balance", h.OperatorBalance)

	users := r.Group("/users")
	users.Post("/register", h.Register)
	users.Get("/:phone", h.GetUser)
	users.Post("/:phone/points", guarded(h.CreditUser)...)

	accounts := r.Group("/accounts")
	accounts.Post("/:accountId/points", guarded(h.CreditAccount)...)
	accounts.Get("/:accountId/balance", h.AccountBalance)
}
