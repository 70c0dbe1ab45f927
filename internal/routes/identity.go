package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/identity"
)

// RegisterIdentityRoutes wires registration. Registration also opens the user's ledger account.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
}

// RegisterProfileRoute wires the authenticated profile endpoint.
func RegisterProfileRoute(protected fiber.Router, h *identity.Handler) {
	protected.Get("/me", h.Me)
}
