package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/reconcile"
)

// RegisterWebhookRoutes wires the payment gateway callback endpoint.
func RegisterWebhookRoutes(r fiber.Router, h *reconcile.Handler) {
	r.Post("/webhooks/payments", h.Webhook)
}
