package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/wallet"
)

// RegisterWalletRoutes wires the caller's wallet endpoints. idempotency guards withdrawal
// creation and may be nil when no cache is configured.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idempotency fiber.Handler) {
	group := r.Group("/wallet")
	group.Get("", h.Get)
	group.Get("/transactions", h.Transactions)
	if idempotency != nil {
		group.Post("/withdrawals", idempotency, h.CreateWithdrawal)
	} else {
		group.Post("/withdrawals", h.CreateWithdrawal)
	}
	group.Get("/withdrawals", h.Withdrawals)
	group.Get("/withdrawals/:id", h.Withdrawal)
}
