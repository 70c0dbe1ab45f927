package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/balance"
	"github.com/congo-pay/walletcore/internal/withdrawal"
)

// RegisterOpsRoutes wires operator endpoints behind guard.
func RegisterOpsRoutes(r fiber.Router, guard fiber.Handler, withdrawals *withdrawal.OpsHandler, balances *balance.OpsHandler) {
	ops := r.Group("/ops", guard)
	ops.Post("/withdrawals/:id/approve", withdrawals.Approve)
	ops.Post("/withdrawals/:id/reject", withdrawals.Reject)
	ops.Post("/withdrawals/:id/redispatch", withdrawals.Redispatch)
	ops.Get("/ledger/:userId/check", balances.Check)
	ops.Post("/ledger/sweep", balances.Sweep)
}
