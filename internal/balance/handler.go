package balance

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/ledger"
)

// OpsHandler exposes on-demand reconciliation to operators.
type OpsHandler struct {
	projector *Projector
}

// NewOpsHandler builds the operator handler.
func NewOpsHandler(projector *Projector) *OpsHandler {
	return &OpsHandler{projector: projector}
}

// Check compares one account against its ledger. Drift is reported with 409.
func (h *OpsHandler) Check(c *fiber.Ctx) error {
	report, err := h.projector.Check(c.UserContext(), c.Params("userId"))
	switch {
	case err == nil:
		return c.Status(http.StatusOK).JSON(report)
	case errors.Is(err, ErrLedgerDrift):
		return c.Status(http.StatusConflict).JSON(report)
	case errors.Is(err, ledger.ErrUnknownAccount):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

// Sweep checks every account.
func (h *OpsHandler) Sweep(c *fiber.Ctx) error {
	res, err := h.projector.Sweep(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(res)
}
