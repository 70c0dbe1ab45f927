package withdrawal

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/ledger"
)

// OpsHandler exposes operator actions on withdrawals.
type OpsHandler struct {
	machine *Machine
}

// NewOpsHandler builds the operator handler.
func NewOpsHandler(machine *Machine) *OpsHandler {
	return &OpsHandler{machine: machine}
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type opsResponse struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	Status        Status `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

func respond(c *fiber.Ctx, w Request, status int) error {
	return c.Status(status).JSON(opsResponse{ID: w.ID, UserID: w.UserID, Amount: w.Amount, Status: w.Status, FailureReason: w.FailureReason})
}

// Approve moves a pending withdrawal to approved and dispatches the payout. A dispatch failure
// is reported as 202 with a warning since the approval itself committed.
func (h *OpsHandler) Approve(c *fiber.Ctx) error {
	w, err := h.machine.Approve(c.UserContext(), c.Params("id"))
	if errors.Is(err, ErrDispatchFailed) {
		return c.Status(http.StatusAccepted).JSON(opsResponse{ID: w.ID, UserID: w.UserID, Amount: w.Amount, Status: w.Status, Warning: err.Error()})
	}
	if err != nil {
		return toHTTPError(err)
	}
	return respond(c, w, http.StatusOK)
}

// Reject refuses a pending withdrawal.
func (h *OpsHandler) Reject(c *fiber.Ctx) error {
	var req rejectRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	w, err := h.machine.Reject(c.UserContext(), c.Params("id"), req.Reason)
	if err != nil {
		return toHTTPError(err)
	}
	return respond(c, w, http.StatusOK)
}

// Redispatch resends the payout of an approved withdrawal.
func (h *OpsHandler) Redispatch(c *fiber.Ctx) error {
	w, err := h.machine.Redispatch(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return respond(c, w, http.StatusAccepted)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ledger.ErrDuplicateEntry):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrDispatchFailed):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
