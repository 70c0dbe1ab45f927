package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/withdrawal"
)

// Handler exposes wallet HTTP endpoints for the authenticated user.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type withdrawalRequest struct {
	Amount int64 `json:"amount"`
}

func userID(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return uid, nil
}

// Get returns the caller's balance.
func (h *Handler) Get(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	view, err := h.service.GetWallet(c.UserContext(), uid)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(view)
}

// Transactions returns a page of the caller's ledger entries.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	page, err := h.service.ListTransactions(c.UserContext(), uid, c.Query("cursor"), c.QueryInt("limit", 0))
	if err != nil {
		return toHTTPError(err)
	}
	items := make([]Transaction, 0, len(page.Entries))
	for _, e := range page.Entries {
		items = append(items, transactionOf(e))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"transactions": items,
		"next_cursor":  page.NextCursor,
	})
}

// CreateWithdrawal holds funds for a new withdrawal. Clients must send an Idempotency-Key so a
// retried request replays the first response instead of holding twice.
func (h *Handler) CreateWithdrawal(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	if c.Get("Idempotency-Key") == "" {
		return fiber.NewError(http.StatusBadRequest, "Idempotency-Key header is required")
	}
	var req withdrawalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.CreateWithdrawal(c.UserContext(), uid, req.Amount)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(WithdrawalOf(w))
}

// Withdrawals lists the caller's withdrawals.
func (h *Handler) Withdrawals(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	list, err := h.service.ListWithdrawals(c.UserContext(), uid, c.QueryInt("limit", 0))
	if err != nil {
		return toHTTPError(err)
	}
	items := make([]Withdrawal, 0, len(list))
	for _, w := range list {
		items = append(items, WithdrawalOf(w))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"withdrawals": items})
}

// Withdrawal returns one of the caller's withdrawals.
func (h *Handler) Withdrawal(c *fiber.Ctx) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	w, err := h.service.GetWithdrawal(c.UserContext(), uid, c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(WithdrawalOf(w))
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, withdrawal.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidCursor):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrUnknownAccount), errors.Is(err, withdrawal.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
