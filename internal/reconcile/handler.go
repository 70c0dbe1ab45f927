package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/logging"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature"

// Handler exposes the payment gateway webhook.
type Handler struct {
	reconciler *Reconciler
	secret     []byte
	logger     *slog.Logger
}

// NewHandler constructs a webhook handler. An empty secret disables signature checks.
func NewHandler(reconciler *Reconciler, secret string, logger *slog.Logger) *Handler {
	return &Handler{reconciler: reconciler, secret: []byte(secret), logger: logging.With(logger, "webhook")}
}

// Webhook acknowledges every event the core has dealt with, including ones it rejected, and
// answers 503 only when redelivery could succeed.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	body := c.Body()
	if len(h.secret) > 0 && !h.validSignature(body, c.Get(SignatureHeader)) {
		h.logger.WarnContext(c.UserContext(), "webhook signature mismatch", slog.String("ip", c.IP()))
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	}

	res, err := h.reconciler.HandleRaw(c.UserContext(), body)
	if err != nil && Retryable(err) {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"acknowledged": false,
			"error":        "temporarily unavailable",
		})
	}

	payload := fiber.Map{
		"acknowledged": true,
		"outcome":      res.Outcome,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	return c.Status(http.StatusOK).JSON(payload)
}

func (h *Handler) validSignature(body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(h.secret, body))
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}
