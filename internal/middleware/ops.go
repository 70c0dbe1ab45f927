package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// OpsKeyHeader authenticates operator requests.
const OpsKeyHeader = "X-Ops-Key"

// OpsKey admits requests carrying the configured operator key.
func OpsKey(key string) fiber.Handler {
	expected := []byte(key)
	return func(c *fiber.Ctx) error {
		got := []byte(c.Get(OpsKeyHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			return fiber.NewError(http.StatusUnauthorized, "invalid ops key")
		}
		c.Locals("actor", "ops")
		return c.Next()
	}
}
