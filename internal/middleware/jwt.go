package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/auth"
)

// TokenVerifier validates access tokens.
type TokenVerifier interface {
	VerifyAccess(ctx context.Context, token string) (*auth.Claims, error)
}

// JWTAuth returns a middleware that validates JWT access tokens and checks token version.
// Downstream handlers read the caller from c.Locals("user_id").
func JWTAuth(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := verifier.VerifyAccess(c.UserContext(), tokenStr)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}

		c.Locals("user_id", claims.Subject)
		c.Locals("role", claims.Role)
		c.Locals("token_version", claims.Version)
		return c.Next()
	}
}
