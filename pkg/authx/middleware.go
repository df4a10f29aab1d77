package authx

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const localsKey = "auth"

// Middleware authenticates fiber requests. A nil *Middleware, or one built
// without a token service, lets every request through.
type Middleware struct {
	tokens *TokenService
}

// NewMiddleware creates the guard. tokens may be nil to disable auth.
func NewMiddleware(tokens *TokenService) *Middleware {
	return &Middleware{tokens: tokens}
}

// Enabled reports whether requests are checked.
func (m *Middleware) Enabled() bool { return m != nil && m.tokens != nil }

// Authenticate reads the token from the Authorization header, then the
// "token" query parameter (browsers cannot set headers on websocket
// upgrades), then the access_token cookie.
func (m *Middleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.Enabled() {
			return c.Next()
		}

		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			token = c.Cookies("access_token")
		}
		if token == "" {
			return authxErrors.New(ErrUnauthorized)
		}

		claims, err := m.tokens.Validate(token)
		if err != nil {
			return err
		}
		c.Locals(localsKey, claims)
		return c.Next()
	}
}

// RequireScope rejects requests whose token lacks scope. It must run after
// Authenticate.
func (m *Middleware) RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !m.Enabled() {
			return c.Next()
		}
		claims, ok := ClaimsFrom(c)
		if !ok {
			return authxErrors.New(ErrUnauthorized)
		}
		if !claims.HasScope(scope) {
			return authxErrors.New(ErrMissingScope).WithDetail("scope", scope)
		}
		return c.Next()
	}
}

// ClaimsFrom returns the claims stored by Authenticate.
func ClaimsFrom(c *fiber.Ctx) (*Claims, bool) {
	claims, ok := c.Locals(localsKey).(*Claims)
	return claims, ok && claims != nil
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
