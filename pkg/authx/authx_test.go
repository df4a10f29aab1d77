package authx_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/authx"
	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	ts := authx.NewTokenService("s3cret", time.Minute, "")
	tok, err := ts.Issue("ops", authx.ScopeJobsRead)
	require.NoError(t, err)

	claims, err := ts.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.HasScope(authx.ScopeJobsRead))
	assert.False(t, claims.HasScope(authx.ScopeJobsCancel))
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt, 2*time.Second)
}

func TestValidateRejectsForeignAndExpiredTokens(t *testing.T) {
	other := authx.NewTokenService("other", time.Minute, "")
	tok, err := other.Issue("ops")
	require.NoError(t, err)

	ts := authx.NewTokenService("s3cret", time.Minute, "")
	_, err = ts.Validate(tok)
	assert.True(t, errx.IsCode(err, authx.ErrInvalidToken))

	short := authx.NewTokenService("s3cret", -time.Minute, "")
	expired, err := short.Issue("ops")
	require.NoError(t, err)
	_, err = ts.Validate(expired)
	assert.True(t, errx.IsCode(err, authx.ErrInvalidToken))

	wrongIssuer, err := authx.NewTokenService("s3cret", time.Minute, "someone-else").Issue("ops")
	require.NoError(t, err)
	_, err = ts.Validate(wrongIssuer)
	assert.True(t, errx.IsCode(err, authx.ErrInvalidToken))
}

func TestIssueWithoutSecret(t *testing.T) {
	_, err := authx.NewTokenService("", 0, "").Issue("ops")
	assert.True(t, errx.IsCode(err, authx.ErrSecretNotDefined))
}

func newApp(m *authx.Middleware) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(errx.StatusOf(err))
		},
	})
	app.Get("/read", m.Authenticate(), m.RequireScope(authx.ScopeJobsRead), func(c *fiber.Ctx) error {
		if claims, ok := authx.ClaimsFrom(c); ok {
			return c.SendString(claims.Subject)
		}
		return c.SendString("anonymous")
	})
	return app
}

func TestMiddleware(t *testing.T) {
	ts := authx.NewTokenService("s3cret", time.Minute, "")
	app := newApp(authx.NewMiddleware(ts))

	reader, err := ts.Issue("reader", authx.ScopeJobsRead)
	require.NoError(t, err)
	noScope, err := ts.Issue("nobody")
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no token", "/read", "", fiber.StatusUnauthorized},
		{"bearer header", "/read", "Bearer " + reader, fiber.StatusOK},
		{"query token", "/read?token=" + reader, "", fiber.StatusOK},
		{"garbage token", "/read", "Bearer nope", fiber.StatusUnauthorized},
		{"missing scope", "/read", "Bearer " + noScope, fiber.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestDisabledMiddlewarePassesThrough(t *testing.T) {
	app := newApp(authx.NewMiddleware(nil))
	resp, err := app.Test(httptest.NewRequest("GET", "/read", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
