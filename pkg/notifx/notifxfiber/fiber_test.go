package notifxfiber_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/notifx"
	"github.com/Abraxas-365/jobrelay/pkg/notifx/notifxfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.SendStatus(errx.StatusOf(err))
		},
	})
}

func upgradeRequest() *http.Request {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	return req
}

func TestUpgradeRejectsPlainRequests(t *testing.T) {
	app := newApp()
	app.Get("/ws", notifxfiber.Upgrade(nil), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest("GET", "/ws", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)

	resp, err = app.Test(upgradeRequest())
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestUpgradeRateLimit(t *testing.T) {
	limiter := notifxfiber.NewIPRateLimiter(0.001, 2, time.Minute)
	defer limiter.Close()

	app := newApp()
	app.Get("/ws", notifxfiber.Upgrade(limiter), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for range 2 {
		resp, err := app.Test(upgradeRequest())
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp, err := app.Test(upgradeRequest())
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestRateLimiterEvictsIdleIPs(t *testing.T) {
	limiter := notifxfiber.NewIPRateLimiter(1, 1, 20*time.Millisecond)
	defer limiter.Close()

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))
	assert.Equal(t, 2, limiter.Tracked())

	require.Eventually(t, func() bool { return limiter.Tracked() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStatsHandler(t *testing.T) {
	hub := notifx.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()

	app := newApp()
	notifxfiber.Register(app, hub, notifxfiber.Config{})

	resp, err := app.Test(httptest.NewRequest("GET", "/ws/stats", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stats notifx.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 0, stats.ConnectedClients)
	assert.NotZero(t, stats.Timestamp)

	cancel()
	<-hub.Done()
	resp, err = app.Test(httptest.NewRequest("GET", "/ws/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
