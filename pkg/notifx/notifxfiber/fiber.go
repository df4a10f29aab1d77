// Package notifxfiber serves a notifx.Hub over websockets on a fiber app.
package notifxfiber

import (
	"context"

	"github.com/Abraxas-365/jobrelay/pkg/logx"
	"github.com/Abraxas-365/jobrelay/pkg/notifx"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Upgrade rejects plain HTTP requests with 426 and, when limiter is
// non-nil, rate limits upgrades per client IP.
func Upgrade(limiter *IPRateLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return notifx.NewError(notifx.ErrUpgradeNeeded)
		}
		if limiter != nil && !limiter.Allow(c.IP()) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return notifx.NewError(notifx.ErrUpgradeLimited).WithDetail("ip", c.IP())
		}
		return c.Next()
	}
}

// Handler hands each upgraded connection to the hub for its lifetime.
func Handler(hub *notifx.Hub, log *logx.Logger) fiber.Handler {
	if log == nil {
		log = logx.Nop()
	}
	log = log.Named("ws")
	return websocket.New(func(conn *websocket.Conn) {
		if err := hub.Serve(context.Background(), conn); err != nil {
			log.WithError(err).Warn("websocket connection rejected")
		}
	})
}

// StatsHandler reports {connected_clients, timestamp}.
func StatsHandler(hub *notifx.Hub) fiber.Handler {
	return func(c *fiber.Ctx) error {
		stats, err := hub.Stats(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(stats)
	}
}

// Config wires the routes registered by Register.
type Config struct {
	// Guards run before the upgrade check, e.g. authx Authenticate.
	Guards  []fiber.Handler
	Limiter *IPRateLimiter
	Log     *logx.Logger
}

// Register mounts GET /ws and GET /ws/stats on r.
func Register(r fiber.Router, hub *notifx.Hub, cfg Config) {
	handlers := append([]fiber.Handler{}, cfg.Guards...)
	handlers = append(handlers, Upgrade(cfg.Limiter), Handler(hub, cfg.Log))
	r.Get("/ws", handlers...)
	r.Get("/ws/stats", StatsHandler(hub))
}
