package main

import (
	"context"
	"net/http"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/authx"
	"github.com/Abraxas-365/jobrelay/pkg/config"
	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxarchive"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
	"github.com/Abraxas-365/jobrelay/pkg/notifx"
	"github.com/Abraxas-365/jobrelay/pkg/notifx/notifxfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

// store is the part of the container's backend the API reads and cancels
// through.
type store interface {
	jobx.JobStatusReader
	Cancel(ctx context.Context, jobID string) error
	ListHealth(ctx context.Context) ([]jobx.HealthRecord, error)
	Ping(ctx context.Context) error
}

// server carries everything the handlers need.
type server struct {
	cfg     *config.Config
	log     *logx.Logger
	store   store
	hub     *notifx.Hub
	archive *jobxarchive.Archiver
	auth    *authx.Middleware
	limiter *notifxfiber.IPRateLimiter
	metrics http.Handler
	started time.Time
}

func newApp(s *server) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "jobrelay API",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: s.cfg.Server.Debug,
	}))

	app.Use(requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: uuid.NewString,
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:  s.cfg.Server.CORSOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${ip} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/metrics" || c.Path() == "/health/live"
		},
	}))

	app.Get("/", s.info)
	app.Get("/health", s.health)
	app.Get("/health/live", s.live)
	app.Get("/health/ready", s.ready)
	app.Get("/health/ping", s.ping)
	if s.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(s.metrics))
	}

	api := app.Group("/api", s.auth.Authenticate())
	api.Get("/queue/stats", s.auth.RequireScope(authx.ScopeJobsRead), s.queueStats)
	api.Get("/jobs/pending", s.auth.RequireScope(authx.ScopeJobsRead), s.pendingJobs)
	api.Get("/jobs/:id", s.auth.RequireScope(authx.ScopeJobsRead), s.getJob)
	api.Post("/jobs/:id/cancel", s.auth.RequireScope(authx.ScopeJobsCancel), s.cancelJob)
	api.Get("/workers", s.auth.RequireScope(authx.ScopeJobsRead), s.workers)

	notifxfiber.Register(app, s.hub, notifxfiber.Config{
		Guards:  []fiber.Handler{s.auth.Authenticate(), s.auth.RequireScope(authx.ScopeEvents)},
		Limiter: s.limiter,
		Log:     s.log,
	})

	app.Use(notFound)
	return app
}

// errorHandler converts errors to JSON responses.
func (s *server) errorHandler(c *fiber.Ctx, err error) error {
	reqID := c.GetRespHeader(fiber.HeaderXRequestID)

	if e, ok := err.(*fiber.Error); ok {
		return c.Status(e.Code).JSON(fiber.Map{
			"error":      e.Message,
			"code":       "FIBER_ERROR",
			"status":     e.Code,
			"request_id": reqID,
		})
	}

	fields := logx.Fields{
		"path":       c.Path(),
		"method":     c.Method(),
		"ip":         c.IP(),
		"request_id": reqID,
	}

	if e, ok := errx.As(err); ok {
		entry := s.log.WithFields(fields).WithError(err)
		if e.HTTPStatus >= fiber.StatusInternalServerError {
			entry.Error("request failed")
		} else {
			entry.Debug("request rejected")
		}

		response := fiber.Map{
			"error":      e.Message,
			"code":       e.Code,
			"type":       string(e.Type),
			"status":     e.HTTPStatus,
			"request_id": reqID,
		}
		if len(e.Details) > 0 {
			response["details"] = e.Details
		}
		if s.cfg.Server.Debug && e.Err != nil {
			response["underlying_error"] = e.Err.Error()
		}
		return c.Status(e.HTTPStatus).JSON(response)
	}

	s.log.WithFields(fields).WithError(err).Error("unexpected error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":      "Internal Server Error",
		"type":       string(errx.TypeInternal),
		"code":       "INTERNAL_ERROR",
		"message":    "An unexpected error occurred",
		"request_id": reqID,
	})
}

func notFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":      "Route not found",
		"code":       "NOT_FOUND",
		"path":       c.Path(),
		"method":     c.Method(),
		"request_id": c.GetRespHeader(fiber.HeaderXRequestID),
	})
}
