package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/gofiber/fiber/v2"
)

const probeTimeout = 2 * time.Second

func (s *server) info(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "jobrelay",
		"version": s.cfg.Server.Version,
		"backend": s.cfg.Jobx.Backend,
		"endpoints": fiber.Map{
			"health":   "/health",
			"stats":    "/api/queue/stats",
			"pending":  "/api/jobs/pending",
			"job":      "/api/jobs/:id",
			"cancel":   "POST /api/jobs/:id/cancel",
			"workers":  "/api/workers",
			"ws":       "/ws",
			"ws_stats": "/ws/stats",
			"metrics":  "/metrics",
		},
		"auth_required": s.auth.Enabled(),
	})
}

func (s *server) pingStore(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
	defer cancel()
	return s.store.Ping(ctx)
}

func (s *server) health(c *fiber.Ctx) error {
	health := fiber.Map{
		"status":         "healthy",
		"service":        "jobrelay",
		"version":        s.cfg.Server.Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}

	if err := s.pingStore(c); err != nil {
		health["store"] = "unhealthy"
		health["store_error"] = err.Error()
		health["status"] = "degraded"
	} else {
		health["store"] = "healthy"
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
	defer cancel()
	if stats, err := s.hub.Stats(ctx); err != nil {
		health["hub"] = "stopped"
		health["status"] = "degraded"
	} else {
		health["hub"] = "running"
		health["connected_clients"] = stats.ConnectedClients
	}

	status := fiber.StatusOK
	if health["status"] == "degraded" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(health)
}

func (s *server) live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive"})
}

func (s *server) ready(c *fiber.Ctx) error {
	if err := s.pingStore(c); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func (s *server) ping(c *fiber.Ctx) error {
	return c.SendString("pong")
}

func (s *server) queueStats(c *fiber.Ctx) error {
	stats, err := s.store.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (s *server) pendingJobs(c *fiber.Ctx) error {
	jobs, err := s.store.GetPendingJobs(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

type jobResponse struct {
	Job             *jobx.Job       `json:"job,omitempty"`
	Status          jobx.Status     `json:"status"`
	Result          json.RawMessage `json:"result,omitempty"`
	ProgressPercent float64         `json:"progress_percent"`
	Processing      bool            `json:"processing"`
	Archived        bool            `json:"archived,omitempty"`
}

func (s *server) getJob(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")

	job, err := s.store.GetJob(ctx, id)
	if errx.IsCode(err, jobx.ErrJobNotFound) && s.archive != nil {
		if resp, ok := s.fromArchive(ctx, id); ok {
			return c.JSON(resp)
		}
	}
	if err != nil {
		return err
	}

	resp := jobResponse{
		Job:             job,
		Status:          job.Status,
		ProgressPercent: job.ProgressPercent(),
	}
	if result, err := s.store.GetResult(ctx, id); err == nil {
		resp.Result = result
	} else if !errx.IsCode(err, jobx.ErrResultNotFound) {
		return err
	}
	if resp.Processing, err = s.store.IsProcessing(ctx, id); err != nil {
		return err
	}
	return c.JSON(resp)
}

// fromArchive answers for a job whose store keys have expired.
func (s *server) fromArchive(ctx context.Context, id string) (jobResponse, bool) {
	rec, err := s.archive.Load(ctx, id)
	if err != nil {
		return jobResponse{}, false
	}
	resp := jobResponse{
		Job:             rec.Job,
		Status:          jobx.StatusCompleted,
		Result:          rec.Result,
		ProgressPercent: 100,
		Archived:        true,
	}
	if rec.Job != nil {
		resp.Status = rec.Job.Status
	}
	return resp, true
}

func (s *server) cancelJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.store.Cancel(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"job_id": id,
		"status": jobx.StatusCancelled,
	})
}

func (s *server) workers(c *fiber.Ctx) error {
	records, err := s.store.ListHealth(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"workers": records,
		"count":   len(records),
	})
}
