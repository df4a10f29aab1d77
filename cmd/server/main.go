// Command server exposes the job queue over HTTP and relays queue events to
// websocket clients.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"

	"github.com/Abraxas-365/jobrelay/internal/container"
	"github.com/Abraxas-365/jobrelay/pkg/alertx"
	"github.com/Abraxas-365/jobrelay/pkg/authx"
	"github.com/Abraxas-365/jobrelay/pkg/config"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxarchive"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
	"github.com/Abraxas-365/jobrelay/pkg/metricx"
	"github.com/Abraxas-365/jobrelay/pkg/notifx"
	"github.com/Abraxas-365/jobrelay/pkg/notifx/notifxfiber"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.New(logx.DefaultConfig()).Fatalf("configuration: %v", err)
	}
	log := cfg.Logger()
	log.Info("🚀 Starting jobrelay API server...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.New(ctx, cfg, log)
	if err != nil {
		log.Fatalf("container: %v", err)
	}
	defer c.Cleanup()

	hub := notifx.NewHub(log,
		notifx.WithPingInterval(cfg.Hub.PingInterval),
		notifx.WithClientTimeout(cfg.Hub.ClientTimeout),
		notifx.WithSendBuffer(cfg.Hub.SendBuffer),
		notifx.WithBroadcastBuffer(cfg.Hub.BroadcastBuffer),
		notifx.WithWriteWait(cfg.Hub.WriteWait),
		notifx.WithObserver(c.Metrics),
	)

	s := &server{
		cfg:     cfg,
		log:     log.Named("api"),
		store:   c.Store,
		hub:     hub,
		auth:    authx.NewMiddleware(tokenService(cfg.Auth)),
		metrics: metricx.Handler(c.Registry),
		started: time.Now(),
	}
	if cfg.Hub.UpgradeRate > 0 {
		s.limiter = notifxfiber.NewIPRateLimiter(cfg.Hub.UpgradeRate, cfg.Hub.UpgradeBurst, 10*time.Minute)
		defer s.limiter.Close()
	}

	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	var bg sync.WaitGroup
	startBackground := func(name string, run func(context.Context) error) {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := run(bgCtx); err != nil {
				log.WithError(err).WithField("service", name).Error("background service stopped")
			}
		}()
	}

	log.Info("🔄 Starting background services...")
	startBackground("hub", hub.Run)
	startBackground("subscriber", func(ctx context.Context) error {
		return notifx.RunSubscriber(ctx, c.Store, hub, log)
	})

	sender, err := c.AlertSender(ctx)
	if err != nil {
		log.Fatalf("alerts: %v", err)
	}
	alerter := alertx.NewAlerter(c.Store, c.Store, sender, log,
		alertx.WithFrom(cfg.Alert.From),
		alertx.WithRecipients(cfg.Alert.Recipients...),
		alertx.WithSubjectPrefix(cfg.Alert.SubjectPrefix),
	)
	if alerter.Enabled() {
		startBackground("alerts", alerter.Run)
	}

	archiveFS, err := c.ArchiveFS(ctx)
	if err != nil {
		log.Fatalf("archive: %v", err)
	}
	if archiveFS != nil {
		s.archive = jobxarchive.New(c.Store, c.Store, archiveFS, cfg.Archive.Prefix, log)
		startBackground("archive", s.archive.Run)
	}

	app := newApp(s)
	printRouteSummary(log, s)

	go func() {
		log.Info(strings.Repeat("=", 60))
		log.Infof("🚀 Server listening on port %s", cfg.Server.Port)
		log.Infof("💚 Health Check: http://localhost:%s/health", cfg.Server.Port)
		log.Info(strings.Repeat("=", 60))
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.WithError(err).Error("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Shutting down gracefully...")

	stopBackground()
	bg.Wait()

	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	log.Info("✅ Server exited successfully")
}

func tokenService(ac config.AuthConfig) *authx.TokenService {
	if !ac.Enabled() {
		return nil
	}
	return authx.NewTokenService(ac.JWTSecret, ac.TokenTTL, ac.Issuer)
}

func printRouteSummary(log *logx.Logger, s *server) {
	log.Info("📋 Route Summary:")
	log.Info("   ├─ Health: /health, /health/live, /health/ready, /health/ping")
	log.Info("   ├─ Queue: /api/queue/stats, /api/jobs/pending, /api/jobs/:id, /api/jobs/:id/cancel")
	log.Info("   ├─ Workers: /api/workers")
	log.Info("   ├─ Events: /ws, /ws/stats")
	log.Info("   └─ Metrics: /metrics")
	log.WithFields(logx.Fields{
		"auth":    s.auth.Enabled(),
		"archive": s.archive != nil,
		"limiter": s.limiter != nil,
	}).Info("features")
}
