// Command worker claims jobs from the queue and runs them.
//
// Subcommands:
//
//	(root)  run the worker loop until SIGINT/SIGTERM
//	health  print the live worker health records and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"

	"github.com/Abraxas-365/jobrelay/internal/container"
	"github.com/Abraxas-365/jobrelay/pkg/config"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
	"github.com/Abraxas-365/jobrelay/pkg/metricx"
	"github.com/spf13/cobra"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.New(logx.DefaultConfig()).Fatalf("configuration: %v", err)
	}
	log := cfg.Logger()

	if err := rootCmd(cfg, log).Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func rootCmd(cfg *config.Config, log *logx.Logger) *cobra.Command {
	var metricsAddr string
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Run a jobrelay worker",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg, log, metricsAddr)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Jobx.Backend, "backend", cfg.Jobx.Backend, "job store: redis or postgres")

	local := root.Flags()
	local.StringVar(&cfg.Jobx.WorkerID, "worker-id", cfg.Jobx.WorkerID, "worker id reported in health records (default: generated)")
	local.IntVar(&cfg.Jobx.MaxRetries, "max-retries", cfg.Jobx.MaxRetries, "requeues before a failing job fails terminally")
	local.DurationVar(&cfg.Jobx.HeartbeatInterval, "health-check-interval", cfg.Jobx.HeartbeatInterval, "heartbeat interval")
	local.IntVar(&cfg.Jobx.Concurrency, "concurrency", cfg.Jobx.Concurrency, "jobs run at once")
	local.DurationVar(&cfg.Jobx.JobTimeout, "job-timeout", cfg.Jobx.JobTimeout, "timeout per job")
	local.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(healthCmd(cfg, log))
	return root
}

func runWorker(ctx context.Context, cfg *config.Config, log *logx.Logger, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	w := jobx.NewWorker(c.Store, c.Store, newDemoExecutor(log), log,
		jobx.WithWorkerID(cfg.Jobx.WorkerID),
		jobx.WithConcurrency(cfg.Jobx.Concurrency),
		jobx.WithMaxRetries(cfg.Jobx.MaxRetries),
		jobx.WithPollInterval(cfg.Jobx.PollInterval),
		jobx.WithDequeueTimeout(cfg.Jobx.DequeueTimeout),
		jobx.WithHeartbeatInterval(cfg.Jobx.HeartbeatInterval),
		jobx.WithJobTimeout(cfg.Jobx.JobTimeout),
		jobx.WithShutdownTimeout(cfg.Jobx.ShutdownTimeout),
		jobx.WithObserver(c.Metrics),
	)
	log.WithFields(logx.Fields{
		"worker_id": w.ID(),
		"backend":   cfg.Jobx.Backend,
	}).Info("🚀 Starting worker...")

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricx.Handler(c.Registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infof("📈 Metrics on %s/metrics", metricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	return w.Run(ctx)
}

func healthCmd(cfg *config.Config, log *logx.Logger) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "List live worker health records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c, err := container.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer c.Cleanup()

			records, err := c.Store.ListHealth(ctx)
			if err != nil {
				return err
			}
			return printHealth(cmd.OutOrStdout(), records, asJSON, time.Now())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func printHealth(out io.Writer, records []jobx.HealthRecord, asJSON bool, now time.Time) error {
	sort.Slice(records, func(i, j int) bool { return records[i].WorkerID < records[j].WorkerID })

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "no live workers")
		return err
	}
	for _, r := range records {
		current := "-"
		if r.CurrentJobID != nil {
			current = *r.CurrentJobID
		}
		_, err := fmt.Fprintf(out, "%-24s %-8s job=%-20s processed=%d ok=%d failed=%d uptime=%s seen=%s ago\n",
			r.WorkerID, r.Status, current,
			r.JobsProcessed, r.JobsSucceeded, r.JobsFailed,
			time.Duration(r.UptimeSeconds)*time.Second,
			now.Sub(r.LastHeartbeat).Truncate(time.Second),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
