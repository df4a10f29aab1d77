package jobx

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a job attempt ended, for observers.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetried   Outcome = "retried"
	OutcomeFailed    Outcome = "failed"
	// OutcomeDiscarded means the job was cancelled while running and its
	// result was not recorded.
	OutcomeDiscarded Outcome = "discarded"
)

// WorkerObserver receives one call per finished job attempt.
type WorkerObserver interface {
	JobFinished(outcome Outcome, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) JobFinished(Outcome, time.Duration) {}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	WorkerID          string
	Concurrency       int
	MaxRetries        int
	PollInterval      time.Duration
	DequeueTimeout    time.Duration
	HeartbeatInterval time.Duration
	JobTimeout        time.Duration
	// ShutdownTimeout bounds the drain on shutdown; zero waits for every
	// in-flight job (each is still bounded by JobTimeout). Jobs still
	// running when the bound expires are cancelled and requeued.
	ShutdownTimeout time.Duration
	ReportAttempts  int
	ReportBackoff   time.Duration
	Observer        WorkerObserver
}

func defaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		WorkerID:          "worker-" + uuid.NewString()[:8],
		Concurrency:       1,
		MaxRetries:        3,
		PollInterval:      time.Second,
		DequeueTimeout:    5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		JobTimeout:        300 * time.Second,
		ReportAttempts:    3,
		ReportBackoff:     500 * time.Millisecond,
		Observer:          nopObserver{},
	}
}

// HealthTTL is the expiry written with each heartbeat: twice the interval.
func (o WorkerOptions) HealthTTL() time.Duration {
	return 2 * o.HeartbeatInterval
}

// WorkerOption is a functional option for configuring a Worker.
type WorkerOption func(*WorkerOptions)

// WithWorkerID sets the id reported in health records.
func WithWorkerID(id string) WorkerOption {
	return func(o *WorkerOptions) {
		if id != "" {
			o.WorkerID = id
		}
	}
}

// WithConcurrency sets how many jobs the worker runs at once.
func WithConcurrency(n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithMaxRetries sets how many times a failing job is requeued before it
// fails terminally.
func WithMaxRetries(n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n >= 0 {
			o.MaxRetries = n
		}
	}
}

// WithPollInterval sets the wait between dequeue attempts when idle.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

// WithDequeueTimeout bounds a single dequeue round trip.
func WithDequeueTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.DequeueTimeout = d
		}
	}
}

// WithHeartbeatInterval sets how often the health record is rewritten.
func WithHeartbeatInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.HeartbeatInterval = d
		}
	}
}

// WithJobTimeout bounds each executor call.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.JobTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Run waits for in-flight jobs. Zero
// waits without a bound.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		o.ShutdownTimeout = d
	}
}

// WithReportRetry sets how outcome writes are retried while the store is
// unavailable.
func WithReportRetry(attempts int, backoff time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if attempts > 0 {
			o.ReportAttempts = attempts
		}
		if backoff > 0 {
			o.ReportBackoff = backoff
		}
	}
}

// WithObserver installs a metrics hook.
func WithObserver(obs WorkerObserver) WorkerOption {
	return func(o *WorkerOptions) {
		if obs != nil {
			o.Observer = obs
		}
	}
}
