package jobx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/asyncx"
	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
)

// Worker pulls jobs from a queue and runs them through an Executor with
// bounded concurrency, retry-by-requeue and periodic health records.
type Worker struct {
	queue  WorkerQueue
	health HealthWriter
	exec   Executor
	log    *logx.Logger
	opts   WorkerOptions
	now    func() time.Time

	running   atomic.Bool
	startedAt atomic.Int64

	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	current []string
}

// NewWorker creates a worker. health may be nil to disable heartbeats.
func NewWorker(queue WorkerQueue, health HealthWriter, exec Executor, log *logx.Logger, opts ...WorkerOption) *Worker {
	o := defaultWorkerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logx.Nop()
	}
	return &Worker{
		queue:   queue,
		health:  health,
		exec:    exec,
		log:     log.Named("worker").With("worker_id", o.WorkerID),
		opts:    o,
		now:     time.Now,
		current: make([]string, o.Concurrency),
	}
}

// ID returns the worker id used in health records.
func (w *Worker) ID() string { return w.opts.WorkerID }

// Options returns the resolved configuration.
func (w *Worker) Options() WorkerOptions { return w.opts }

// errShutdownAbort is the cancel cause set on in-flight jobs when the
// shutdown bound expires.
var errShutdownAbort = errors.New("worker shut down before the job finished")

// Run processes jobs until ctx is cancelled, then drains in-flight jobs,
// writes a final stopped health record and returns. In-flight jobs are not
// cancelled by ctx; each is bounded by the job timeout. With a shutdown
// timeout set, jobs still running when it expires are cancelled and
// requeued before the stopped record is written.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return NewError(ErrAlreadyRunning).WithDetail("worker_id", w.opts.WorkerID)
	}
	defer w.running.Store(false)

	w.startedAt.Store(w.now().Unix())
	w.log.WithFields(logx.Fields{
		"concurrency": w.opts.Concurrency,
		"max_retries": w.opts.MaxRetries,
		"job_timeout": w.opts.JobTimeout.String(),
	}).Info("worker started")

	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		w.heartbeatLoop(hbCtx)
	}()

	execCtx, abortJobs := context.WithCancelCause(context.WithoutCancel(ctx))
	defer abortJobs(nil)

	var wg sync.WaitGroup
	for slot := range w.opts.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.slotLoop(ctx, execCtx, slot)
		}()
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	<-ctx.Done()
	w.log.Info("shutdown requested, waiting for in-flight jobs")

	var runErr error
	if w.opts.ShutdownTimeout > 0 {
		timer := time.NewTimer(w.opts.ShutdownTimeout)
		select {
		case <-drained:
			timer.Stop()
		case <-timer.C:
			runErr = NewError(ErrShutdownTimeout).WithDetail("timeout", w.opts.ShutdownTimeout.String())
			w.log.WithError(runErr).Warn("in-flight jobs did not finish in time, requeueing them")
			abortJobs(errShutdownAbort)
			<-drained
		}
	} else {
		<-drained
	}

	stopHeartbeat()
	<-hbDone
	w.writeFinalHealth(context.WithoutCancel(ctx))

	w.log.WithFields(logx.Fields{
		"jobs_processed": w.processed.Load(),
		"jobs_succeeded": w.succeeded.Load(),
		"jobs_failed":    w.failed.Load(),
	}).Info("worker stopped")
	return runErr
}

// slotLoop polls with ctx and runs jobs with execCtx, which outlives ctx
// until the shutdown bound expires.
func (w *Worker) slotLoop(ctx, execCtx context.Context, slot int) {
	for ctx.Err() == nil {
		job, err := w.dequeue(ctx)
		if err != nil {
			w.log.WithError(err).Warn("dequeue failed")
		}
		if job == nil {
			if !asyncx.Sleep(ctx, w.opts.PollInterval) {
				return
			}
			continue
		}
		w.process(execCtx, slot, job)
	}
}

// dequeue uses a context that survives cancellation so a claim in flight is
// never abandoned after the job left the pending set.
func (w *Worker) dequeue(ctx context.Context) (*Job, error) {
	dctx := ContextWithWorkerID(context.WithoutCancel(ctx), w.opts.WorkerID)
	dctx, cancel := context.WithTimeout(dctx, w.opts.DequeueTimeout)
	defer cancel()
	return w.queue.Dequeue(dctx)
}

func (w *Worker) process(ctx context.Context, slot int, job *Job) {
	w.setCurrent(slot, job.ID)
	defer w.setCurrent(slot, "")

	log := w.log.With("job_id", job.ID)
	log.WithFields(logx.Fields{
		"priority":    job.Priority.String(),
		"retry_count": job.RetryCount,
	}).Info("job started")

	reportCtx := context.WithoutCancel(ctx)
	started := w.now()
	result, execErr := asyncx.WithTimeout(ctx, w.opts.JobTimeout, func(c context.Context) (any, error) {
		return w.exec.Execute(c, job)
	})
	elapsed := w.now().Sub(started)

	w.processed.Add(1)

	var (
		outcome   Outcome
		reportErr error
	)
	aborted := execErr != nil && errors.Is(context.Cause(ctx), errShutdownAbort)
	if execErr == nil {
		if result != nil {
			reportErr = w.report(reportCtx, func(c context.Context) error {
				return w.queue.SaveResult(c, job.ID, result)
			})
			if reportErr != nil {
				log.WithError(reportErr).Error("saving result failed")
			}
		}
		reportErr = w.report(reportCtx, func(c context.Context) error {
			return w.queue.Complete(c, job.ID)
		})
		outcome = OutcomeSucceeded
	} else {
		job.ErrorMessage = w.failureMessage(execErr)
		requeue := aborted || job.RetryCount < w.opts.MaxRetries
		if aborted {
			job.ErrorMessage = errShutdownAbort.Error()
		}
		reportErr = w.report(reportCtx, func(c context.Context) error {
			return w.queue.Fail(c, job.ID, requeue, job)
		})
		outcome = OutcomeFailed
		if requeue {
			outcome = OutcomeRetried
		}
		log.WithError(execErr).WithFields(logx.Fields{
			"requeue":     requeue,
			"retry_count": job.RetryCount,
		}).Warn("job failed")
	}

	switch {
	case errx.IsCode(reportErr, ErrInvalidTransition):
		outcome = OutcomeDiscarded
		log.Info("job reached a terminal state elsewhere, outcome discarded")
	case reportErr != nil:
		log.WithError(reportErr).Error("recording job outcome failed")
	default:
		log.WithFields(logx.Fields{
			"outcome":  string(outcome),
			"duration": elapsed.String(),
		}).Info("job finished")
	}

	switch {
	case outcome == OutcomeSucceeded && reportErr == nil:
		w.succeeded.Add(1)
	case outcome == OutcomeFailed, outcome == OutcomeRetried && !aborted:
		w.failed.Add(1)
	}

	w.opts.Observer.JobFinished(outcome, elapsed)
}

func (w *Worker) failureMessage(err error) string {
	var pe *asyncx.PanicError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("job exceeded timeout of %s", w.opts.JobTimeout)
	case errors.As(err, &pe):
		return fmt.Sprintf("executor panicked: %v", pe.Value)
	default:
		return err.Error()
	}
}

// report runs op, retrying only while the store reports itself unavailable.
func (w *Worker) report(ctx context.Context, op func(context.Context) error) error {
	return asyncx.Retry(ctx, w.opts.ReportAttempts, w.opts.ReportBackoff, func(c context.Context) error {
		err := op(c)
		if err != nil && !errx.IsType(err, errx.TypeUnavailable) {
			return asyncx.Permanent(err)
		}
		return err
	})
}

func (w *Worker) setCurrent(slot int, jobID string) {
	w.mu.Lock()
	w.current[slot] = jobID
	w.mu.Unlock()
}

func (w *Worker) currentJob() *string {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range w.current {
		if id != "" {
			return &id
		}
	}
	return nil
}

// Health snapshots the worker's counters into a record with the given state.
func (w *Worker) Health(state WorkerState) HealthRecord {
	now := w.now()
	var uptime int64
	if started := w.startedAt.Load(); started > 0 {
		uptime = now.Unix() - started
	}
	return HealthRecord{
		WorkerID:      w.opts.WorkerID,
		Status:        state,
		LastHeartbeat: now.UTC(),
		CurrentJobID:  w.currentJob(),
		JobsProcessed: w.processed.Load(),
		JobsSucceeded: w.succeeded.Load(),
		JobsFailed:    w.failed.Load(),
		UptimeSeconds: uptime,
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	if w.health == nil {
		return
	}
	w.writeHealth(ctx)

	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.writeHealth(ctx)
		}
	}
}

func (w *Worker) writeHealth(ctx context.Context) {
	if err := w.health.WriteHealth(ctx, w.Health(WorkerRunning), w.opts.HealthTTL()); err != nil {
		w.log.WithError(err).Warn("heartbeat failed")
	}
}

func (w *Worker) writeFinalHealth(ctx context.Context) {
	if w.health == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, w.opts.DequeueTimeout*time.Duration(w.opts.ReportAttempts))
	defer cancel()
	rec := w.Health(WorkerStopped)
	err := asyncx.Retry(ctx, w.opts.ReportAttempts, w.opts.ReportBackoff, func(c context.Context) error {
		return w.health.WriteHealth(c, rec, w.opts.HealthTTL())
	})
	if err != nil {
		w.log.WithError(err).Warn("final health record not written")
	}
}
