package jobxpostgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// Channel is the LISTEN/NOTIFY channel carrying queue events.
const Channel = "jobx_updates"

// Options configures a Queue.
type Options struct {
	TTL time.Duration
	// PurgeBatch bounds how many expired rows AddJob deletes per call.
	PurgeBatch int
}

// Option is a functional option for configuring a Queue.
type Option func(*Options)

// WithTTL sets the expiry of job rows and results (default one hour).
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl >= time.Second {
			o.TTL = ttl
		}
	}
}

// WithPurgeBatch sets the opportunistic purge size; zero disables it.
func WithPurgeBatch(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.PurgeBatch = n
		}
	}
}

// Queue implements jobx.Queue and jobx.HealthStore on Postgres. Claims use
// FOR UPDATE SKIP LOCKED; events travel over NOTIFY.
type Queue struct {
	db   *sqlx.DB
	dsn  string
	log  *logx.Logger
	opts Options
	psql sq.StatementBuilderType
	now  func() time.Time
}

// NewQueue wraps db. dsn is used for the LISTEN connection and migrations.
func NewQueue(db *sqlx.DB, dsn string, log *logx.Logger, opts ...Option) *Queue {
	o := Options{
		TTL:        jobx.DefaultTTLSeconds * time.Second,
		PurgeBatch: 100,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logx.Nop()
	}
	return &Queue{
		db:   db,
		dsn:  dsn,
		log:  log.Named("jobxpostgres"),
		opts: o,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:  time.Now,
	}
}

var (
	_ jobx.Queue       = (*Queue)(nil)
	_ jobx.HealthStore = (*Queue)(nil)
)

type jobRow struct {
	ID     string `db:"id"`
	Status string `db:"status"`
	Data   []byte `db:"data"`
}

func (r jobRow) decode() (*jobx.Job, error) {
	var job jobx.Job
	if err := json.Unmarshal(r.Data, &job); err != nil {
		return nil, pgErrors.NewWithCause(ErrUnmarshal, err).WithDetail("job_id", r.ID)
	}
	job.Status = jobx.Status(r.Status)
	return &job, nil
}

func (q *Queue) expiry(now time.Time) time.Time { return now.Add(q.opts.TTL) }

func notFound(jobID string) error {
	return jobx.NewError(jobx.ErrJobNotFound).WithDetail("job_id", jobID)
}

// execer is satisfied by *sqlx.DB and *sqlx.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (q *Queue) notify(ctx context.Context, ex execer, events ...jobx.Event) error {
	for _, e := range events {
		b, err := e.Encode()
		if err != nil {
			return pgErrors.NewWithCause(ErrMarshal, err).WithDetail("event", string(e.Type))
		}
		if _, err := ex.ExecContext(ctx, `SELECT pg_notify($1, $2)`, Channel, string(b)); err != nil {
			return pgErrors.NewWithCause(ErrNotify, err).
				WithDetail("event", string(e.Type)).
				WithDetail("job_id", e.JobID)
		}
	}
	return nil
}

// AddJob upserts the job as pending with a fresh enqueue sequence. An
// existing result is kept.
func (q *Queue) AddJob(ctx context.Context, job jobx.Job) (string, error) {
	now := q.now()
	if err := jobx.PrepareForEnqueue(&job, now); err != nil {
		return "", err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", pgErrors.NewWithCause(ErrMarshal, err).WithDetail("job_id", job.ID)
	}

	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", pgErrors.NewWithCause(ErrEnqueue, err).WithDetail("job_id", job.ID)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobx_jobs (id, priority, enqueue_seq, status, in_queue, in_processing, data, expires_at, updated_at)
		VALUES ($1, $2, nextval('jobx_enqueue_seq'), 'pending', TRUE, FALSE, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			priority      = EXCLUDED.priority,
			enqueue_seq   = EXCLUDED.enqueue_seq,
			status        = 'pending',
			in_queue      = TRUE,
			in_processing = FALSE,
			data          = EXCLUDED.data,
			expires_at    = EXCLUDED.expires_at,
			updated_at    = EXCLUDED.updated_at`,
		job.ID, int(job.Priority), string(data), q.expiry(now), now)
	if err != nil {
		return "", pgErrors.NewWithCause(ErrEnqueue, err).WithDetail("job_id", job.ID)
	}

	if err := q.notify(ctx, tx, jobx.NewEvent(jobx.EventJobAdded, job.ID, jobx.StatusPending, now, map[string]any{
		"priority": int(job.Priority),
	})); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", pgErrors.NewWithCause(ErrEnqueue, err).WithDetail("job_id", job.ID)
	}

	q.purgeExpired(ctx, now)
	return job.ID, nil
}

func (q *Queue) purgeExpired(ctx context.Context, now time.Time) {
	if q.opts.PurgeBatch == 0 {
		return
	}
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM jobx_jobs WHERE id IN (
			SELECT id FROM jobx_jobs
			WHERE expires_at < $1 AND (result_expires_at IS NULL OR result_expires_at < $1)
			LIMIT $2)`, now, q.opts.PurgeBatch)
	if err != nil {
		q.log.WithError(err).Warn("purging expired jobs failed")
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		q.log.WithField("rows", n).Debug("purged expired jobs")
	}
}

// Dequeue claims the highest-priority, oldest pending job. It returns
// (nil, nil) when nothing is pending.
func (q *Queue) Dequeue(ctx context.Context) (*jobx.Job, error) {
	now := q.now()
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrDequeue, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var row jobRow
	err = tx.GetContext(ctx, &row, `
		SELECT id, status, data FROM jobx_jobs
		WHERE in_queue AND status = 'pending' AND expires_at > $1
		ORDER BY priority DESC, enqueue_seq ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, pgErrors.NewWithCause(ErrDequeue, err)
	}

	job, err := row.decode()
	if err != nil {
		return nil, err
	}
	job.Start(now)
	job.WorkerID = jobx.WorkerIDFromContext(ctx)
	data, err := json.Marshal(job)
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrMarshal, err).WithDetail("job_id", job.ID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobx_jobs
		SET status = 'running', in_queue = FALSE, in_processing = TRUE,
		    data = $2, expires_at = $3, updated_at = $4
		WHERE id = $1`, job.ID, string(data), q.expiry(now), now); err != nil {
		return nil, pgErrors.NewWithCause(ErrDequeue, err).WithDetail("job_id", job.ID)
	}

	extra := map[string]any{}
	if job.WorkerID != "" {
		extra["worker_id"] = job.WorkerID
	}
	if err := q.notify(ctx, tx, jobx.NewEvent(jobx.EventStatusUpdated, job.ID, jobx.StatusRunning, now, extra)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, pgErrors.NewWithCause(ErrDequeue, err).WithDetail("job_id", job.ID)
	}
	return job, nil
}

// UpdateStatus sets the status unconditionally. Terminal statuses also take
// the job out of the queue and the processing set.
func (q *Queue) UpdateStatus(ctx context.Context, jobID string, status string) error {
	st, err := jobx.ParseStatus(status)
	if err != nil {
		return err
	}
	now := q.now()

	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE jobx_jobs
		SET status = $2,
		    in_queue = in_queue AND NOT $3,
		    in_processing = in_processing AND NOT $3,
		    expires_at = $4, updated_at = $5
		WHERE id = $1 AND expires_at > $5`, jobID, string(st), st.IsTerminal(), q.expiry(now), now)
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(jobID)
	}

	if err := q.notify(ctx, tx, jobx.NewEvent(jobx.EventStatusUpdated, jobID, st, now, nil)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	return nil
}

// Complete marks the job completed. Completing twice is a no-op; completing
// a job that failed or was cancelled is a conflict.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	_, err := q.transition(ctx, jobID, jobx.StatusCompleted, jobx.EventJobCompleted, func(j *jobx.Job, now time.Time) map[string]any {
		j.MarkCompleted(now)
		return nil
	})
	return err
}

// Fail marks the job failed. With requeue and a job it is added again one
// priority band lower with its retry count incremented.
func (q *Queue) Fail(ctx context.Context, jobID string, requeue bool, job *jobx.Job) error {
	requeue = requeue && job != nil
	var msg string
	if job != nil {
		msg = job.ErrorMessage
	}

	terminal := jobx.EventJobFailed
	if requeue {
		terminal = ""
	}
	_, err := q.transition(ctx, jobID, jobx.StatusFailed, terminal, func(j *jobx.Job, now time.Time) map[string]any {
		if msg == "" {
			msg = j.ErrorMessage
		}
		j.MarkFailed(msg, now)
		extra := map[string]any{"retry_count": j.RetryCount}
		if msg != "" {
			extra["error_message"] = msg
		}
		return extra
	})
	if err != nil || !requeue {
		return err
	}

	next := jobx.PrepareRequeue(*job)
	next.ID = jobID
	if _, err := q.AddJob(ctx, next); err != nil {
		return err
	}
	q.log.WithFields(logx.Fields{
		"job_id":      jobID,
		"priority":    next.Priority.String(),
		"retry_count": next.RetryCount,
	}).Info("job requeued")
	return nil
}

// Cancel marks the job cancelled and removes it from the queue. A running
// executor is not interrupted; its later outcome is rejected.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	_, err := q.transition(ctx, jobID, jobx.StatusCancelled, jobx.EventJobCancelled, func(j *jobx.Job, now time.Time) map[string]any {
		j.MarkCancelled(now)
		return nil
	})
	return err
}

// transition locks the row and applies a terminal status unless one is
// already set. An empty terminal event type publishes only status_updated.
func (q *Queue) transition(
	ctx context.Context,
	jobID string,
	target jobx.Status,
	terminal jobx.EventType,
	mutate func(*jobx.Job, time.Time) map[string]any,
) (bool, error) {
	now := q.now()
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	defer tx.Rollback() //nolint:errcheck

	var row jobRow
	err = tx.GetContext(ctx, &row, `
		SELECT id, status, data FROM jobx_jobs
		WHERE id = $1 AND expires_at > $2
		FOR UPDATE`, jobID, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, notFound(jobID)
		}
		return false, pgErrors.NewWithCause(ErrRead, err).WithDetail("job_id", jobID)
	}

	current := jobx.Status(row.Status)
	if current.IsTerminal() {
		if current == target {
			return false, nil
		}
		return false, jobx.NewError(jobx.ErrInvalidTransition).
			WithDetail("job_id", jobID).
			WithDetail("current", string(current)).
			WithDetail("target", string(target))
	}

	job, err := row.decode()
	if err != nil {
		return false, err
	}
	extra := mutate(job, now)
	data, err := json.Marshal(job)
	if err != nil {
		return false, pgErrors.NewWithCause(ErrMarshal, err).WithDetail("job_id", jobID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobx_jobs
		SET status = $2, in_queue = FALSE, in_processing = FALSE,
		    data = $3, expires_at = $4, updated_at = $5
		WHERE id = $1`, jobID, string(target), string(data), q.expiry(now), now); err != nil {
		return false, pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}

	events := []jobx.Event{jobx.NewEvent(jobx.EventStatusUpdated, jobID, target, now, nil)}
	if terminal != "" {
		events = append(events, jobx.NewEvent(terminal, jobID, target, now, extra))
	}
	if err := q.notify(ctx, tx, events...); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	return true, nil
}

// SaveResult stores the executor's result with the TTL.
func (q *Queue) SaveResult(ctx context.Context, jobID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return pgErrors.NewWithCause(ErrMarshal, err).WithDetail("job_id", jobID)
	}
	now := q.now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobx_jobs SET result = $2, result_expires_at = $3, updated_at = $4
		WHERE id = $1`, jobID, string(data), q.expiry(now), now)
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(jobID)
	}
	return nil
}

// GetResult returns the stored result.
func (q *Queue) GetResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	var raw []byte
	err := q.db.GetContext(ctx, &raw, `
		SELECT result FROM jobx_jobs
		WHERE id = $1 AND result IS NOT NULL AND result_expires_at > $2`, jobID, q.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobx.NewError(jobx.ErrResultNotFound).WithDetail("job_id", jobID)
		}
		return nil, pgErrors.NewWithCause(ErrRead, err).WithDetail("job_id", jobID)
	}
	return json.RawMessage(raw), nil
}

// GetStatus returns the job's current status.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (jobx.Status, error) {
	var s string
	err := q.db.GetContext(ctx, &s, `SELECT status FROM jobx_jobs WHERE id = $1 AND expires_at > $2`, jobID, q.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", notFound(jobID)
		}
		return "", pgErrors.NewWithCause(ErrRead, err).WithDetail("job_id", jobID)
	}
	return jobx.Status(s), nil
}

// GetJob returns the stored job with its current status.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*jobx.Job, error) {
	query, args, err := q.psql.
		Select("id", "status", "data").
		From("jobx_jobs").
		Where(sq.Eq{"id": jobID}).
		Where(sq.Gt{"expires_at": q.now()}).
		ToSql()
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrRead, err)
	}

	var row jobRow
	if err := q.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(jobID)
		}
		return nil, pgErrors.NewWithCause(ErrRead, err).WithDetail("job_id", jobID)
	}
	return row.decode()
}

// GetPendingJobs returns pending jobs in dequeue order.
func (q *Queue) GetPendingJobs(ctx context.Context) ([]jobx.Job, error) {
	query, args, err := q.psql.
		Select("id", "status", "data").
		From("jobx_jobs").
		Where(sq.Eq{"in_queue": true, "status": string(jobx.StatusPending)}).
		Where(sq.Gt{"expires_at": q.now()}).
		OrderBy("priority DESC", "enqueue_seq ASC").
		ToSql()
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrRead, err)
	}

	var rows []jobRow
	if err := q.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, pgErrors.NewWithCause(ErrRead, err)
	}

	jobs := make([]jobx.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.decode()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

// IsProcessing reports whether the job is currently claimed.
func (q *Queue) IsProcessing(ctx context.Context, jobID string) (bool, error) {
	var ok bool
	err := q.db.GetContext(ctx, &ok, `
		SELECT EXISTS (SELECT 1 FROM jobx_jobs WHERE id = $1 AND in_processing AND expires_at > $2)`,
		jobID, q.now())
	if err != nil {
		return false, pgErrors.NewWithCause(ErrRead, err).WithDetail("job_id", jobID)
	}
	return ok, nil
}

// GetQueueLength returns the number of queued jobs.
func (q *Queue) GetQueueLength(ctx context.Context) (int64, error) {
	s, err := q.Stats(ctx)
	return s.QueueLength, err
}

// GetProcessingCount returns the number of claimed jobs.
func (q *Queue) GetProcessingCount(ctx context.Context) (int64, error) {
	s, err := q.Stats(ctx)
	return s.ProcessingCount, err
}

type statsRow struct {
	QueueLength     int64 `db:"queue_length"`
	ProcessingCount int64 `db:"processing_count"`
	High            int64 `db:"high_priority"`
	Normal          int64 `db:"normal_priority"`
	Low             int64 `db:"low_priority"`
}

// Stats counts live rows in one query.
func (q *Queue) Stats(ctx context.Context) (jobx.Stats, error) {
	var r statsRow
	err := q.db.GetContext(ctx, &r, `
		SELECT
			count(*) FILTER (WHERE in_queue)                  AS queue_length,
			count(*) FILTER (WHERE in_processing)             AS processing_count,
			count(*) FILTER (WHERE in_queue AND priority = 2) AS high_priority,
			count(*) FILTER (WHERE in_queue AND priority = 1) AS normal_priority,
			count(*) FILTER (WHERE in_queue AND priority = 0) AS low_priority
		FROM jobx_jobs
		WHERE expires_at > $1`, q.now())
	if err != nil {
		return jobx.Stats{}, pgErrors.NewWithCause(ErrRead, err)
	}
	return jobx.Stats{
		QueueLength:     r.QueueLength,
		ProcessingCount: r.ProcessingCount,
		HighPriority:    r.High,
		NormalPriority:  r.Normal,
		LowPriority:     r.Low,
		TTLSeconds:      int64(q.opts.TTL / time.Second),
	}, nil
}

// ClearQueue takes every job out of the queue. Rows are left to expire.
func (q *Queue) ClearQueue(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE jobx_jobs SET in_queue = FALSE WHERE in_queue`); err != nil {
		return pgErrors.NewWithCause(ErrWrite, err)
	}
	q.log.Warn("queue cleared")
	return nil
}

// ClearProcessing empties the processing set.
func (q *Queue) ClearProcessing(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `UPDATE jobx_jobs SET in_processing = FALSE WHERE in_processing`); err != nil {
		return pgErrors.NewWithCause(ErrWrite, err)
	}
	q.log.Warn("processing set cleared")
	return nil
}

// Ping checks connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.db.PingContext(ctx); err != nil {
		return pgErrors.NewWithCause(ErrPing, err)
	}
	return nil
}

// Close closes the database handle.
func (q *Queue) Close() error {
	return q.db.Close()
}
