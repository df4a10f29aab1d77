package jobxredis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/asyncx"
	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
	"github.com/redis/go-redis/v9"
)

// Options configures a Queue.
type Options struct {
	// Prefix namespaces every key and the updates channel.
	Prefix string
	// TTL applies to job data, status and result keys.
	TTL time.Duration
	// FetchConcurrency bounds parallel reads in GetPendingJobs.
	FetchConcurrency int
}

// Option is a functional option for configuring a Queue.
type Option func(*Options)

// WithPrefix sets the key prefix (default "jobx").
func WithPrefix(prefix string) Option {
	return func(o *Options) {
		if prefix != "" {
			o.Prefix = prefix
		}
	}
}

// WithTTL sets the expiry of per-job keys (default one hour).
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl >= time.Second {
			o.TTL = ttl
		}
	}
}

// WithFetchConcurrency sets how many job records GetPendingJobs loads at once.
func WithFetchConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.FetchConcurrency = n
		}
	}
}

// Queue implements jobx.Queue and jobx.HealthStore on a single Redis node.
// The Lua scripts touch keys derived from the prefix at run time and the
// stats pipeline spans several keys, so Redis Cluster is not supported.
type Queue struct {
	rdb  *redis.Client
	log  *logx.Logger
	opts Options
	ttl  int64
	now  func() time.Time
}

// NewQueue creates a Redis-backed queue on a single-node client (a Sentinel
// failover client works too). The queue takes ownership of rdb and closes it
// in Close.
func NewQueue(rdb *redis.Client, log *logx.Logger, opts ...Option) *Queue {
	o := Options{
		Prefix:           "jobx",
		TTL:              jobx.DefaultTTLSeconds * time.Second,
		FetchConcurrency: 8,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logx.Nop()
	}
	return &Queue{
		rdb:  rdb,
		log:  log.Named("jobxredis"),
		opts: o,
		ttl:  int64(o.TTL / time.Second),
		now:  time.Now,
	}
}

var (
	_ jobx.Queue       = (*Queue)(nil)
	_ jobx.HealthStore = (*Queue)(nil)
)

// Key helpers
func (q *Queue) queueKey() string           { return q.opts.Prefix + ":queue" }
func (q *Queue) seqKey() string             { return q.opts.Prefix + ":seq" }
func (q *Queue) processingKey() string      { return q.opts.Prefix + ":processing" }
func (q *Queue) statusPrefix() string       { return q.opts.Prefix + ":status:" }
func (q *Queue) dataPrefix() string         { return q.opts.Prefix + ":data:" }
func (q *Queue) statusKey(id string) string { return q.statusPrefix() + id }
func (q *Queue) dataKey(id string) string   { return q.dataPrefix() + id }
func (q *Queue) resultKey(id string) string { return q.opts.Prefix + ":results:" + id }
func (q *Queue) channel() string            { return q.opts.Prefix + ":updates" }

// score packs priority into the integer part and the enqueue sequence into
// the fraction, so floor(score) == -priority and ZPOPMIN is FIFO per band.
func score(p jobx.Priority, seq int64) float64 {
	const span = 1 << 32
	return -float64(p) + float64(uint64(seq)%span)/span
}

// AddJob stores the job as pending and makes it visible to Dequeue.
func (q *Queue) AddJob(ctx context.Context, job jobx.Job) (string, error) {
	now := q.now()
	if err := jobx.PrepareForEnqueue(&job, now); err != nil {
		return "", err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", redisErrors.NewWithCause(ErrMarshal, err).WithDetail("job_id", job.ID)
	}

	seq, err := q.rdb.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return "", redisErrors.NewWithCause(ErrEnqueue, err).WithDetail("job_id", job.ID)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.dataKey(job.ID), data, q.opts.TTL)
	pipe.Set(ctx, q.statusKey(job.ID), string(jobx.StatusPending), q.opts.TTL)
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: score(job.Priority, seq), Member: job.ID})
	pipe.SRem(ctx, q.processingKey(), job.ID)
	pipe.Expire(ctx, q.queueKey(), q.opts.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", redisErrors.NewWithCause(ErrEnqueue, err).WithDetail("job_id", job.ID)
	}

	q.log.WithFields(logx.Fields{
		"job_id":   job.ID,
		"priority": job.Priority.String(),
	}).Debug("job added")

	if err := q.publish(ctx, jobx.NewEvent(jobx.EventJobAdded, job.ID, jobx.StatusPending, now, map[string]any{
		"priority": int(job.Priority),
	})); err != nil {
		return job.ID, err
	}
	return job.ID, nil
}

// Dequeue claims the highest-priority, oldest pending job. It returns
// (nil, nil) when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*jobx.Job, error) {
	res, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.queueKey(), q.processingKey()},
		q.statusPrefix(), q.dataPrefix(), q.ttl,
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, redisErrors.NewWithCause(ErrDequeue, err)
	}
	if len(res) != 2 {
		return nil, redisErrors.New(ErrDequeue).WithDetail("reply_len", len(res))
	}

	id := res[0]
	var job jobx.Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("job_id", id)
	}

	now := q.now()
	job.Start(now)
	job.WorkerID = jobx.WorkerIDFromContext(ctx)
	if err := q.writeData(ctx, &job); err != nil {
		return nil, err
	}

	extra := map[string]any{}
	if job.WorkerID != "" {
		extra["worker_id"] = job.WorkerID
	}
	if err := q.publish(ctx, jobx.NewEvent(jobx.EventStatusUpdated, id, jobx.StatusRunning, now, extra)); err != nil {
		q.log.WithError(err).WithField("job_id", id).Warn("claim event not published")
	}
	return &job, nil
}

// UpdateStatus sets the status unconditionally. Terminal statuses also take
// the job out of the queue and the processing set.
func (q *Queue) UpdateStatus(ctx context.Context, jobID string, status string) error {
	st, err := jobx.ParseStatus(status)
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.statusKey(jobID), string(st), q.opts.TTL)
	if st.IsTerminal() {
		pipe.ZRem(ctx, q.queueKey(), jobID)
		pipe.SRem(ctx, q.processingKey(), jobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}

	return q.publish(ctx, jobx.NewEvent(jobx.EventStatusUpdated, jobID, st, q.now(), nil))
}

// Complete marks the job completed. Completing twice is a no-op; completing
// a job that failed or was cancelled is a conflict.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	now := q.now()
	applied, err := q.transition(ctx, jobID, jobx.StatusCompleted)
	if err != nil || !applied {
		return err
	}
	q.updateData(ctx, jobID, func(j *jobx.Job) { j.MarkCompleted(now) })
	return q.publishTerminal(ctx, jobID, jobx.StatusCompleted, jobx.EventJobCompleted, now, nil)
}

// Fail marks the job failed. With requeue and a job it is added again one
// priority band lower with its retry count incremented.
func (q *Queue) Fail(ctx context.Context, jobID string, requeue bool, job *jobx.Job) error {
	now := q.now()
	applied, err := q.transition(ctx, jobID, jobx.StatusFailed)
	if err != nil {
		return err
	}

	if requeue && job != nil {
		if applied {
			if err := q.publish(ctx, jobx.NewEvent(jobx.EventStatusUpdated, jobID, jobx.StatusFailed, now, nil)); err != nil {
				return err
			}
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

	if !applied {
		return nil
	}

	var msg string
	if job != nil {
		msg = job.ErrorMessage
	}
	stored := q.updateData(ctx, jobID, func(j *jobx.Job) {
		if msg == "" {
			msg = j.ErrorMessage
		}
		j.MarkFailed(msg, now)
	})
	extra := map[string]any{}
	if msg != "" {
		extra["error_message"] = msg
	}
	if stored != nil {
		extra["retry_count"] = stored.RetryCount
	}
	return q.publishTerminal(ctx, jobID, jobx.StatusFailed, jobx.EventJobFailed, now, extra)
}

// Cancel marks the job cancelled and removes it from the queue. A running
// executor is not interrupted; its later outcome is rejected.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	now := q.now()
	applied, err := q.transition(ctx, jobID, jobx.StatusCancelled)
	if err != nil || !applied {
		return err
	}
	q.updateData(ctx, jobID, func(j *jobx.Job) { j.MarkCancelled(now) })
	return q.publishTerminal(ctx, jobID, jobx.StatusCancelled, jobx.EventJobCancelled, now, nil)
}

// transition runs the terminal guard. It reports whether the status changed.
func (q *Queue) transition(ctx context.Context, jobID string, target jobx.Status) (bool, error) {
	code, err := transitionScript.Run(ctx, q.rdb,
		[]string{q.statusKey(jobID), q.queueKey(), q.processingKey()},
		string(target), q.ttl, jobID,
	).Int()
	if err != nil {
		return false, redisErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}

	switch code {
	case transitionApplied:
		return true, nil
	case transitionRepeated:
		return false, nil
	case transitionMissing:
		return false, jobx.NewError(jobx.ErrJobNotFound).WithDetail("job_id", jobID)
	default:
		cur, _ := q.rdb.Get(ctx, q.statusKey(jobID)).Result()
		return false, jobx.NewError(jobx.ErrInvalidTransition).
			WithDetail("job_id", jobID).
			WithDetail("current", cur).
			WithDetail("target", string(target))
	}
}

// updateData applies fn to the stored job record. The status key is already
// authoritative, so a failure here is logged rather than returned.
func (q *Queue) updateData(ctx context.Context, jobID string, fn func(*jobx.Job)) *jobx.Job {
	job, err := q.readData(ctx, jobID)
	if err != nil {
		if !errx.IsCode(err, jobx.ErrJobNotFound) {
			q.log.WithError(err).WithField("job_id", jobID).Warn("job record not updated")
		}
		return nil
	}
	fn(job)
	if err := q.writeData(ctx, job); err != nil {
		q.log.WithError(err).WithField("job_id", jobID).Warn("job record not updated")
	}
	return job
}

func (q *Queue) publishTerminal(ctx context.Context, jobID string, st jobx.Status, t jobx.EventType, now time.Time, extra map[string]any) error {
	if err := q.publish(ctx, jobx.NewEvent(jobx.EventStatusUpdated, jobID, st, now, nil)); err != nil {
		return err
	}
	return q.publish(ctx, jobx.NewEvent(t, jobID, st, now, extra))
}

func (q *Queue) publish(ctx context.Context, e jobx.Event) error {
	b, err := e.Encode()
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err).WithDetail("event", string(e.Type))
	}
	if err := q.rdb.Publish(ctx, q.channel(), b).Err(); err != nil {
		return redisErrors.NewWithCause(ErrPublish, err).
			WithDetail("event", string(e.Type)).
			WithDetail("job_id", e.JobID)
	}
	return nil
}

func (q *Queue) writeData(ctx context.Context, job *jobx.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err).WithDetail("job_id", job.ID)
	}
	if err := q.rdb.Set(ctx, q.dataKey(job.ID), data, q.opts.TTL).Err(); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", job.ID)
	}
	return nil
}

func (q *Queue) readData(ctx context.Context, jobID string) (*jobx.Job, error) {
	data, err := q.rdb.Get(ctx, q.dataKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, jobx.NewError(jobx.ErrJobNotFound).WithDetail("job_id", jobID)
		}
		return nil, redisErrors.NewWithCause(ErrRead, err).WithDetail("job_id", jobID)
	}
	var job jobx.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("job_id", jobID)
	}
	return &job, nil
}

// SaveResult stores the executor's result as JSON with the TTL.
func (q *Queue) SaveResult(ctx context.Context, jobID string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err).WithDetail("job_id", jobID)
	}
	if err := q.rdb.Set(ctx, q.resultKey(jobID), data, q.opts.TTL).Err(); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("job_id", jobID)
	}
	return nil
}

// GetResult returns the stored result.
func (q *Queue) GetResult(ctx context.Context, jobID string) (json.RawMessage, error) {
	data, err := q.rdb.Get(ctx, q.resultKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, jobx.NewError(jobx.ErrResultNotFound).WithDetail("job_id", jobID)
		}
		return nil, redisErrors.NewWithCause(ErrRead, err).WithDetail("job_id", jobID)
	}
	return json.RawMessage(data), nil
}

// GetStatus returns the job's current status.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (jobx.Status, error) {
	s, err := q.rdb.Get(ctx, q.statusKey(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", jobx.NewError(jobx.ErrJobNotFound).WithDetail("job_id", jobID)
		}
		return "", redisErrors.NewWithCause(ErrRead, err).WithDetail("job_id", jobID)
	}
	return jobx.Status(s), nil
}

// GetJob returns the stored job with its current status.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*jobx.Job, error) {
	pipe := q.rdb.Pipeline()
	dataCmd := pipe.Get(ctx, q.dataKey(jobID))
	statusCmd := pipe.Get(ctx, q.statusKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, redisErrors.NewWithCause(ErrRead, err).WithDetail("job_id", jobID)
	}

	data, err := dataCmd.Bytes()
	if err != nil {
		return nil, jobx.NewError(jobx.ErrJobNotFound).WithDetail("job_id", jobID)
	}
	var job jobx.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("job_id", jobID)
	}
	if s, err := statusCmd.Result(); err == nil {
		job.Status = jobx.Status(s)
	}
	return &job, nil
}

// GetPendingJobs returns pending jobs in dequeue order.
func (q *Queue) GetPendingJobs(ctx context.Context) ([]jobx.Job, error) {
	ids, err := q.rdb.ZRange(ctx, q.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, redisErrors.NewWithCause(ErrRead, err)
	}

	loaded, err := asyncx.Pool(ctx, q.opts.FetchConcurrency, ids, func(ctx context.Context, id string) (*jobx.Job, error) {
		job, err := q.GetJob(ctx, id)
		if errx.IsCode(err, jobx.ErrJobNotFound) {
			return nil, nil
		}
		return job, err
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]jobx.Job, 0, len(loaded))
	for _, j := range loaded {
		if j != nil && j.Status == jobx.StatusPending {
			jobs = append(jobs, *j)
		}
	}
	return jobs, nil
}

// IsProcessing reports whether the job is in the processing set.
func (q *Queue) IsProcessing(ctx context.Context, jobID string) (bool, error) {
	ok, err := q.rdb.SIsMember(ctx, q.processingKey(), jobID).Result()
	if err != nil {
		return false, redisErrors.NewWithCause(ErrRead, err).WithDetail("job_id", jobID)
	}
	return ok, nil
}

// GetQueueLength returns the number of queued ids.
func (q *Queue) GetQueueLength(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.queueKey()).Result()
	if err != nil {
		return 0, redisErrors.NewWithCause(ErrRead, err)
	}
	return n, nil
}

// GetProcessingCount returns the number of claimed jobs.
func (q *Queue) GetProcessingCount(ctx context.Context) (int64, error) {
	n, err := q.rdb.SCard(ctx, q.processingKey()).Result()
	if err != nil {
		return 0, redisErrors.NewWithCause(ErrRead, err)
	}
	return n, nil
}

// Stats reads every counter in one round trip.
func (q *Queue) Stats(ctx context.Context) (jobx.Stats, error) {
	band := func(p jobx.Priority) (string, string) {
		lo := -float64(p)
		return strconv.FormatFloat(lo, 'g', -1, 64), "(" + strconv.FormatFloat(lo+1, 'g', -1, 64)
	}

	pipe := q.rdb.Pipeline()
	total := pipe.ZCard(ctx, q.queueKey())
	processing := pipe.SCard(ctx, q.processingKey())
	hiMin, hiMax := band(jobx.PriorityHigh)
	high := pipe.ZCount(ctx, q.queueKey(), hiMin, hiMax)
	noMin, noMax := band(jobx.PriorityNormal)
	normal := pipe.ZCount(ctx, q.queueKey(), noMin, noMax)
	loMin, loMax := band(jobx.PriorityLow)
	low := pipe.ZCount(ctx, q.queueKey(), loMin, loMax)
	if _, err := pipe.Exec(ctx); err != nil {
		return jobx.Stats{}, redisErrors.NewWithCause(ErrRead, err)
	}

	return jobx.Stats{
		QueueLength:     total.Val(),
		ProcessingCount: processing.Val(),
		HighPriority:    high.Val(),
		NormalPriority:  normal.Val(),
		LowPriority:     low.Val(),
		TTLSeconds:      q.ttl,
	}, nil
}

// ClearQueue drops every queued id. Job records are left to expire.
func (q *Queue) ClearQueue(ctx context.Context) error {
	if err := q.rdb.Del(ctx, q.queueKey()).Err(); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err)
	}
	q.log.Warn("queue cleared")
	return nil
}

// ClearProcessing empties the processing set.
func (q *Queue) ClearProcessing(ctx context.Context) error {
	if err := q.rdb.Del(ctx, q.processingKey()).Err(); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err)
	}
	q.log.Warn("processing set cleared")
	return nil
}

// Ping checks connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return redisErrors.NewWithCause(ErrPing, err)
	}
	return nil
}

// Close closes the underlying client.
func (q *Queue) Close() error {
	return q.rdb.Close()
}
