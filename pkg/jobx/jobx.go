// Package jobx defines the priority job queue contract, the job model and
// the worker loop that drives it. Store-specific implementations live in
// jobxredis and jobxpostgres.
package jobx

import (
	"context"
	"encoding/json"
)

// DefaultTTLSeconds is how long job data, status and result keys live.
const DefaultTTLSeconds = 3600

// JobEnqueuer adds jobs. It is all a producer needs.
type JobEnqueuer interface {
	AddJob(ctx context.Context, job Job) (string, error)
}

// JobStatusReader answers queries about jobs and the queue.
type JobStatusReader interface {
	GetStatus(ctx context.Context, jobID string) (Status, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetResult(ctx context.Context, jobID string) (json.RawMessage, error)
	GetPendingJobs(ctx context.Context) ([]Job, error)
	IsProcessing(ctx context.Context, jobID string) (bool, error)
	GetQueueLength(ctx context.Context) (int64, error)
	GetProcessingCount(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
}

// JobProcessor provides the state transitions used by workers and operators.
type JobProcessor interface {
	// Dequeue claims the highest-priority, oldest pending job. It returns
	// (nil, nil) when nothing is pending.
	Dequeue(ctx context.Context) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, status string) error
	Complete(ctx context.Context, jobID string) error
	// Fail marks the job failed. With requeue and a non-nil job it is re-added
	// one priority band lower; otherwise the failure is terminal.
	Fail(ctx context.Context, jobID string, requeue bool, job *Job) error
	Cancel(ctx context.Context, jobID string) error
	SaveResult(ctx context.Context, jobID string, result any) error
}

// QueueAdmin groups maintenance operations.
type QueueAdmin interface {
	ClearQueue(ctx context.Context) error
	ClearProcessing(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Queue combines all backend operations.
type Queue interface {
	JobEnqueuer
	JobStatusReader
	JobProcessor
	QueueAdmin
	EventSource
	Close() error
}

// WorkerQueue is the subset of Queue a Worker drives.
type WorkerQueue interface {
	Dequeue(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string, requeue bool, job *Job) error
	SaveResult(ctx context.Context, jobID string, result any) error
}

// Executor runs one job. A nil error means success and result, if non-nil,
// is saved as the job's result.
type Executor interface {
	Execute(ctx context.Context, job *Job) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job *Job) (any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job *Job) (any, error) {
	return f(ctx, job)
}

type workerIDKey struct{}

// ContextWithWorkerID tags ctx with the claiming worker's id. Backends read
// it in Dequeue to stamp the job.
func ContextWithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDKey{}, workerID)
}

// WorkerIDFromContext returns the id set by ContextWithWorkerID, or "".
func WorkerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(workerIDKey{}).(string)
	return id
}
