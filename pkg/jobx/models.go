package jobx

import (
	"encoding/json"
	"strings"
	"time"
)

// Priority orders pending jobs; higher values are dequeued first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Valid reports whether p is one of the three known bands.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

// Degrade returns the next lower band, floored at PriorityLow.
func (p Priority) Degrade() Priority {
	if p <= PriorityLow {
		return PriorityLow
	}
	return p - 1
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// statusAliases maps accepted spellings onto canonical statuses.
var statusAliases = map[string]Status{
	"processing": StatusRunning,
}

// ParseStatus validates s against the fixed status set and normalizes aliases.
func ParseStatus(s string) (Status, error) {
	v := Status(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return v, nil
	}
	if alias, ok := statusAliases[string(v)]; ok {
		return alias, nil
	}
	return "", NewError(ErrInvalidStatus).WithDetail("status", s)
}

// IsTerminal reports whether no further transition is expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a unit of work plus its lifecycle bookkeeping. It is stored as JSON
// under the job's data key.
type Job struct {
	ID       string          `json:"id"`
	Priority Priority        `json:"priority"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Status   Status          `json:"status"`

	// Total is the number of steps the executor expects to run, when known.
	Total       int `json:"total,omitempty"`
	Progress    int `json:"progress"`
	Successful  int `json:"successful"`
	FailedCount int `json:"failed_count"`

	// RetryCount travels with the job so a requeued job keeps its history
	// whichever worker claims it next.
	RetryCount int `json:"retry_count"`

	// WorkerID is the worker that claimed the job most recently.
	WorkerID string `json:"worker_id,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Validate checks the fields AddJob depends on.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return NewError(ErrInvalidJob).WithDetail("reason", "job id cannot be empty")
	}
	if !j.Priority.Valid() {
		return NewError(ErrInvalidPriority).WithDetail("priority", int(j.Priority))
	}
	return nil
}

// IsTerminal reports whether the job reached completed, failed or cancelled.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// CanBeCancelled reports whether Cancel is meaningful for the job.
func (j *Job) CanBeCancelled() bool {
	return j.Status == StatusPending || j.Status == StatusRunning
}

// Duration is the time spent running: started to completed, or started to
// now while still running. Zero before the job starts.
func (j *Job) Duration(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return now.Sub(*j.StartedAt)
}

// ProgressPercent returns Progress relative to Total in [0, 100].
func (j *Job) ProgressPercent() float64 {
	if j.Total <= 0 {
		if j.IsTerminal() {
			return 100
		}
		return 0
	}
	pct := float64(j.Progress) / float64(j.Total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// SuccessRate is Successful over attempted steps, in [0, 100].
func (j *Job) SuccessRate() float64 {
	attempted := j.Successful + j.FailedCount
	if attempted == 0 {
		return 0
	}
	return float64(j.Successful) / float64(attempted) * 100
}

// RecordProgress counts one finished step.
func (j *Job) RecordProgress(ok bool) {
	j.Progress++
	if ok {
		j.Successful++
	} else {
		j.FailedCount++
	}
}

// Start marks the job running.
func (j *Job) Start(now time.Time) {
	t := now.UTC()
	j.Status = StatusRunning
	j.StartedAt = &t
	j.CompletedAt = nil
}

// MarkCompleted marks the job completed.
func (j *Job) MarkCompleted(now time.Time) {
	j.finish(StatusCompleted, now)
}

// MarkFailed marks the job failed with msg.
func (j *Job) MarkFailed(msg string, now time.Time) {
	j.ErrorMessage = msg
	j.finish(StatusFailed, now)
}

// MarkCancelled marks the job cancelled.
func (j *Job) MarkCancelled(now time.Time) {
	j.finish(StatusCancelled, now)
}

func (j *Job) finish(s Status, now time.Time) {
	t := now.UTC()
	j.Status = s
	j.CompletedAt = &t
}

// PrepareForEnqueue validates j and resets it to a fresh pending state.
// Backends call it at the top of AddJob.
func PrepareForEnqueue(j *Job, now time.Time) error {
	if err := j.Validate(); err != nil {
		return err
	}
	j.Status = StatusPending
	j.WorkerID = ""
	j.StartedAt = nil
	j.CompletedAt = nil
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now.UTC()
	}
	return nil
}

// PrepareRequeue returns the copy of j that Fail re-adds: one priority band
// lower and one more retry recorded. Payload and id are kept.
func PrepareRequeue(j Job) Job {
	j.Priority = j.Priority.Degrade()
	j.RetryCount++
	return j
}

// Stats is a point-in-time view of the queue computed from the store.
type Stats struct {
	QueueLength     int64 `json:"queue_length"`
	ProcessingCount int64 `json:"processing_count"`
	HighPriority    int64 `json:"high_priority"`
	NormalPriority  int64 `json:"normal_priority"`
	LowPriority     int64 `json:"low_priority"`
	TTLSeconds      int64 `json:"ttl_seconds"`
}
