package jobx

import (
	"context"
	"time"
)

// WorkerState is the status field of a health record.
type WorkerState string

const (
	WorkerRunning WorkerState = "running"
	WorkerStopped WorkerState = "stopped"
)

// HealthRecord is the liveness record a worker writes on every heartbeat.
type HealthRecord struct {
	WorkerID      string      `json:"worker_id"`
	Status        WorkerState `json:"status"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	CurrentJobID  *string     `json:"current_job_id"`
	JobsProcessed int64       `json:"jobs_processed"`
	JobsSucceeded int64       `json:"jobs_succeeded"`
	JobsFailed    int64       `json:"jobs_failed"`
	UptimeSeconds int64       `json:"uptime_seconds"`
}

// HealthWriter persists a worker's own health record with an expiry.
type HealthWriter interface {
	WriteHealth(ctx context.Context, rec HealthRecord, ttl time.Duration) error
}

// HealthStore adds the read side used by the API and CLI.
type HealthStore interface {
	HealthWriter
	GetHealth(ctx context.Context, workerID string) (*HealthRecord, error)
	ListHealth(ctx context.Context) ([]HealthRecord, error)
}
