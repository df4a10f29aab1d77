package jobxpostgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/jobx"
)

// WriteHealth upserts the worker's record; it stops being listed after ttl
// unless rewritten.
func (q *Queue) WriteHealth(ctx context.Context, rec jobx.HealthRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return pgErrors.NewWithCause(ErrMarshal, err).WithDetail("worker_id", rec.WorkerID)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobx_worker_health (worker_id, record, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (worker_id) DO UPDATE SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at`,
		rec.WorkerID, string(data), q.now().Add(ttl))
	if err != nil {
		return pgErrors.NewWithCause(ErrWrite, err).WithDetail("worker_id", rec.WorkerID)
	}
	return nil
}

// GetHealth returns one worker's live record.
func (q *Queue) GetHealth(ctx context.Context, workerID string) (*jobx.HealthRecord, error) {
	var raw []byte
	err := q.db.GetContext(ctx, &raw, `
		SELECT record FROM jobx_worker_health WHERE worker_id = $1 AND expires_at > $2`,
		workerID, q.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, jobx.NewError(jobx.ErrHealthNotFound).WithDetail("worker_id", workerID)
		}
		return nil, pgErrors.NewWithCause(ErrRead, err).WithDetail("worker_id", workerID)
	}
	var rec jobx.HealthRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, pgErrors.NewWithCause(ErrUnmarshal, err).WithDetail("worker_id", workerID)
	}
	return &rec, nil
}

// ListHealth returns every live record sorted by worker id.
func (q *Queue) ListHealth(ctx context.Context) ([]jobx.HealthRecord, error) {
	var raws [][]byte
	err := q.db.SelectContext(ctx, &raws, `
		SELECT record FROM jobx_worker_health WHERE expires_at > $1 ORDER BY worker_id`, q.now())
	if err != nil {
		return nil, pgErrors.NewWithCause(ErrRead, err)
	}
	records := make([]jobx.HealthRecord, 0, len(raws))
	for _, raw := range raws {
		var rec jobx.HealthRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			q.log.WithError(err).Warn("skipping malformed health record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
