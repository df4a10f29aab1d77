package jobxredis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/redis/go-redis/v9"
)

func (q *Queue) healthPrefix() string           { return q.opts.Prefix + ":worker:health:" }
func (q *Queue) healthKey(workerID string) string { return q.healthPrefix() + workerID }

// WriteHealth stores the record; it disappears after ttl unless rewritten.
func (q *Queue) WriteHealth(ctx context.Context, rec jobx.HealthRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err).WithDetail("worker_id", rec.WorkerID)
	}
	if err := q.rdb.Set(ctx, q.healthKey(rec.WorkerID), data, ttl).Err(); err != nil {
		return redisErrors.NewWithCause(ErrWrite, err).WithDetail("worker_id", rec.WorkerID)
	}
	return nil
}

// GetHealth returns one worker's live record.
func (q *Queue) GetHealth(ctx context.Context, workerID string) (*jobx.HealthRecord, error) {
	data, err := q.rdb.Get(ctx, q.healthKey(workerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, jobx.NewError(jobx.ErrHealthNotFound).WithDetail("worker_id", workerID)
		}
		return nil, redisErrors.NewWithCause(ErrRead, err).WithDetail("worker_id", workerID)
	}
	var rec jobx.HealthRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("worker_id", workerID)
	}
	return &rec, nil
}

// ListHealth returns every live record sorted by worker id.
func (q *Queue) ListHealth(ctx context.Context) ([]jobx.HealthRecord, error) {
	var keys []string
	iter := q.rdb.Scan(ctx, 0, q.healthPrefix()+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, redisErrors.NewWithCause(ErrRead, err)
	}
	if len(keys) == 0 {
		return []jobx.HealthRecord{}, nil
	}

	values, err := q.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, redisErrors.NewWithCause(ErrRead, err)
	}

	records := make([]jobx.HealthRecord, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var rec jobx.HealthRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			q.log.WithError(err).WithField("key", keys[i]).Warn("skipping malformed health record")
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].WorkerID < records[j].WorkerID })
	return records, nil
}
