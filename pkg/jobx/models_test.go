package jobx_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want jobx.Status
	}{
		{"pending", jobx.StatusPending},
		{"RUNNING", jobx.StatusRunning},
		{"processing", jobx.StatusRunning},
		{" completed ", jobx.StatusCompleted},
		{"failed", jobx.StatusFailed},
		{"cancelled", jobx.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := jobx.ParseStatus(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := jobx.ParseStatus("paused")
	assert.True(t, errx.IsCode(err, jobx.ErrInvalidStatus))
}

func TestPriorityDegrade(t *testing.T) {
	assert.Equal(t, jobx.PriorityNormal, jobx.PriorityHigh.Degrade())
	assert.Equal(t, jobx.PriorityLow, jobx.PriorityNormal.Degrade())
	assert.Equal(t, jobx.PriorityLow, jobx.PriorityLow.Degrade())
	assert.False(t, jobx.Priority(3).Valid())
	assert.False(t, jobx.Priority(-1).Valid())
}

func TestPrepareForEnqueue(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	started := now.Add(-time.Hour)

	j := jobx.Job{ID: "j1", Priority: jobx.PriorityHigh, Status: jobx.StatusFailed, StartedAt: &started}
	require.NoError(t, jobx.PrepareForEnqueue(&j, now))
	assert.Equal(t, jobx.StatusPending, j.Status)
	assert.Nil(t, j.StartedAt)
	assert.Equal(t, now, j.CreatedAt)

	empty := jobx.Job{ID: "  ", Priority: jobx.PriorityLow}
	assert.True(t, errx.IsCode(jobx.PrepareForEnqueue(&empty, now), jobx.ErrInvalidJob))

	bad := jobx.Job{ID: "x", Priority: 7}
	assert.True(t, errx.IsCode(jobx.PrepareForEnqueue(&bad, now), jobx.ErrInvalidPriority))
}

func TestPrepareRequeue(t *testing.T) {
	j := jobx.Job{ID: "j", Priority: jobx.PriorityHigh, Payload: json.RawMessage(`{"a":1}`), RetryCount: 1}
	next := jobx.PrepareRequeue(j)
	assert.Equal(t, jobx.PriorityNormal, next.Priority)
	assert.Equal(t, 2, next.RetryCount)
	assert.JSONEq(t, `{"a":1}`, string(next.Payload))
	assert.Equal(t, 1, j.RetryCount)
}

func TestJobLifecycleHelpers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	j := jobx.Job{ID: "j", Status: jobx.StatusPending, Total: 4}
	assert.True(t, j.CanBeCancelled())
	assert.Zero(t, j.Duration(now))

	j.Start(now)
	assert.Equal(t, jobx.StatusRunning, j.Status)
	assert.Equal(t, 10*time.Second, j.Duration(now.Add(10*time.Second)))

	j.RecordProgress(true)
	j.RecordProgress(true)
	j.RecordProgress(false)
	assert.InDelta(t, 75.0, j.ProgressPercent(), 0.001)
	assert.InDelta(t, 66.666, j.SuccessRate(), 0.01)

	j.MarkFailed("boom", now.Add(30*time.Second))
	assert.True(t, j.IsTerminal())
	assert.False(t, j.CanBeCancelled())
	assert.Equal(t, "boom", j.ErrorMessage)
	assert.Equal(t, 30*time.Second, j.Duration(now.Add(time.Hour)))
}

func TestEventRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	e := jobx.NewEvent(jobx.EventJobAdded, "j1", jobx.StatusPending, now, map[string]any{"priority": 2})
	b, err := e.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"job_added","job_id":"j1","timestamp":1700000000,
		"data":{"job_id":"j1","status":"pending","priority":2}}`, string(b))

	got, err := jobx.DecodeEvent(b)
	require.NoError(t, err)
	assert.Equal(t, jobx.EventJobAdded, got.Type)
	assert.Equal(t, jobx.StatusPending, got.Status())

	_, err = jobx.DecodeEvent([]byte("{not json"))
	assert.True(t, errx.IsCode(err, jobx.ErrInvalidEvent))
}
