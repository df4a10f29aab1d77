// Package jobxtest holds a conformance suite every jobx.Queue backend runs.
package jobxtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty queue for one subtest.
type Factory func(t *testing.T) jobx.Queue

// RunQueueSuite exercises the queue contract against the backend newQueue
// builds.
func RunQueueSuite(t *testing.T, newQueue Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, q jobx.Queue)
	}{
		{"AddJobValidates", testAddJobValidates},
		{"DequeueEmpty", testDequeueEmpty},
		{"PriorityOrder", testPriorityOrder},
		{"FIFOWithinPriority", testFIFOWithinPriority},
		{"DequeueClaims", testDequeueClaims},
		{"CompleteIsIdempotent", testCompleteIsIdempotent},
		{"CompleteAfterCancelConflicts", testCompleteAfterCancelConflicts},
		{"CancelPendingSkipsDequeue", testCancelPendingSkipsDequeue},
		{"FailRequeuesDegraded", testFailRequeuesDegraded},
		{"FailTerminal", testFailTerminal},
		{"UnknownJob", testUnknownJob},
		{"UpdateStatus", testUpdateStatus},
		{"Results", testResults},
		{"Stats", testStats},
		{"PendingJobs", testPendingJobs},
		{"Events", testEvents},
		{"ConcurrentDequeue", testConcurrentDequeue},
		{"Clear", testClear},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			q := newQueue(t)
			c.fn(t, q)
		})
	}
}

// RunHealthSuite exercises the worker health store.
func RunHealthSuite(t *testing.T, newStore func(t *testing.T) jobx.HealthStore) {
	t.Helper()
	t.Run("WriteGetList", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetHealth(ctx, "missing")
		assert.True(t, errx.IsCode(err, jobx.ErrHealthNotFound))

		list, err := s.ListHealth(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		jobID := "job-7"
		for _, id := range []string{"w-b", "w-a"} {
			require.NoError(t, s.WriteHealth(ctx, jobx.HealthRecord{
				WorkerID:      id,
				Status:        jobx.WorkerRunning,
				LastHeartbeat: time.Now().UTC().Truncate(time.Second),
				CurrentJobID:  &jobID,
				JobsProcessed: 3,
			}, time.Minute))
		}

		rec, err := s.GetHealth(ctx, "w-a")
		require.NoError(t, err)
		assert.Equal(t, jobx.WorkerRunning, rec.Status)
		require.NotNil(t, rec.CurrentJobID)
		assert.Equal(t, "job-7", *rec.CurrentJobID)
		assert.Equal(t, int64(3), rec.JobsProcessed)

		list, err = s.ListHealth(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "w-a", list[0].WorkerID)
		assert.Equal(t, "w-b", list[1].WorkerID)

		require.NoError(t, s.WriteHealth(ctx, jobx.HealthRecord{WorkerID: "w-a", Status: jobx.WorkerStopped}, time.Minute))
		rec, err = s.GetHealth(ctx, "w-a")
		require.NoError(t, err)
		assert.Equal(t, jobx.WorkerStopped, rec.Status)
	})
}

func add(t *testing.T, q jobx.Queue, id string, p jobx.Priority) {
	t.Helper()
	got, err := q.AddJob(context.Background(), jobx.Job{
		ID:       id,
		Priority: p,
		Payload:  json.RawMessage(fmt.Sprintf(`{"name":%q}`, id)),
	})
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func mustDequeue(t *testing.T, q jobx.Queue) *jobx.Job {
	t.Helper()
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job, "expected a job")
	return job
}

func drainIDs(t *testing.T, q jobx.Queue) []string {
	t.Helper()
	var ids []string
	for {
		job, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		if job == nil {
			return ids
		}
		ids = append(ids, job.ID)
	}
}

func testAddJobValidates(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	_, err := q.AddJob(ctx, jobx.Job{ID: "", Priority: jobx.PriorityNormal})
	assert.True(t, errx.IsCode(err, jobx.ErrInvalidJob))
	assert.Equal(t, 400, errx.StatusOf(err))

	_, err = q.AddJob(ctx, jobx.Job{ID: "p", Priority: 5})
	assert.True(t, errx.IsCode(err, jobx.ErrInvalidPriority))

	n, err := q.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testDequeueEmpty(t *testing.T, q jobx.Queue) {
	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func testPriorityOrder(t *testing.T, q jobx.Queue) {
	add(t, q, "low", jobx.PriorityLow)
	add(t, q, "normal", jobx.PriorityNormal)
	add(t, q, "high", jobx.PriorityHigh)

	assert.Equal(t, []string{"high", "normal", "low"}, drainIDs(t, q))
}

func testFIFOWithinPriority(t *testing.T, q jobx.Queue) {
	add(t, q, "n1", jobx.PriorityNormal)
	add(t, q, "h1", jobx.PriorityHigh)
	add(t, q, "n2", jobx.PriorityNormal)
	add(t, q, "h2", jobx.PriorityHigh)
	add(t, q, "n3", jobx.PriorityNormal)

	assert.Equal(t, []string{"h1", "h2", "n1", "n2", "n3"}, drainIDs(t, q))
}

func testDequeueClaims(t *testing.T, q jobx.Queue) {
	ctx := jobx.ContextWithWorkerID(context.Background(), "w-1")
	add(t, q, "j1", jobx.PriorityNormal)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, jobx.StatusRunning, job.Status)
	assert.Equal(t, "w-1", job.WorkerID)
	assert.NotNil(t, job.StartedAt)
	assert.JSONEq(t, `{"name":"j1"}`, string(job.Payload))

	st, err := q.GetStatus(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobx.StatusRunning, st)

	ok, err := q.IsProcessing(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.QueueLength)
	assert.Equal(t, int64(1), stats.ProcessingCount)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func testCompleteIsIdempotent(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	add(t, q, "c1", jobx.PriorityHigh)
	mustDequeue(t, q)

	require.NoError(t, q.Complete(ctx, "c1"))
	require.NoError(t, q.Complete(ctx, "c1"))

	st, err := q.GetStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, jobx.StatusCompleted, st)

	ok, err := q.IsProcessing(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := q.GetJob(ctx, "c1")
	require.NoError(t, err)
	assert.NotNil(t, job.CompletedAt)

	err = q.Cancel(ctx, "c1")
	assert.True(t, errx.IsCode(err, jobx.ErrInvalidTransition))
	assert.Equal(t, 409, errx.StatusOf(err))
}

func testCompleteAfterCancelConflicts(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	add(t, q, "x1", jobx.PriorityNormal)
	running := mustDequeue(t, q)

	require.NoError(t, q.Cancel(ctx, "x1"))
	require.NoError(t, q.Cancel(ctx, "x1"))

	err := q.Complete(ctx, "x1")
	assert.True(t, errx.IsCode(err, jobx.ErrInvalidTransition))

	running.ErrorMessage = "too late"
	err = q.Fail(ctx, "x1", true, running)
	assert.True(t, errx.IsCode(err, jobx.ErrInvalidTransition))

	st, err := q.GetStatus(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, jobx.StatusCancelled, st)

	n, err := q.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testCancelPendingSkipsDequeue(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	add(t, q, "keep", jobx.PriorityLow)
	add(t, q, "drop", jobx.PriorityHigh)

	require.NoError(t, q.Cancel(ctx, "drop"))
	assert.Equal(t, []string{"keep"}, drainIDs(t, q))
}

func testFailRequeuesDegraded(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	add(t, q, "r1", jobx.PriorityHigh)
	job := mustDequeue(t, q)
	job.ErrorMessage = "transient"

	require.NoError(t, q.Fail(ctx, "r1", true, job))

	st, err := q.GetStatus(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, jobx.StatusPending, st)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.QueueLength)
	assert.Equal(t, int64(1), stats.NormalPriority)
	assert.Zero(t, stats.HighPriority)
	assert.Zero(t, stats.ProcessingCount)

	again := mustDequeue(t, q)
	assert.Equal(t, "r1", again.ID)
	assert.Equal(t, jobx.PriorityNormal, again.Priority)
	assert.Equal(t, 1, again.RetryCount)
	assert.JSONEq(t, `{"name":"r1"}`, string(again.Payload))

	require.NoError(t, q.Fail(ctx, "r1", true, again))
	third := mustDequeue(t, q)
	assert.Equal(t, jobx.PriorityLow, third.Priority)
	assert.Equal(t, 2, third.RetryCount)

	require.NoError(t, q.Fail(ctx, "r1", true, third))
	fourth := mustDequeue(t, q)
	assert.Equal(t, jobx.PriorityLow, fourth.Priority)
}

func testFailTerminal(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	add(t, q, "f1", jobx.PriorityNormal)
	job := mustDequeue(t, q)
	job.ErrorMessage = "permanent"

	require.NoError(t, q.Fail(ctx, "f1", false, job))
	require.NoError(t, q.Fail(ctx, "f1", false, job))

	stored, err := q.GetJob(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, jobx.StatusFailed, stored.Status)
	assert.Equal(t, "permanent", stored.ErrorMessage)
	assert.NotNil(t, stored.CompletedAt)

	err = q.Complete(ctx, "f1")
	assert.True(t, errx.IsCode(err, jobx.ErrInvalidTransition))
}

func testUnknownJob(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	for name, fn := range map[string]func() error{
		"complete": func() error { return q.Complete(ctx, "nope") },
		"fail":     func() error { return q.Fail(ctx, "nope", false, nil) },
		"cancel":   func() error { return q.Cancel(ctx, "nope") },
		"status":   func() error { _, err := q.GetStatus(ctx, "nope"); return err },
		"job":      func() error { _, err := q.GetJob(ctx, "nope"); return err },
	} {
		err := fn()
		assert.Truef(t, errx.IsCode(err, jobx.ErrJobNotFound), "%s: got %v", name, err)
	}
}

func testUpdateStatus(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	add(t, q, "u1", jobx.PriorityNormal)

	require.NoError(t, q.UpdateStatus(ctx, "u1", "processing"))
	st, err := q.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, jobx.StatusRunning, st)

	err = q.UpdateStatus(ctx, "u1", "paused")
	assert.True(t, errx.IsCode(err, jobx.ErrInvalidStatus))

	require.NoError(t, q.UpdateStatus(ctx, "u1", "cancelled"))
	n, err := q.GetQueueLength(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testResults(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	add(t, q, "res", jobx.PriorityNormal)

	_, err := q.GetResult(ctx, "res")
	assert.True(t, errx.IsCode(err, jobx.ErrResultNotFound))

	require.NoError(t, q.SaveResult(ctx, "res", map[string]any{"accounts": 3, "ok": true}))
	raw, err := q.GetResult(ctx, "res")
	require.NoError(t, err)
	assert.JSONEq(t, `{"accounts":3,"ok":true}`, string(raw))
}

func testStats(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	add(t, q, "h1", jobx.PriorityHigh)
	add(t, q, "h2", jobx.PriorityHigh)
	add(t, q, "n1", jobx.PriorityNormal)
	add(t, q, "l1", jobx.PriorityLow)
	add(t, q, "l2", jobx.PriorityLow)
	add(t, q, "l3", jobx.PriorityLow)
	mustDequeue(t, q)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.QueueLength)
	assert.Equal(t, int64(1), stats.ProcessingCount)
	assert.Equal(t, int64(1), stats.HighPriority)
	assert.Equal(t, int64(1), stats.NormalPriority)
	assert.Equal(t, int64(3), stats.LowPriority)
	assert.Equal(t, stats.QueueLength, stats.HighPriority+stats.NormalPriority+stats.LowPriority)
	assert.Positive(t, stats.TTLSeconds)

	n, err := q.GetProcessingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testPendingJobs(t *testing.T, q jobx.Queue) {
	add(t, q, "p-low", jobx.PriorityLow)
	add(t, q, "p-high", jobx.PriorityHigh)
	add(t, q, "p-norm", jobx.PriorityNormal)

	jobs, err := q.GetPendingJobs(context.Background())
	require.NoError(t, err)
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
		assert.Equal(t, jobx.StatusPending, j.Status)
	}
	assert.Equal(t, []string{"p-high", "p-norm", "p-low"}, ids)
}

func nextEvent(t *testing.T, sub jobx.Subscription) jobx.Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return jobx.Event{}
	}
}

func testEvents(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	sub, err := q.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	add(t, q, "e1", jobx.PriorityHigh)
	e := nextEvent(t, sub)
	assert.Equal(t, jobx.EventJobAdded, e.Type)
	assert.Equal(t, "e1", e.JobID)
	assert.Equal(t, jobx.StatusPending, e.Status())
	assert.EqualValues(t, 2, e.Data["priority"])

	mustDequeue(t, q)
	e = nextEvent(t, sub)
	assert.Equal(t, jobx.EventStatusUpdated, e.Type)
	assert.Equal(t, jobx.StatusRunning, e.Status())

	require.NoError(t, q.Complete(ctx, "e1"))
	e = nextEvent(t, sub)
	assert.Equal(t, jobx.EventStatusUpdated, e.Type)
	assert.Equal(t, jobx.StatusCompleted, e.Status())
	e = nextEvent(t, sub)
	assert.Equal(t, jobx.EventJobCompleted, e.Type)
	assert.Positive(t, e.Timestamp)
}

func testConcurrentDequeue(t *testing.T, q jobx.Queue) {
	const jobs, workers = 40, 8
	for i := range jobs {
		add(t, q, fmt.Sprintf("cc-%02d", i), jobx.Priority(i%3))
	}

	var (
		mu      sync.Mutex
		claimed []string
		wg      sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Dequeue(context.Background())
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed = append(claimed, job.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, jobs)
	sort.Strings(claimed)
	for i := 1; i < len(claimed); i++ {
		assert.NotEqual(t, claimed[i-1], claimed[i], "job claimed twice")
	}
}

func testClear(t *testing.T, q jobx.Queue) {
	ctx := context.Background()
	add(t, q, "k1", jobx.PriorityNormal)
	add(t, q, "k2", jobx.PriorityNormal)
	mustDequeue(t, q)

	require.NoError(t, q.ClearQueue(ctx))
	require.NoError(t, q.ClearProcessing(ctx))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.QueueLength)
	assert.Zero(t, stats.ProcessingCount)
	require.NoError(t, q.Ping(ctx))
}
