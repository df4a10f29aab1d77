package jobxarchive_test

import (
	"context"
	"testing"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/fsx"
	"github.com/Abraxas-365/jobrelay/pkg/fsx/fsxlocal"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxarchive"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxredis"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*jobxredis.Queue, *fsxlocal.LocalFileSystem) {
	t.Helper()
	mr := miniredis.RunT(t)
	q := jobxredis.NewQueue(redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2}), nil)
	t.Cleanup(func() { _ = q.Close() })

	lfs, err := fsxlocal.NewLocalFileSystem(t.TempDir())
	require.NoError(t, err)
	return q, lfs
}

func completeJob(t *testing.T, q jobx.Queue, id string, result any) {
	t.Helper()
	ctx := context.Background()
	_, err := q.AddJob(ctx, jobx.Job{ID: id, Priority: jobx.PriorityNormal})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	if result != nil {
		require.NoError(t, q.SaveResult(ctx, id, result))
	}
	require.NoError(t, q.Complete(ctx, id))
}

func TestArchiveWritesRecord(t *testing.T) {
	q, lfs := setup(t)
	ctx := context.Background()
	completeJob(t, q, "j1", map[string]any{"accounts": 3})

	a := jobxarchive.New(q, q, lfs, "results", nil)
	ok, err := a.Archive(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, lfs.Join("results", "j1.json"), a.Path("j1"))

	rec, err := a.Load(ctx, "j1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"accounts":3}`, string(rec.Result))
	require.NotNil(t, rec.Job)
	assert.Equal(t, jobx.StatusCompleted, rec.Job.Status)
	assert.WithinDuration(t, time.Now(), rec.ArchivedAt, 5*time.Second)
}

func TestArchiveSkipsMissingResult(t *testing.T) {
	q, lfs := setup(t)
	completeJob(t, q, "j2", nil)

	a := jobxarchive.New(q, q, lfs, "", nil)
	ok, err := a.Archive(context.Background(), "j2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = a.Load(context.Background(), "j2")
	assert.True(t, errx.IsCode(err, fsx.ErrNotFound))
}

func TestPathEscapesJobID(t *testing.T) {
	_, lfs := setup(t)
	a := jobxarchive.New(jobxtest.NewFeed(), nil, lfs, "", nil)
	assert.Equal(t, "a%2F..%2Fb.json", a.Path("a/../b"))
}

func TestRunArchivesOnJobCompleted(t *testing.T) {
	q, lfs := setup(t)
	completeJob(t, q, "done", "ok")
	completeJob(t, q, "other", "ok")

	feed := jobxtest.NewFeed()
	a := jobxarchive.New(feed, q, lfs, "results", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	select {
	case <-feed.Subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("archiver never subscribed")
	}

	now := time.Now()
	feed.Publish(jobx.NewEvent(jobx.EventJobFailed, "other", jobx.StatusFailed, now, nil))
	feed.Publish(jobx.NewEvent(jobx.EventJobCompleted, "done", jobx.StatusCompleted, now, nil))

	require.Eventually(t, func() bool {
		ok, _ := lfs.Exists(context.Background(), a.Path("done"))
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	ok, err := lfs.Exists(context.Background(), a.Path("other"))
	require.NoError(t, err)
	assert.False(t, ok)
}
