package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/authx"
	"github.com/Abraxas-365/jobrelay/pkg/config"
	"github.com/Abraxas-365/jobrelay/pkg/fsx/fsxlocal"
	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxarchive"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxredis"
	"github.com/Abraxas-365/jobrelay/pkg/logx"
	"github.com/Abraxas-365/jobrelay/pkg/notifx"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mr    *miniredis.Miniredis
	queue *jobxredis.Queue
	srv   *server
}

func newFixture(t *testing.T, tokens *authx.TokenService) *fixture {
	t.Helper()
	cfg, err := config.FromMap(map[string]string{})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	q := jobxredis.NewQueue(redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2}), nil)
	t.Cleanup(func() { _ = q.Close() })

	hub := notifx.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	t.Cleanup(cancel)

	return &fixture{
		mr:    mr,
		queue: q,
		srv: &server{
			cfg:     cfg,
			log:     logx.Nop(),
			store:   q,
			hub:     hub,
			auth:    authx.NewMiddleware(tokens),
			started: time.Now(),
		},
	}
}

func (f *fixture) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := newApp(f.srv).Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func (f *fixture) addJob(t *testing.T, id string, p jobx.Priority) {
	t.Helper()
	_, err := f.queue.AddJob(context.Background(), jobx.Job{ID: id, Priority: p})
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "healthy", body["store"])
	assert.Equal(t, "running", body["hub"])

	status, body = f.do(t, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	f.mr.Close()

	status, body = f.do(t, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "degraded", body["status"])

	status, _ = f.do(t, httptest.NewRequest("GET", "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, body = f.do(t, httptest.NewRequest("GET", "/health/live", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alive", body["status"])
}

func TestQueueEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.addJob(t, "low", jobx.PriorityLow)
	f.addJob(t, "high", jobx.PriorityHigh)

	status, body := f.do(t, httptest.NewRequest("GET", "/api/queue/stats", nil))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["queue_length"])
	assert.EqualValues(t, 1, body["high_priority"])
	assert.EqualValues(t, 1, body["low_priority"])

	status, body = f.do(t, httptest.NewRequest("GET", "/api/jobs/pending", nil))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])
	jobs := body["jobs"].([]any)
	assert.Equal(t, "high", jobs[0].(map[string]any)["id"])

	status, body = f.do(t, httptest.NewRequest("GET", "/api/jobs/high", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, false, body["processing"])
	assert.NotContains(t, body, "result")
}

func TestGetJobWithResult(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addJob(t, "j1", jobx.PriorityNormal)
	_, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, f.queue.SaveResult(ctx, "j1", map[string]any{"ok": true}))
	require.NoError(t, f.queue.Complete(ctx, "j1"))

	status, body := f.do(t, httptest.NewRequest("GET", "/api/jobs/j1", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, map[string]any{"ok": true}, body["result"])
	assert.EqualValues(t, 100, body["progress_percent"])
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, httptest.NewRequest("GET", "/api/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, jobx.ErrJobNotFound.Code, body["code"])
	assert.Equal(t, "NOT_FOUND", body["type"])
}

func TestGetJobFallsBackToArchive(t *testing.T) {
	f := newFixture(t, nil)
	lfs, err := fsxlocal.NewLocalFileSystem(t.TempDir())
	require.NoError(t, err)
	f.srv.archive = jobxarchive.New(f.queue, f.queue, lfs, "results", nil)

	rec := jobxarchive.Record{Result: json.RawMessage(`{"rows":7}`), ArchivedAt: time.Now()}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, lfs.WriteFile(context.Background(), f.srv.archive.Path("expired"), data))

	status, body := f.do(t, httptest.NewRequest("GET", "/api/jobs/expired", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["archived"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, map[string]any{"rows": float64(7)}, body["result"])
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t, nil)
	f.addJob(t, "c1", jobx.PriorityNormal)

	status, body := f.do(t, httptest.NewRequest("POST", "/api/jobs/c1/cancel", nil))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", body["status"])

	length, err := f.queue.GetQueueLength(context.Background())
	require.NoError(t, err)
	assert.Zero(t, length)

	status, _ = f.do(t, httptest.NewRequest("POST", "/api/jobs/c1/cancel", nil))
	assert.Equal(t, http.StatusOK, status, "repeat cancel is a no-op")

	status, body = f.do(t, httptest.NewRequest("POST", "/api/jobs/nope/cancel", nil))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, jobx.ErrJobNotFound.Code, body["code"])
}

func TestCancelCompletedJobConflicts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.addJob(t, "done", jobx.PriorityNormal)
	_, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, f.queue.Complete(ctx, "done"))

	status, body := f.do(t, httptest.NewRequest("POST", "/api/jobs/done/cancel", nil))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, jobx.ErrInvalidTransition.Code, body["code"])
}

func TestWorkers(t *testing.T) {
	f := newFixture(t, nil)
	rec := jobx.HealthRecord{WorkerID: "w1", Status: jobx.WorkerRunning, LastHeartbeat: time.Now()}
	require.NoError(t, f.queue.WriteHealth(context.Background(), rec, time.Minute))

	status, body := f.do(t, httptest.NewRequest("GET", "/api/workers", nil))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["count"])
}

func TestAuthGuardsAPI(t *testing.T) {
	tokens := authx.NewTokenService("test-secret", time.Hour, "")
	f := newFixture(t, tokens)
	f.addJob(t, "a1", jobx.PriorityNormal)

	status, _ := f.do(t, httptest.NewRequest("GET", "/api/queue/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, status)

	reader, err := tokens.Issue("ops", authx.ScopeJobsRead)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/queue/stats", nil)
	req.Header.Set("Authorization", "Bearer "+reader)
	status, _ = f.do(t, req)
	assert.Equal(t, http.StatusOK, status)

	req = httptest.NewRequest("POST", "/api/jobs/a1/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+reader)
	status, _ = f.do(t, req)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = f.do(t, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, status, "health stays public")
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, httptest.NewRequest("GET", "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestWebsocketStats(t *testing.T) {
	f := newFixture(t, nil)

	status, body := f.do(t, httptest.NewRequest("GET", "/ws/stats", nil))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["connected_clients"])

	status, _ = f.do(t, httptest.NewRequest("GET", "/ws", nil))
	assert.Equal(t, http.StatusUpgradeRequired, status)
}
