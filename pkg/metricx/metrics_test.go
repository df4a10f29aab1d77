package metricx_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/metricx"
	"github.com/Abraxas-365/jobrelay/pkg/notifx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ jobx.WorkerObserver = (*metricx.Metrics)(nil)
	_ notifx.Observer     = (*metricx.Metrics)(nil)
)

func TestObserversFeedCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metricx.New(reg)

	m.JobFinished(jobx.OutcomeSucceeded, 150*time.Millisecond)
	m.JobFinished(jobx.OutcomeSucceeded, 50*time.Millisecond)
	m.JobFinished(jobx.OutcomeRetried, time.Second)
	m.ClientsChanged(4)
	m.Broadcasted()
	m.SlowConsumer()

	expected := `
# HELP jobrelay_jobs_processed_total Job attempts finished by workers, by outcome.
# TYPE jobrelay_jobs_processed_total counter
jobrelay_jobs_processed_total{outcome="retried"} 1
jobrelay_jobs_processed_total{outcome="succeeded"} 2
# HELP jobrelay_hub_clients Connected websocket clients.
# TYPE jobrelay_hub_clients gauge
jobrelay_hub_clients 4
# HELP jobrelay_hub_slow_consumers_total Clients dropped because their send buffer was full.
# TYPE jobrelay_hub_slow_consumers_total counter
jobrelay_hub_slow_consumers_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"jobrelay_jobs_processed_total", "jobrelay_hub_clients", "jobrelay_hub_slow_consumers_total"))

	count, err := testutil.GatherAndCount(reg, "jobrelay_job_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueueCollector(t *testing.T) {
	stats := jobx.Stats{QueueLength: 6, ProcessingCount: 2, HighPriority: 1, NormalPriority: 2, LowPriority: 3}
	var fail bool
	c := metricx.NewQueueCollector(func(context.Context) (jobx.Stats, error) {
		if fail {
			return jobx.Stats{}, errors.New("down")
		}
		return stats, nil
	}, time.Second)

	expected := `
# HELP jobrelay_queue_length Jobs waiting in the priority queue.
# TYPE jobrelay_queue_length gauge
jobrelay_queue_length 6
# HELP jobrelay_queue_pending Jobs waiting, by priority band.
# TYPE jobrelay_queue_pending gauge
jobrelay_queue_pending{priority="high"} 1
jobrelay_queue_pending{priority="low"} 3
jobrelay_queue_pending{priority="normal"} 2
# HELP jobrelay_queue_processing Jobs claimed by workers.
# TYPE jobrelay_queue_processing gauge
jobrelay_queue_processing 2
# HELP jobrelay_queue_up Whether the last queue stats read succeeded.
# TYPE jobrelay_queue_up gauge
jobrelay_queue_up 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))

	fail = true
	assert.Equal(t, 1, testutil.CollectAndCount(c))
	assert.Equal(t, float64(0), testutil.ToFloat64(c))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metricx.New(reg)
	m.Broadcasted()

	rec := httptest.NewRecorder()
	metricx.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "jobrelay_hub_broadcasts_total 1")
}
