package jobxpostgres_test

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/jobx"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxpostgres"
	"github.com/Abraxas-365/jobrelay/pkg/jobx/jobxtest"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// testDSN is empty when no database is available; every test then skips.
var testDSN string

func TestMain(m *testing.M) {
	flag.Parse()
	os.Exit(run(m))
}

func run(m *testing.M) int {
	if dsn := os.Getenv("JOBRELAY_TEST_DATABASE_URL"); dsn != "" {
		testDSN = dsn
		return m.Run()
	}
	if testing.Short() {
		return m.Run()
	}

	ctx := context.Background()
	ctr, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container unavailable, skipping: %v\n", err)
		return m.Run()
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	testDSN, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection string: %v\n", err)
		return 1
	}
	return m.Run()
}

// startPostgres runs a throwaway container. testcontainers panics while
// resolving the docker host when no daemon is installed, so that panic is
// returned as an error.
func startPostgres(ctx context.Context) (ctr *tcpostgres.PostgresContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctr, err = nil, fmt.Errorf("docker unavailable: %v", r)
		}
	}()
	return tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("jobrelay_test"),
		tcpostgres.WithUsername("jobrelay"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
}

func newQueue(t *testing.T) *jobxpostgres.Queue {
	t.Helper()
	if testDSN == "" {
		t.Skip("no postgres available: set JOBRELAY_TEST_DATABASE_URL or run with docker")
	}

	db, err := sqlx.Connect("postgres", testDSN)
	require.NoError(t, err)

	q := jobxpostgres.NewQueue(db, testDSN, nil)
	require.NoError(t, q.Migrate())
	_, err = db.Exec(`TRUNCATE jobx_jobs, jobx_worker_health`)
	require.NoError(t, err)

	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueueConformance(t *testing.T) {
	jobxtest.RunQueueSuite(t, func(t *testing.T) jobx.Queue { return newQueue(t) })
}

func TestHealthConformance(t *testing.T) {
	jobxtest.RunHealthSuite(t, func(t *testing.T) jobx.HealthStore { return newQueue(t) })
}

func TestMigrateIsRepeatable(t *testing.T) {
	q := newQueue(t)
	require.NoError(t, q.Migrate())
}

func TestHealthRecordExpires(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.WriteHealth(ctx, jobx.HealthRecord{WorkerID: "gone", Status: jobx.WorkerRunning}, time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	list, err := q.ListHealth(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
