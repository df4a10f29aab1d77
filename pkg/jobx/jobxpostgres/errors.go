package jobxpostgres

import "github.com/Abraxas-365/jobrelay/pkg/errx"

var pgErrors = errx.NewRegistry("JOBX_POSTGRES")

var (
	ErrEnqueue   = pgErrors.Register("ENQUEUE", errx.TypeUnavailable, 503, "Postgres enqueue failed")
	ErrDequeue   = pgErrors.Register("DEQUEUE", errx.TypeUnavailable, 503, "Postgres dequeue failed")
	ErrRead      = pgErrors.Register("READ", errx.TypeUnavailable, 503, "Postgres read failed")
	ErrWrite     = pgErrors.Register("WRITE", errx.TypeUnavailable, 503, "Postgres write failed")
	ErrNotify    = pgErrors.Register("NOTIFY", errx.TypeUnavailable, 503, "Postgres notify failed")
	ErrListen    = pgErrors.Register("LISTEN", errx.TypeUnavailable, 503, "Postgres listen failed")
	ErrPing      = pgErrors.Register("PING", errx.TypeUnavailable, 503, "Postgres is unreachable")
	ErrMigrate   = pgErrors.Register("MIGRATE", errx.TypeInternal, 500, "Schema migration failed")
	ErrMarshal   = pgErrors.Register("MARSHAL", errx.TypeInternal, 500, "Failed to marshal job data")
	ErrUnmarshal = pgErrors.Register("UNMARSHAL", errx.TypeInternal, 500, "Failed to unmarshal job data")
)
