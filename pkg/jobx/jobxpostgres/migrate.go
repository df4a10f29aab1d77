package jobxpostgres

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/Abraxas-365/jobrelay/pkg/logx"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "jobx_schema_migrations"

// Migrate applies the embedded schema migrations on a dedicated connection.
// It is safe to call on every start.
func (q *Queue) Migrate() error {
	db, err := sql.Open("postgres", q.dsn)
	if err != nil {
		return pgErrors.NewWithCause(ErrMigrate, err)
	}
	defer db.Close()

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return pgErrors.NewWithCause(ErrMigrate, err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return pgErrors.NewWithCause(ErrMigrate, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return pgErrors.NewWithCause(ErrMigrate, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return pgErrors.NewWithCause(ErrMigrate, err)
	}

	version, dirty, _ := m.Version()
	q.log.WithFields(logx.Fields{
		"version": version,
		"dirty":   dirty,
	}).Info("schema up to date")
	return nil
}
