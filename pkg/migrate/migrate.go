// Package migrate orchestrates schema migrations for the control schema and
// for per-workspace schemas, in either static (single configured workspace)
// or dynamic (enumerate and migrate every workspace on record) mode.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration for golang-migrate

	"github.com/boris-cremit/nebula/internal/migrations"
	"github.com/boris-cremit/nebula/pkg/apperr"
	"github.com/boris-cremit/nebula/pkg/dbscope"
	"github.com/boris-cremit/nebula/pkg/log"
)

// advisoryLockKey serializes migration runs at the control-schema level so
// concurrent server instances never race applying the same migration set.
const advisoryLockKey = 0x4e4542554c41 // "NEBULA" packed into an int64-safe constant

// DSN holds the Postgres connection coordinates used to open a
// database/sql handle for golang-migrate (which drives its own connection,
// independent of the pgxpool used by request handlers).
type DSN struct {
	Host         string
	Port         uint16
	DatabaseName string
	Username     string
	Password     string
}

func (d DSN) url(schema string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.DatabaseName,
	}
	if d.Username != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String()
}

// Control migrates the control schema (the workspace registry) to the
// latest revision. Idempotent: re-running against an up-to-date schema is a
// no-op.
func Control(ctx context.Context, dsn DSN) error {
	return apply(ctx, dsn, "control", migrations.ControlFS, "control")
}

// Static ensures the single configured workspace's schema exists and is
// migrated to the latest revision.
func Static(ctx context.Context, dsn DSN, workspaceName string) error {
	schema := dbscope.SchemaName(workspaceName)
	if err := ensureSchemaExists(ctx, dsn, schema); err != nil {
		return err
	}
	return apply(ctx, dsn, schema, migrations.WorkspaceFS, "workspace")
}

// AllWorkspaces discovers every workspace schema recorded in the control
// schema and migrates each within its own best-effort attempt: a failure on
// one workspace's schema is logged and does not prevent the others from
// migrating.
func AllWorkspaces(ctx context.Context, dsn DSN, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT name FROM control.workspace WHERE NOT deleted`)
	if err != nil {
		return apperr.Anyhow(fmt.Errorf("listing workspaces: %w", err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return apperr.Anyhow(fmt.Errorf("scanning workspace name: %w", err))
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return apperr.Anyhow(fmt.Errorf("iterating workspaces: %w", err))
	}

	logger := log.WithComponent("migrate")
	for _, name := range names {
		if err := Static(ctx, dsn, name); err != nil {
			logger.Error().Err(err).Str("workspace", name).Msg("workspace migration failed, continuing with remaining workspaces")
		}
	}
	return nil
}

func ensureSchemaExists(ctx context.Context, dsn DSN, schema string) error {
	db, err := sql.Open("pgx", dsn.url("public"))
	if err != nil {
		return apperr.Anyhow(fmt.Errorf("opening migration connection: %w", err))
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, schema)); err != nil {
		return apperr.Anyhow(fmt.Errorf("creating schema %s: %w", schema, err))
	}
	return nil
}

func apply(ctx context.Context, dsn DSN, schema string, sources fs.FS, subdir string) error {
	sub, err := fs.Sub(sources, subdir)
	if err != nil {
		return apperr.Anyhow(fmt.Errorf("locating embedded migrations: %w", err))
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return apperr.Anyhow(fmt.Errorf("loading embedded migrations: %w", err))
	}

	db, err := sql.Open("pgx", dsn.url(schema))
	if err != nil {
		return apperr.Anyhow(fmt.Errorf("opening migration connection: %w", err))
	}
	defer db.Close()

	if err := withAdvisoryLock(ctx, db, func() error {
		driver, err := postgres.WithInstance(db, &postgres.Config{
			SchemaName:      schema,
			MigrationsTable: "schema_migrations",
		})
		if err != nil {
			return apperr.Anyhow(fmt.Errorf("building postgres migration driver: %w", err))
		}

		m, err := migrate.NewWithInstance("iofs", src, schema, driver)
		if err != nil {
			return apperr.Anyhow(fmt.Errorf("constructing migrator for schema %s: %w", schema, err))
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return apperr.Anyhow(fmt.Errorf("migrating schema %s: %w", schema, err))
		}
		return nil
	}); err != nil {
		return err
	}

	return nil
}

// withAdvisoryLock serializes the migration run using a Postgres session
// advisory lock, released automatically when the connection closes, so
// multiple server instances starting up simultaneously do not apply the
// same migration concurrently.
func withAdvisoryLock(ctx context.Context, db *sql.DB, fn func() error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return apperr.Anyhow(fmt.Errorf("acquiring connection for advisory lock: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, int64(advisoryLockKey)); err != nil {
		return apperr.Anyhow(fmt.Errorf("acquiring advisory lock: %w", err))
	}
	defer conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, int64(advisoryLockKey))

	return fn()
}
