// Package sqlstore implements the persistence boundary on a SQL database.
// SQLite serves single-node deployments and tests, PostgreSQL serves
// shared deployments; the schema is managed by embedded goose migrations
// applied during Open. Queries are written once with ? placeholders and
// rebound per driver.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/slateci/slate-api-server/internal/store"
)

// Supported driver names, as passed to Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLStore is a store.Database backed by a SQL database.
type SQLStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ store.Database = (*SQLStore)(nil)

// Open connects to the database, applies pending schema migrations and
// returns a ready store. driver is DriverSQLite or DriverPostgres.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var dialect string
	switch driver {
	case DriverSQLite:
		dialect = "sqlite3"
	case DriverPostgres:
		dialect = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite serializes writers itself; a second connection only buys
		// SQLITE_BUSY errors, and in-memory databases are per-connection.
		db.SetMaxOpenConns(1)
	}

	if err := migrate(ctx, db.DB, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("database ready", "driver", driver)
	return &SQLStore{db: db, logger: logger}, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("selecting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("applying schema migrations: %w", err)
	}
	return nil
}

// Ping verifies the backend connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isUniqueViolation recognizes unique constraint failures from both
// supported drivers.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
