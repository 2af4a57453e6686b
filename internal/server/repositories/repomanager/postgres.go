// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/spots/internal/dbx"
	"github.com/dmitrijs2005/spots/internal/server/migrations"
	"github.com/dmitrijs2005/spots/internal/server/repositories/identitykeys"
	"github.com/dmitrijs2005/spots/internal/server/repositories/noncecounters"
	"github.com/dmitrijs2005/spots/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Users returns a users.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

// IdentityKeys returns an identitykeys.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) IdentityKeys(db dbx.DBTX) identitykeys.Repository {
	return identitykeys.NewPostgresRepository(db)
}

// NonceCounters returns a noncecounters.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) NonceCounters(db dbx.DBTX) noncecounters.Repository {
	return noncecounters.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}
