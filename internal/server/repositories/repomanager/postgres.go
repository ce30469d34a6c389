// Package repomanager provides RepositoryManager implementations for
// PostgreSQL (with goose migrations) and for the in-memory store.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/scanrebate/internal/dbx"
	"github.com/dmitrijs2005/scanrebate/internal/server/migrations"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/payoutevents"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/ratecounters"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/receipts"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/scans"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// postgresRepositories binds every repository to one DBTX.
type postgresRepositories struct {
	db dbx.DBTX
}

func (r postgresRepositories) Scans() scans.Repository {
	return scans.NewPostgresRepository(r.db)
}

func (r postgresRepositories) Receipts() receipts.Repository {
	return receipts.NewPostgresRepository(r.db)
}

func (r postgresRepositories) RateCounters() ratecounters.Repository {
	return ratecounters.NewPostgresRepository(r.db)
}

func (r postgresRepositories) PayoutEvents() payoutevents.Repository {
	return payoutevents.NewPostgresRepository(r.db)
}

// PostgresRepositoryManager vends PostgreSQL-backed repositories and exposes
// a schema migration hook.
type PostgresRepositoryManager struct {
	db *sql.DB
}

// sqlOpen and gooseUpContext are seams for tests.
var (
	sqlOpen = sql.Open

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
)

// OpenPostgres opens a pgx-backed pool for dsn.
func OpenPostgres(dsn string) (*PostgresRepositoryManager, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return NewPostgresRepositoryManager(db), nil
}

// NewPostgresRepositoryManager wraps an existing pool.
func NewPostgresRepositoryManager(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db}
}

func (m *PostgresRepositoryManager) Repositories() Repositories {
	return postgresRepositories{db: m.db}
}

func (m *PostgresRepositoryManager) RunInTx(ctx context.Context, fn func(ctx context.Context, r Repositories) error) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, postgresRepositories{db: tx})
	})
}

// RunMigrations sets up goose with the embedded migrations and applies them.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return err
	}
	return nil
}

func (m *PostgresRepositoryManager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}
