// Package storage implements entity.Backend on PostgreSQL. Entity tables are
// created from store schemas at build time; bookkeeping tables (version
// history) are managed with embedded migrations.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/driveteam/scoutd/internal/entity"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres implements entity.Backend backed by a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// Compile-time check that Postgres implements entity.Backend.
var _ entity.Backend = (*Postgres)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Postgres{db: db}, nil
}

// NewWithDB wraps an existing database handle without running migrations.
// Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) EnsureTable(ctx context.Context, table string, schema entity.Schema) error {
	if _, err := p.db.ExecContext(ctx, createTableDDL(table, schema)); err != nil {
		return err
	}
	for _, stmt := range addColumnDDL(table, schema) {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) Insert(ctx context.Context, table string, schema entity.Schema, rec *entity.Record) error {
	return queryInsert(ctx, p.db, table, schema, rec)
}

func (p *Postgres) Get(ctx context.Context, table string, schema entity.Schema, id string) (*entity.Record, error) {
	return queryGet(ctx, p.db, table, schema, id)
}

func (p *Postgres) Update(ctx context.Context, table string, schema entity.Schema, rec *entity.Record) error {
	return queryUpdate(ctx, p.db, table, schema, rec)
}

func (p *Postgres) Delete(ctx context.Context, table string, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM `+quoteIdent(table)+` WHERE id = $1`, id)
	return err
}

func (p *Postgres) Clear(ctx context.Context, table string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM `+quoteIdent(table))
	return err
}

func (p *Postgres) Page(ctx context.Context, table string, schema entity.Schema, q entity.Query, limit, offset int) ([]*entity.Record, error) {
	return queryPage(ctx, p.db, table, schema, q, limit, offset)
}

func (p *Postgres) InsertVersion(ctx context.Context, v *entity.Version) error {
	return queryInsertVersion(ctx, p.db, v)
}

func (p *Postgres) Versions(ctx context.Context, structName, recordID string) ([]*entity.Version, error) {
	return queryVersions(ctx, p.db, structName, recordID)
}

func (p *Postgres) GetVersion(ctx context.Context, versionID string) (*entity.Version, error) {
	return queryGetVersion(ctx, p.db, versionID)
}

func (p *Postgres) DeleteVersion(ctx context.Context, versionID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM versions WHERE id = $1`, versionID)
	return err
}

func (p *Postgres) DeleteVersions(ctx context.Context, structName, recordID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM versions WHERE struct_name = $1 AND record_id = $2`,
		structName, recordID)
	return err
}

func (p *Postgres) ClearVersions(ctx context.Context, structName string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM versions WHERE struct_name = $1`, structName)
	return err
}

func (p *Postgres) PruneVersionsByCount(ctx context.Context, structName, recordID string, keep int) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM versions
		WHERE struct_name = $1 AND record_id = $2 AND id NOT IN (
			SELECT id FROM versions
			WHERE struct_name = $1 AND record_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		)`,
		structName, recordID, keep)
	return err
}

func (p *Postgres) PruneVersionsByAge(ctx context.Context, structName, recordID string, cutoff time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM versions
		WHERE struct_name = $1 AND record_id = $2 AND created_at < $3`,
		structName, recordID, cutoff)
	return err
}
