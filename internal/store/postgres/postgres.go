// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/splitvault/internal/model"
	"github.com/alfredjeanlab/splitvault/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// maxConflictRetries bounds how often an optimistic update is retried after
// losing a version race.
const maxConflictRetries = 5

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
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

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an already-open database. Migrations are not run.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateVault(ctx context.Context, v *model.Vault) error {
	return queryCreateVault(ctx, s.db, v)
}

func (s *PostgresStore) GetVault(ctx context.Context, id string) (*model.Vault, error) {
	return queryGetVault(ctx, s.db, id, false)
}

// UpdateVault locks the row, applies fn and writes the result back guarded
// by the row version. A lost version race is retried with a fresh read.
func (s *PostgresStore) UpdateVault(ctx context.Context, id string, fn store.VaultMutator) (*model.Vault, error) {
	var out *model.Vault
	err := s.retryConflicts(ctx, func(tx *sql.Tx) error {
		v, err := queryGetVault(ctx, tx, id, true)
		if err != nil {
			return err
		}
		prev := v.Version
		if err := fn(v); err != nil {
			return err
		}
		v.ID = id
		v.Version = prev + 1
		if err := queryUpdateVault(ctx, tx, v, prev); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) ListVaults(ctx context.Context, filter model.VaultFilter) ([]*model.Vault, error) {
	return queryListVaults(ctx, s.db, filter)
}

func (s *PostgresStore) GetExpiredVaults(ctx context.Context, now time.Time) ([]*model.Vault, error) {
	return queryGetExpiredVaults(ctx, s.db, now)
}

func (s *PostgresStore) CreateProposal(ctx context.Context, p *model.Proposal) error {
	return queryCreateProposal(ctx, s.db, p)
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	return queryGetProposal(ctx, s.db, id, false)
}

func (s *PostgresStore) UpdateProposal(ctx context.Context, id string, fn store.ProposalMutator) (*model.Proposal, error) {
	var out *model.Proposal
	err := s.retryConflicts(ctx, func(tx *sql.Tx) error {
		p, err := queryGetProposal(ctx, tx, id, true)
		if err != nil {
			return err
		}
		prev := p.Version
		if err := fn(p); err != nil {
			return err
		}
		p.ID = id
		p.Version = prev + 1
		if err := queryUpdateProposal(ctx, tx, p, prev); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) DeleteProposal(ctx context.Context, id string) error {
	return queryDeleteProposal(ctx, s.db, id)
}

func (s *PostgresStore) GetExpiredProposals(ctx context.Context, now time.Time) ([]*model.Proposal, error) {
	return queryGetExpiredProposals(ctx, s.db, now)
}

func (s *PostgresStore) RecordDeposit(ctx context.Context, d *model.Deposit) error {
	return queryRecordDeposit(ctx, s.db, d)
}

func (s *PostgresStore) GetDeposits(ctx context.Context, vaultID string) ([]*model.Deposit, error) {
	return queryGetDeposits(ctx, s.db, vaultID)
}

func (s *PostgresStore) RecordEvent(ctx context.Context, event *model.Event) error {
	return queryRecordEvent(ctx, s.db, event)
}

func (s *PostgresStore) GetEvents(ctx context.Context, vaultID string) ([]*model.Event, error) {
	return queryGetEvents(ctx, s.db, vaultID)
}

// retryConflicts runs fn in a transaction, starting over when it fails with
// model.ErrConcurrencyConflict.
func (s *PostgresStore) retryConflicts(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.runInTransaction(ctx, fn)
		if !errors.Is(err, model.ErrConcurrencyConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

// runInTransaction begins a transaction, calls fn, and commits on success or
// rolls back on error.
func (s *PostgresStore) runInTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
