package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	reading "voltage-monitor/internal/reading/domain"
)

const defaultReadingsTable = "voltage_readings"

// Repository is the Postgres write side for voltage readings. The table is
// append-only: rows are never updated or deleted after insert.
type Repository struct {
	db    *sql.DB
	table string
}

// NewRepository constructs a repository with the default table name.
func NewRepository(db *sql.DB, opts ...RepositoryOption) *Repository {
	repo := &Repository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*Repository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *Repository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Migrate brings the physical schema to its target state. Every statement is
// idempotent, so startup never fails when the target state already holds. The
// current and power columns carried by earlier revisions are dropped here.
func (r *Repository) Migrate(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}

	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id SERIAL PRIMARY KEY,
	device_id VARCHAR(100) NOT NULL,
	timestamp TIMESTAMP NOT NULL DEFAULT NOW(),
	voltage REAL NOT NULL,
	created_at TIMESTAMP DEFAULT NOW()
)`, r.table),
		fmt.Sprintf(`
CREATE INDEX IF NOT EXISTS idx_device_timestamp
ON %s (device_id, timestamp DESC)`, r.table),
		fmt.Sprintf(`ALTER TABLE %s DROP COLUMN IF EXISTS current`, r.table),
		fmt.Sprintf(`ALTER TABLE %s DROP COLUMN IF EXISTS power`, r.table),
	}

	for _, statement := range statements {
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("reading repo: migrate: %w", err)
		}
	}
	return nil
}

// InsertBatch persists all readings in one transaction. The batch either fully
// commits or fully rolls back; an empty batch is a successful no-op.
func (r *Repository) InsertBatch(ctx context.Context, readings []reading.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (device_id, timestamp, voltage, created_at)
VALUES ($1, $2, $3, $4)`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, item := range readings {
		if item.DeviceID == "" || item.Timestamp.IsZero() {
			_ = tx.Rollback()
			return errors.New("reading repo: invalid reading")
		}
		if _, err := stmt.ExecContext(
			ctx,
			item.DeviceID,
			item.Timestamp,
			item.VoltageVolts,
			item.RecordedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// InsertOne persists a single reading with the same atomicity as InsertBatch.
func (r *Repository) InsertOne(ctx context.Context, item reading.Reading) error {
	return r.InsertBatch(ctx, []reading.Reading{item})
}
