// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The api_keys table uses a composite primary key (workspace_id, id) that
// mirrors the key space of the BBolt and in-memory backends. Record fields
// are stored as individual columns so operators can query metadata without
// touching the encrypted key column.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keynest/keynest/storage"
)

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const selectColumns = `id, workspace_id, name, environment, tags, key, created_by, created_at, updated_at, version`

const upsertSQL = `INSERT INTO api_keys (id, workspace_id, name, environment, tags, key, created_by, created_at, updated_at, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (workspace_id, id)
	DO UPDATE SET name = $3, environment = $4, tags = $5, key = $6, created_by = $7,
		created_at = $8, updated_at = $9, version = $10`

func recordArgs(rec *storage.Record) []any {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{rec.ID, rec.WorkspaceID, rec.Name, rec.Environment, tags, rec.Key,
		rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt, int64(rec.Version)}
}

func scanRecord(row pgx.Row) (*storage.Record, error) {
	var (
		rec     storage.Record
		version int64
	)
	if err := row.Scan(&rec.ID, &rec.WorkspaceID, &rec.Name, &rec.Environment, &rec.Tags,
		&rec.Key, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt, &version); err != nil {
		return nil, err
	}
	if version < 0 {
		return nil, fmt.Errorf("%w: %s: negative version", storage.ErrInvalidRecord, rec.ID)
	}
	rec.Version = uint64(version)
	if len(rec.Tags) == 0 {
		rec.Tags = nil
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ---------------------------------------------------------------------------
// Repository interface implementation
// ---------------------------------------------------------------------------

func (s *Store) Put(ctx context.Context, rec *storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, upsertSQL, recordArgs(rec)...)
	return err
}

func (s *Store) Get(ctx context.Context, workspaceID, recordID string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM api_keys WHERE workspace_id = $1 AND id = $2`,
		workspaceID, recordID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFoundError(ctx, s.pool, workspaceID, recordID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, workspaceID string) ([]*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM api_keys WHERE workspace_id = $1 ORDER BY id`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *Store) PutCAS(ctx context.Context, rec *storage.Record, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := putCASInTx(ctx, tx, rec, expectedVersion); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Delete(ctx context.Context, workspaceID, recordID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM api_keys WHERE workspace_id = $1 AND id = $2`,
		workspaceID, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFoundError(ctx, s.pool, workspaceID, recordID)
	}
	return nil
}

func (s *Store) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", workspaceID, storage.ErrWorkspaceNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// putCASInTx performs a compare-and-swap put within an existing transaction.
func putCASInTx(ctx context.Context, tx pgx.Tx, rec *storage.Record, expectedVersion uint64) error {
	var currentVersion int64
	err := tx.QueryRow(ctx,
		`SELECT version FROM api_keys WHERE workspace_id = $1 AND id = $2 FOR UPDATE`,
		rec.WorkspaceID, rec.ID).Scan(&currentVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		// ON CONFLICT DO NOTHING covers a concurrent creator that committed
		// after our SELECT found no row.
		tag, err := tx.Exec(ctx,
			`INSERT INTO api_keys (id, workspace_id, name, environment, tags, key, created_by, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (workspace_id, id) DO NOTHING`,
			recordArgs(rec)...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrCASFailed
		}
		return nil
	}
	if err != nil {
		return err
	}

	if expectedVersion == 0 || uint64(currentVersion) != expectedVersion {
		return storage.ErrCASFailed
	}

	_, err = tx.Exec(ctx,
		`UPDATE api_keys SET name = $3, environment = $4, tags = $5, key = $6, created_by = $7,
			created_at = $8, updated_at = $9, version = $10
		 WHERE id = $1 AND workspace_id = $2`,
		recordArgs(rec)...)
	return err
}

// querier abstracts both *pgxpool.Pool and pgx.Tx for shared queries.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// notFoundError distinguishes a missing workspace from a missing record
// within an existing workspace, matching the BBolt backend.
func notFoundError(ctx context.Context, q querier, workspaceID, recordID string) error {
	var exists bool
	_ = q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM api_keys WHERE workspace_id = $1 LIMIT 1)`,
		workspaceID).Scan(&exists)
	if !exists {
		return fmt.Errorf("%s: %w", workspaceID, storage.ErrWorkspaceNotFound)
	}
	return fmt.Errorf("%s/%s: %w", workspaceID, recordID, storage.ErrNotFound)
}
