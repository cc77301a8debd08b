package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateCanvas reports an insert against an id that already exists,
// including a soft-deleted row still occupying the id.
var ErrDuplicateCanvas = errors.New("canvas id already exists")

// PostgresStore is the version catalog: canvas metadata rows plus the
// append-only canvas_versions ledger.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateCanvas(ctx context.Context, canvas Canvas) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canvases (id, owner_id, legacy_state_key)
		VALUES ($1, $2, $3)
	`, canvas.ID, canvas.OwnerID, canvas.LegacyStateKey)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("insert canvas %s: %w", canvas.ID, ErrDuplicateCanvas)
		}
		return fmt.Errorf("insert canvas: %w", err)
	}
	return nil
}

// GetCanvas returns the canvas row. Soft-deleted canvases are not
// resolvable; sql.ErrNoRows passes through for the caller to map.
func (s *PostgresStore) GetCanvas(ctx context.Context, canvasID string) (Canvas, error) {
	const query = `
		SELECT id, owner_id, head_version, legacy_state_key, deleted_at, created_at, updated_at
		FROM canvases
		WHERE id = $1 AND deleted_at IS NULL
	`
	var canvas Canvas
	err := s.db.QueryRowContext(ctx, query, canvasID).Scan(
		&canvas.ID,
		&canvas.OwnerID,
		&canvas.HeadVersion,
		&canvas.LegacyStateKey,
		&canvas.DeletedAt,
		&canvas.CreatedAt,
		&canvas.UpdatedAt,
	)
	if err != nil {
		return Canvas{}, err
	}
	return canvas, nil
}

func (s *PostgresStore) SoftDeleteCanvas(ctx context.Context, canvasID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE canvases SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, canvasID)
	if err != nil {
		return fmt.Errorf("soft delete canvas: %w", err)
	}
	return nil
}

// HardDeleteCanvas removes the canvas row and its whole version lineage in
// one transaction. Blob cleanup is the caller's concern.
func (s *PostgresStore) HardDeleteCanvas(ctx context.Context, canvasID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin teardown tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM canvas_versions WHERE canvas_id = $1`, canvasID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete canvas versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM canvases WHERE id = $1`, canvasID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete canvas: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit teardown tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, canvasID string, version int64) (CanvasVersion, error) {
	const query = `
		SELECT canvas_id, version, blob_key, content_hash, created_at
		FROM canvas_versions
		WHERE canvas_id = $1 AND version = $2
	`
	var row CanvasVersion
	err := s.db.QueryRowContext(ctx, query, canvasID, version).Scan(
		&row.CanvasID,
		&row.Version,
		&row.BlobKey,
		&row.ContentHash,
		&row.CreatedAt,
	)
	if err != nil {
		return CanvasVersion{}, err
	}
	return row, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, canvasID string) ([]CanvasVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT canvas_id, version, blob_key, content_hash, created_at
		FROM canvas_versions
		WHERE canvas_id = $1
		ORDER BY version
	`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("list canvas versions: %w", err)
	}
	defer rows.Close()

	var versions []CanvasVersion
	for rows.Next() {
		var row CanvasVersion
		if err := rows.Scan(&row.CanvasID, &row.Version, &row.BlobKey, &row.ContentHash, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan canvas version: %w", err)
		}
		versions = append(versions, row)
	}
	return versions, rows.Err()
}

// NextVersion returns max(version)+1 for the canvas. Only meaningful while
// the per-canvas commit lock is held.
func (s *PostgresStore) NextVersion(ctx context.Context, canvasID string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM canvas_versions WHERE canvas_id = $1
	`, canvasID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return next, nil
}

// CommitVersion records a snapshot and advances the canvas head pointer in
// a single transaction, so a version row is never discoverable without its
// head update or vice versa. The upsert makes legacy migration races
// converge last-writer-wins; under the commit lock regular versions never
// collide.
func (s *PostgresStore) CommitVersion(ctx context.Context, row CanvasVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO canvas_versions (canvas_id, version, blob_key, content_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (canvas_id, version)
		DO UPDATE SET blob_key = EXCLUDED.blob_key, content_hash = EXCLUDED.content_hash
	`, row.CanvasID, row.Version, row.BlobKey, row.ContentHash); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert canvas version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE canvases
		SET head_version = GREATEST(COALESCE(head_version, 0), $2), updated_at = NOW()
		WHERE id = $1
	`, row.CanvasID, row.Version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("advance head version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit version tx: %w", err)
	}
	return nil
}
