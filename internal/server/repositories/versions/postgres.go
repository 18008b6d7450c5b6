// Package versions provides PostgreSQL-backed persistence for version chain
// entries.
package versions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/dbx"
	"github.com/medledger/medledger/internal/server/models"
)

// Repository is the version chain persistence surface.
type Repository interface {
	Save(ctx context.Context, v *models.RecordVersion) error
	ListByRecord(ctx context.Context, recordID string) ([]*models.RecordVersion, error)
	GetLatest(ctx context.Context, recordID string) (*models.RecordVersion, error)
}

// PostgresRepository implements version storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, v *models.RecordVersion) error {
	query := `
		INSERT INTO record_versions (record_id, version, content_address, content_hash, previous_root, root, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		v.RecordID, v.Version, v.ContentAddress, v.ContentHash, v.PreviousRoot, v.Root, v.CreatedBy, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByRecord returns the chain in version order, oldest first.
func (r *PostgresRepository) ListByRecord(ctx context.Context, recordID string) ([]*models.RecordVersion, error) {
	query := `
		SELECT record_id, version, content_address, content_hash, previous_root, root, created_by, created_at
		FROM record_versions WHERE record_id = $1 ORDER BY version
	`
	rows, err := r.db.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to select versions: %w", err)
	}
	defer rows.Close()

	var result []*models.RecordVersion
	for rows.Next() {
		var v models.RecordVersion
		if err := rows.Scan(
			&v.RecordID, &v.Version, &v.ContentAddress, &v.ContentHash,
			&v.PreviousRoot, &v.Root, &v.CreatedBy, &v.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetLatest(ctx context.Context, recordID string) (*models.RecordVersion, error) {
	query := `
		SELECT record_id, version, content_address, content_hash, previous_root, root, created_by, created_at
		FROM record_versions WHERE record_id = $1 ORDER BY version DESC LIMIT 1
	`
	var v models.RecordVersion
	err := r.db.QueryRowContext(ctx, query, recordID).Scan(
		&v.RecordID, &v.Version, &v.ContentAddress, &v.ContentHash,
		&v.PreviousRoot, &v.Root, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("versions for record %s: %w", recordID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &v, nil
}
