// Package blobrefs provides PostgreSQL-backed persistence for stored blob
// references, the link between a record version and its ciphertext in the
// content store.
package blobrefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/dbx"
	"github.com/medledger/medledger/internal/server/models"
)

// Repository is the blob reference persistence surface.
type Repository interface {
	Save(ctx context.Context, ref *models.StoredBlobRef) error
	GetByVersion(ctx context.Context, recordID string, version int) (*models.StoredBlobRef, error)
	GetLatest(ctx context.Context, recordID string) (*models.StoredBlobRef, error)
}

// PostgresRepository implements blob reference storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, ref *models.StoredBlobRef) error {
	query := `
		INSERT INTO stored_blob_refs (content_address, record_id, version, file_name, file_size, ciphertext_size, mime_type, encryption_algorithm, iv, auth_tag, key_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		ref.ContentAddress, ref.RecordID, ref.Version, ref.FileName, ref.FileSize,
		ref.CiphertextSize, ref.MimeType, ref.EncryptionAlgorithm, ref.IV, ref.AuthTag,
		ref.KeyID, ref.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByVersion(ctx context.Context, recordID string, version int) (*models.StoredBlobRef, error) {
	query := `
		SELECT content_address, record_id, version, file_name, file_size, ciphertext_size, mime_type, encryption_algorithm, iv, auth_tag, key_id, created_at
		FROM stored_blob_refs WHERE record_id = $1 AND version = $2
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, recordID, version), recordID)
}

func (r *PostgresRepository) GetLatest(ctx context.Context, recordID string) (*models.StoredBlobRef, error) {
	query := `
		SELECT content_address, record_id, version, file_name, file_size, ciphertext_size, mime_type, encryption_algorithm, iv, auth_tag, key_id, created_at
		FROM stored_blob_refs WHERE record_id = $1 ORDER BY version DESC LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, recordID), recordID)
}

func (r *PostgresRepository) scanOne(row *sql.Row, recordID string) (*models.StoredBlobRef, error) {
	var ref models.StoredBlobRef
	err := row.Scan(
		&ref.ContentAddress, &ref.RecordID, &ref.Version, &ref.FileName, &ref.FileSize,
		&ref.CiphertextSize, &ref.MimeType, &ref.EncryptionAlgorithm, &ref.IV, &ref.AuthTag,
		&ref.KeyID, &ref.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("blob ref for record %s: %w", recordID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &ref, nil
}
