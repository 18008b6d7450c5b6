// Package datakeys provides PostgreSQL-backed persistence for sealed data
// key envelopes and record CID bindings. It implements keycustody.Repository.
package datakeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/dbx"
	"github.com/medledger/medledger/internal/server/models"
)

// PostgresRepository implements envelope storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) SaveDataKey(ctx context.Context, rec *models.DataKeyRecord) error {
	query := `
		INSERT INTO data_keys (record_id, key_id, envelope, active, created_at, rotated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.RecordID, rec.KeyID, rec.Envelope, rec.Active, rec.CreatedAt, rec.RotatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetActiveDataKey(ctx context.Context, recordID string) (*models.DataKeyRecord, error) {
	query := `
		SELECT record_id, key_id, envelope, active, created_at, rotated_at
		FROM data_keys WHERE record_id = $1 AND active
	`
	var rec models.DataKeyRecord
	err := r.db.QueryRowContext(ctx, query, recordID).Scan(
		&rec.RecordID, &rec.KeyID, &rec.Envelope, &rec.Active, &rec.CreatedAt, &rec.RotatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("data key for record %s: %w", recordID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) DeactivateDataKeys(ctx context.Context, recordID string, rotatedAt time.Time) error {
	query := `
		UPDATE data_keys SET active = false, rotated_at = $2
		WHERE record_id = $1 AND active
	`
	if _, err := r.db.ExecContext(ctx, query, recordID, rotatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveRecordCID(ctx context.Context, recordID string, contentAddress string) error {
	query := `
		INSERT INTO record_cids (record_id, content_address)
		VALUES ($1, $2)
		ON CONFLICT (record_id, content_address) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, recordID, contentAddress); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
