// Package records provides PostgreSQL-backed persistence for record rows.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/dbx"
	"github.com/medledger/medledger/internal/server/models"
)

// Repository is the record persistence surface used by the orchestrator.
type Repository interface {
	Create(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, recordID string) (*models.Record, error)
	SetLedgerTxRef(ctx context.Context, recordID, txRef string) error
	TouchFileInfo(ctx context.Context, recordID string, fileSize int64) error
	ListByPatient(ctx context.Context, patientID string) ([]*models.Record, error)
}

// PostgresRepository implements record storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO records (record_id, patient_id, creator_id, title, description, file_type, file_size, content_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.RecordID, rec.PatientID, rec.CreatorID, rec.Title, rec.Description,
		string(rec.FileType), rec.FileSize, rec.ContentHash, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, recordID string) (*models.Record, error) {
	query := `
		SELECT record_id, patient_id, creator_id, title, description, file_type, file_size, content_hash, ledger_tx_ref, created_at, updated_at
		FROM records WHERE record_id = $1
	`
	var rec models.Record
	var fileType string
	err := r.db.QueryRowContext(ctx, query, recordID).Scan(
		&rec.RecordID, &rec.PatientID, &rec.CreatorID, &rec.Title, &rec.Description,
		&fileType, &rec.FileSize, &rec.ContentHash, &rec.LedgerTxRef, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", recordID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.FileType = models.FileType(fileType)
	return &rec, nil
}

// SetLedgerTxRef anchors the record to a ledger transaction after the fact.
// Used when the ledger comes back from a degraded creation.
func (r *PostgresRepository) SetLedgerTxRef(ctx context.Context, recordID, txRef string) error {
	query := `UPDATE records SET ledger_tx_ref = $2, updated_at = now() WHERE record_id = $1`
	res, err := r.db.ExecContext(ctx, query, recordID, txRef)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", recordID, common.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) TouchFileInfo(ctx context.Context, recordID string, fileSize int64) error {
	query := `UPDATE records SET file_size = $2, updated_at = now() WHERE record_id = $1`
	res, err := r.db.ExecContext(ctx, query, recordID, fileSize)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", recordID, common.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) ListByPatient(ctx context.Context, patientID string) ([]*models.Record, error) {
	query := `
		SELECT record_id, patient_id, creator_id, title, description, file_type, file_size, content_hash, ledger_tx_ref, created_at, updated_at
		FROM records WHERE patient_id = $1 ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		var rec models.Record
		var fileType string
		if err := rows.Scan(
			&rec.RecordID, &rec.PatientID, &rec.CreatorID, &rec.Title, &rec.Description,
			&fileType, &rec.FileSize, &rec.ContentHash, &rec.LedgerTxRef, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.FileType = models.FileType(fileType)
		result = append(result, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
