// Package grants provides PostgreSQL-backed persistence for access grants.
package grants

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

// Repository is the access grant persistence surface. Callers that need the
// supersede invariant (deactivate then insert atomically) run Deactivate and
// Insert on the same transaction.
type Repository interface {
	Insert(ctx context.Context, g *models.AccessGrant) error
	Deactivate(ctx context.Context, recordID, granteeID string) (int64, error)
	GetEffective(ctx context.Context, recordID, granteeID string, now time.Time) (*models.AccessGrant, error)
	ListByRecord(ctx context.Context, recordID string) ([]*models.AccessGrant, error)
}

// PostgresRepository implements grant storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, g *models.AccessGrant) error {
	query := `
		INSERT INTO access_grants (permission_id, record_id, grantee_id, permission_type, grantor_id, granted_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		g.PermissionID, g.RecordID, g.GranteeID, string(g.PermissionType),
		g.GrantorID, g.GrantedAt, g.ExpiresAt, g.IsActive)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Deactivate disables every active grant for the grantee on the record and
// returns how many rows it touched. Zero rows means there was nothing to
// revoke.
func (r *PostgresRepository) Deactivate(ctx context.Context, recordID, granteeID string) (int64, error) {
	query := `
		UPDATE access_grants SET is_active = false
		WHERE record_id = $1 AND grantee_id = $2 AND is_active
	`
	res, err := r.db.ExecContext(ctx, query, recordID, granteeID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// GetEffective returns the grant that confers access right now: active and
// not expired. Expired or revoked grants yield ErrNotFound.
func (r *PostgresRepository) GetEffective(ctx context.Context, recordID, granteeID string, now time.Time) (*models.AccessGrant, error) {
	query := `
		SELECT permission_id, record_id, grantee_id, permission_type, grantor_id, granted_at, expires_at, is_active
		FROM access_grants
		WHERE record_id = $1 AND grantee_id = $2 AND is_active
			AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY granted_at DESC LIMIT 1
	`
	var g models.AccessGrant
	var permType string
	err := r.db.QueryRowContext(ctx, query, recordID, granteeID, now).Scan(
		&g.PermissionID, &g.RecordID, &g.GranteeID, &permType,
		&g.GrantorID, &g.GrantedAt, &g.ExpiresAt, &g.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no effective grant for %s on %s: %w", granteeID, recordID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	g.PermissionType = models.PermissionType(permType)
	return &g, nil
}

func (r *PostgresRepository) ListByRecord(ctx context.Context, recordID string) ([]*models.AccessGrant, error) {
	query := `
		SELECT permission_id, record_id, grantee_id, permission_type, grantor_id, granted_at, expires_at, is_active
		FROM access_grants WHERE record_id = $1 ORDER BY granted_at
	`
	rows, err := r.db.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to select grants: %w", err)
	}
	defer rows.Close()

	var result []*models.AccessGrant
	for rows.Next() {
		var g models.AccessGrant
		var permType string
		if err := rows.Scan(
			&g.PermissionID, &g.RecordID, &g.GranteeID, &permType,
			&g.GrantorID, &g.GrantedAt, &g.ExpiresAt, &g.IsActive,
		); err != nil {
			return nil, err
		}
		g.PermissionType = models.PermissionType(permType)
		result = append(result, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
