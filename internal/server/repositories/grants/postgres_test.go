package grants

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/server/models"
)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func TestInsert(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	r := NewPostgresRepository(db)

	g := &models.AccessGrant{
		PermissionID:   "perm-1",
		RecordID:       "rec-1",
		GranteeID:      "user-2",
		PermissionType: models.PermissionRead,
		GrantorID:      "patient-1",
		GrantedAt:      time.Now(),
		IsActive:       true,
	}

	mock.ExpectExec("INSERT INTO access_grants").
		WithArgs(g.PermissionID, g.RecordID, g.GranteeID, "read", g.GrantorID, g.GrantedAt, nil, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.Insert(context.Background(), g); err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeactivateReportsRows(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	r := NewPostgresRepository(db)

	mock.ExpectExec("UPDATE access_grants SET is_active").
		WithArgs("rec-1", "user-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := r.Deactivate(context.Background(), "rec-1", "user-2")
	if err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestGetEffectiveNotFound(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	r := NewPostgresRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM access_grants").
		WillReturnError(sql.ErrNoRows)

	if _, err := r.GetEffective(context.Background(), "rec-1", "user-2", time.Now()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetEffective(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	r := NewPostgresRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"permission_id", "record_id", "grantee_id", "permission_type",
		"grantor_id", "granted_at", "expires_at", "is_active",
	}).AddRow("perm-1", "rec-1", "user-2", "write", "patient-1", now, nil, true)

	mock.ExpectQuery("SELECT (.+) FROM access_grants").
		WithArgs("rec-1", "user-2", sqlmock.AnyArg()).
		WillReturnRows(rows)

	g, err := r.GetEffective(context.Background(), "rec-1", "user-2", now)
	if err != nil {
		t.Fatalf("GetEffective error: %v", err)
	}
	if g.PermissionType != models.PermissionWrite || !g.Effective(now) {
		t.Fatalf("unexpected grant %+v", g)
	}
}
