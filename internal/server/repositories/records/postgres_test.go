package records

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

func TestCreate(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	r := NewPostgresRepository(db)

	rec := &models.Record{
		RecordID:    "rec-1",
		PatientID:   "patient-1",
		CreatorID:   "doctor-1",
		Title:       "Annual checkup",
		FileType:    models.FileTypePDF,
		FileSize:    1024,
		ContentHash: "abc",
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec("INSERT INTO records").
		WithArgs(rec.RecordID, rec.PatientID, rec.CreatorID, rec.Title, rec.Description,
			"PDF", rec.FileSize, rec.ContentHash, rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	r := NewPostgresRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM records").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := r.Get(context.Background(), "missing"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGet(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	r := NewPostgresRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"record_id", "patient_id", "creator_id", "title", "description",
		"file_type", "file_size", "content_hash", "ledger_tx_ref", "created_at", "updated_at",
	}).AddRow("rec-1", "patient-1", "doctor-1", "Annual checkup", "", "PDF", int64(1024), "abc", nil, now, now)

	mock.ExpectQuery("SELECT (.+) FROM records").
		WithArgs("rec-1").
		WillReturnRows(rows)

	rec, err := r.Get(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec.FileType != models.FileTypePDF || rec.LedgerTxRef != nil {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestSetLedgerTxRefMissingRecord(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	r := NewPostgresRepository(db)

	mock.ExpectExec("UPDATE records SET ledger_tx_ref").
		WithArgs("missing", "tx-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := r.SetLedgerTxRef(context.Background(), "missing", "tx-1"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByPatient(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	r := NewPostgresRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"record_id", "patient_id", "creator_id", "title", "description",
		"file_type", "file_size", "content_hash", "ledger_tx_ref", "created_at", "updated_at",
	}).
		AddRow("rec-1", "patient-1", "doctor-1", "Checkup", "", "PDF", int64(10), "h1", nil, now, now).
		AddRow("rec-2", "patient-1", "doctor-2", "X-ray", "", "DICOM", int64(20), "h2", "tx-9", now, now)

	mock.ExpectQuery("SELECT (.+) FROM records WHERE patient_id").
		WithArgs("patient-1").
		WillReturnRows(rows)

	result, err := r.ListByPatient(context.Background(), "patient-1")
	if err != nil {
		t.Fatalf("ListByPatient error: %v", err)
	}
	if len(result) != 2 || result[1].FileType != models.FileTypeDICOM {
		t.Fatalf("unexpected result %+v", result)
	}
	if result[1].LedgerTxRef == nil || *result[1].LedgerTxRef != "tx-9" {
		t.Fatalf("expected ledger tx ref tx-9, got %v", result[1].LedgerTxRef)
	}
}
