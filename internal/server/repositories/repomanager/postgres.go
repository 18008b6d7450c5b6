// Package repomanager wires the PostgreSQL repositories together and runs
// schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"

	"github.com/medledger/medledger/internal/dbx"
	"github.com/medledger/medledger/internal/keycustody"
	"github.com/medledger/medledger/internal/server/migrations"
	"github.com/medledger/medledger/internal/server/repositories/blobrefs"
	"github.com/medledger/medledger/internal/server/repositories/datakeys"
	"github.com/medledger/medledger/internal/server/repositories/grants"
	"github.com/medledger/medledger/internal/server/repositories/records"
	"github.com/medledger/medledger/internal/server/repositories/versions"
)

// PostgresRepositoryManager builds repository instances bound to a DBTX, so
// services can run several repositories on one transaction.
type PostgresRepositoryManager struct{}

func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

// Records returns a records.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Records(db dbx.DBTX) records.Repository {
	return records.NewPostgresRepository(db)
}

// BlobRefs returns a blobrefs.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) BlobRefs(db dbx.DBTX) blobrefs.Repository {
	return blobrefs.NewPostgresRepository(db)
}

// Grants returns a grants.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Grants(db dbx.DBTX) grants.Repository {
	return grants.NewPostgresRepository(db)
}

// DataKeys returns the envelope repository used by the key custodian.
func (m *PostgresRepositoryManager) DataKeys(db dbx.DBTX) keycustody.Repository {
	return datakeys.NewPostgresRepository(db)
}

// Versions returns a versions.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Versions(db dbx.DBTX) versions.Repository {
	return versions.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}
