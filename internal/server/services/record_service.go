// Package services implements the record orchestrator: the single entry
// point that coordinates crypto, key custody, content storage, the version
// chain and the ledger for every record operation.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/contentstore"
	"github.com/medledger/medledger/internal/cryptox"
	"github.com/medledger/medledger/internal/dbx"
	"github.com/medledger/medledger/internal/ledger"
	"github.com/medledger/medledger/internal/logging"
	"github.com/medledger/medledger/internal/search"
	"github.com/medledger/medledger/internal/server/models"
	"github.com/medledger/medledger/internal/server/repositories/blobrefs"
	"github.com/medledger/medledger/internal/server/repositories/grants"
	"github.com/medledger/medledger/internal/server/repositories/records"
	"github.com/medledger/medledger/internal/server/repositories/versions"
	"github.com/medledger/medledger/internal/versionchain"
)

// Degraded-mode subsystem labels reported on partial record creation.
const (
	DegradedContentStorage = "content_storage"
	DegradedLedgerAnchor   = "ledger_anchor"
)

// RepositoryManager builds repositories bound to a DBTX, so the service can
// run several of them on one transaction.
type RepositoryManager interface {
	Records(db dbx.DBTX) records.Repository
	BlobRefs(db dbx.DBTX) blobrefs.Repository
	Grants(db dbx.DBTX) grants.Repository
	Versions(db dbx.DBTX) versions.Repository
}

// KeyCustodian is the key management surface the orchestrator needs.
type KeyCustodian interface {
	GenerateDataKey(size int) ([]byte, error)
	StoreRecordDataKey(ctx context.Context, recordID, keyID string, dataKey []byte) error
	LoadRecordDataKey(ctx context.Context, recordID string) (string, []byte, error)
	RotateRecordDataKey(ctx context.Context, recordID string) (string, []byte, error)
	RegisterCIDForRecord(ctx context.Context, recordID, contentAddress string) error
}

// ContentStore is the blob storage surface the orchestrator needs.
type ContentStore interface {
	Upload(ctx context.Context, plaintext, key []byte) (*contentstore.SealedBlob, error)
	DownloadWithKey(ctx context.Context, address string, key []byte) ([]byte, error)
	DownloadDefault(ctx context.Context, address string) ([]byte, error)
}

// LedgerClient is the consensus ledger surface the orchestrator needs.
type LedgerClient interface {
	CreateRecord(ctx context.Context, anchor *ledger.RecordAnchor) (string, error)
	UpdateRecord(ctx context.Context, recordID, contentHash, contentAddress string) (string, error)
	GrantAccess(ctx context.Context, recordID, granteeID, action string, expiresAt time.Time) (string, error)
	RevokeAccess(ctx context.Context, recordID, granteeID string) (string, error)
	CheckAccess(ctx context.Context, recordID, userID string) (bool, error)
	VerifyRecord(ctx context.Context, recordID, contentHash string) (bool, error)
}

// SearchIndexer pushes record metadata to the search index.
type SearchIndexer interface {
	Index(ctx context.Context, doc *search.Document) error
}

// RecordService orchestrates all record operations.
type RecordService struct {
	db      *sql.DB
	repos   RepositoryManager
	custody KeyCustodian
	store   ContentStore
	ledger  LedgerClient
	search  SearchIndexer // nil disables indexing
	logger  logging.Logger

	now   func() time.Time
	newID func() string
}

// NewRecordService wires the orchestrator. db, repos, custody, store and
// ledger are required; search may be nil.
func NewRecordService(db *sql.DB, repos RepositoryManager, custody KeyCustodian, store ContentStore, lc LedgerClient, idx SearchIndexer, logger logging.Logger) (*RecordService, error) {
	if db == nil || repos == nil || custody == nil || store == nil || lc == nil {
		return nil, fmt.Errorf("db, repositories, custodian, store and ledger are required: %w", common.ErrValidation)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RecordService{
		db:      db,
		repos:   repos,
		custody: custody,
		store:   store,
		ledger:  lc,
		search:  idx,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// CreateRecordRequest is the input for record creation.
type CreateRecordRequest struct {
	PatientID   string
	CreatorID   string
	Title       string
	Description string
	FileType    string
	FileName    string
	MimeType    string
	Content     []byte
}

// Normalize fills derivable fields: a missing file type is inferred from the
// file name extension, a missing title falls back to the file name.
func (r *CreateRecordRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" && r.FileName != "" {
		r.Title = r.FileName
	}
	if r.FileType == "" && r.FileName != "" {
		switch strings.ToLower(filepath.Ext(r.FileName)) {
		case ".pdf":
			r.FileType = string(models.FileTypePDF)
		case ".dcm", ".dicom":
			r.FileType = string(models.FileTypeDICOM)
		case ".png", ".jpg", ".jpeg":
			r.FileType = string(models.FileTypeImage)
		default:
			r.FileType = string(models.FileTypeOther)
		}
	}
}

// CreateRecordResult reports what creation achieved. Degraded lists the
// subsystems that were skipped because of outages; an empty list means the
// record is fully created, stored, chained and anchored.
type CreateRecordResult struct {
	RecordID       string
	ContentHash    string
	ContentAddress string
	Version        int
	Root           string
	LedgerTxID     string
	Degraded       []string
}

// CreateRecord runs the creation pipeline. Validation and key custody
// failures abort; content store and ledger outages degrade, producing a
// record that is complete in the database and repairable later.
func (s *RecordService) CreateRecord(ctx context.Context, req *CreateRecordRequest) (*CreateRecordResult, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required: %w", common.ErrValidation)
	}
	req.Normalize()
	if req.PatientID == "" || req.CreatorID == "" {
		return nil, fmt.Errorf("patient id and creator id are required: %w", common.ErrValidation)
	}
	if req.Title == "" {
		return nil, fmt.Errorf("title is required: %w", common.ErrValidation)
	}
	if len(req.Content) == 0 {
		return nil, fmt.Errorf("content is required: %w", common.ErrValidation)
	}
	fileType, err := models.ParseFileType(req.FileType)
	if err != nil {
		return nil, err
	}

	contentHash, err := cryptox.Hash(req.Content, cryptox.HashSHA256)
	if err != nil {
		return nil, err
	}

	result := &CreateRecordResult{
		RecordID:    s.newID(),
		ContentHash: contentHash,
	}
	now := s.now()

	rec := &models.Record{
		RecordID:    result.RecordID,
		PatientID:   req.PatientID,
		CreatorID:   req.CreatorID,
		Title:       req.Title,
		Description: req.Description,
		FileType:    fileType,
		FileSize:    int64(len(req.Content)),
		ContentHash: contentHash,
		CreatedAt:   now,
	}
	if err := s.repos.Records(s.db).Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating record row: %w", err)
	}

	// Key custody failure aborts: a record we can never encrypt for is not
	// worth degrading into.
	dataKey, err := s.custody.GenerateDataKey(cryptox.DataKeySize)
	if err != nil {
		return nil, err
	}
	keyID := "record-data-" + s.newID()
	if err := s.custody.StoreRecordDataKey(ctx, result.RecordID, keyID, dataKey); err != nil {
		return nil, fmt.Errorf("storing data key: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blob, err := s.store.Upload(ctx, req.Content, dataKey)
	if err != nil {
		s.logger.Warn(ctx, "content store unavailable, creating degraded record",
			"record_id", result.RecordID, "error", err)
		result.Degraded = append(result.Degraded, DegradedContentStorage)
	} else {
		result.ContentAddress = blob.ContentAddress

		info, err := versionchain.CreateVersionInfo(nil, blob.ContentAddress, contentHash, req.CreatorID)
		if err != nil {
			return nil, err
		}
		result.Version = info.Version
		result.Root = info.Root

		err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := s.repos.Versions(tx).Save(ctx, &models.RecordVersion{
				RecordID:       result.RecordID,
				Version:        info.Version,
				ContentAddress: info.ContentAddress,
				ContentHash:    info.ContentHash,
				PreviousRoot:   info.PreviousRoot,
				Root:           info.Root,
				CreatedBy:      info.CreatedBy,
				CreatedAt:      info.CreatedAt,
			}); err != nil {
				return err
			}
			return s.repos.BlobRefs(tx).Save(ctx, &models.StoredBlobRef{
				ContentAddress:      blob.ContentAddress,
				RecordID:            result.RecordID,
				Version:             info.Version,
				FileName:            req.FileName,
				FileSize:            int64(len(req.Content)),
				CiphertextSize:      blob.CiphertextSize,
				MimeType:            req.MimeType,
				EncryptionAlgorithm: cryptox.AlgorithmAESGCM,
				IV:                  blob.IV,
				AuthTag:             blob.AuthTag,
				KeyID:               keyID,
				CreatedAt:           now,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("persisting version chain: %w", err)
		}

		if err := s.custody.RegisterCIDForRecord(ctx, result.RecordID, blob.ContentAddress); err != nil {
			s.logger.Warn(ctx, "cid registration failed", "record_id", result.RecordID, "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txID, err := s.ledger.CreateRecord(ctx, &ledger.RecordAnchor{
		RecordID:    result.RecordID,
		PatientID:   req.PatientID,
		CreatorID:   req.CreatorID,
		IPFSCid:     result.ContentAddress,
		ContentHash: contentHash,
		VersionHash: result.Root,
	})
	if err != nil {
		s.logger.Warn(ctx, "ledger unavailable, record not anchored",
			"record_id", result.RecordID, "error", err)
		result.Degraded = append(result.Degraded, DegradedLedgerAnchor)
	} else {
		result.LedgerTxID = txID
		if err := s.repos.Records(s.db).SetLedgerTxRef(ctx, result.RecordID, txID); err != nil {
			s.logger.Error(ctx, "recording ledger tx ref failed", "record_id", result.RecordID, "error", err)
		}
	}

	s.indexAsync(rec)

	s.logger.Info(ctx, "record created",
		"record_id", result.RecordID, "degraded", strings.Join(result.Degraded, ","))
	return result, nil
}

// indexAsync pushes the record to the search index without blocking or
// failing the caller.
func (s *RecordService) indexAsync(rec *models.Record) {
	if s.search == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.search.Index(ctx, &search.Document{
			ID:      rec.RecordID,
			Title:   rec.Title,
			Content: rec.Description,
			Type:    string(rec.FileType),
			Metadata: map[string]string{
				"patientId": rec.PatientID,
				"creatorId": rec.CreatorID,
			},
		})
		if err != nil {
			s.logger.Warn(ctx, "search indexing failed", "record_id", rec.RecordID, "error", err)
		}
	}()
}

// DownloadResult carries decrypted record content with its metadata.
type DownloadResult struct {
	Record   *models.Record
	Version  int
	FileName string
	MimeType string
	Content  []byte
}

// DownloadRecord authorizes the caller, fetches the latest blob and decrypts
// it. The plaintext is checked against the version's content hash before it
// is returned.
func (s *RecordService) DownloadRecord(ctx context.Context, recordID, userID string) (*DownloadResult, error) {
	if recordID == "" || userID == "" {
		return nil, fmt.Errorf("record id and user id are required: %w", common.ErrValidation)
	}

	rec, err := s.repos.Records(s.db).Get(ctx, recordID)
	if err != nil {
		return nil, err
	}

	decision := s.checkAccess(ctx, rec, userID)
	if !decision.Allowed {
		return nil, fmt.Errorf("user %s may not access record %s: %w", userID, recordID, common.ErrAccessDenied)
	}

	ref, err := s.repos.BlobRefs(s.db).GetLatest(ctx, recordID)
	if err != nil {
		return nil, err
	}

	var plaintext []byte
	if _, dataKey, keyErr := s.custody.LoadRecordDataKey(ctx, recordID); keyErr == nil {
		plaintext, err = s.store.DownloadWithKey(ctx, ref.ContentAddress, dataKey)
	} else if isKeyNotFound(keyErr) {
		// legacy blobs sealed under the shared default key
		s.logger.Warn(ctx, "no record key on file, trying default key", "record_id", recordID)
		plaintext, err = s.store.DownloadDefault(ctx, ref.ContentAddress)
	} else {
		return nil, keyErr
	}
	if err != nil {
		return nil, err
	}

	gotHash, err := cryptox.Hash(plaintext, cryptox.HashSHA256)
	if err != nil {
		return nil, err
	}
	version, err := s.repos.Versions(s.db).GetLatest(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if gotHash != version.ContentHash {
		return nil, fmt.Errorf("content of record %s does not match its version hash: %w", recordID, common.ErrIntegrity)
	}

	return &DownloadResult{
		Record:   rec,
		Version:  ref.Version,
		FileName: ref.FileName,
		MimeType: ref.MimeType,
		Content:  plaintext,
	}, nil
}
