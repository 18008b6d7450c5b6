package services

import (
	"context"
	"fmt"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/cryptox"
	"github.com/medledger/medledger/internal/dbx"
	"github.com/medledger/medledger/internal/server/models"
	"github.com/medledger/medledger/internal/versionchain"
)

// GetRecord returns the record row after an access check.
func (s *RecordService) GetRecord(ctx context.Context, recordID, userID string) (*models.Record, error) {
	if recordID == "" || userID == "" {
		return nil, fmt.Errorf("record id and user id are required: %w", common.ErrValidation)
	}
	rec, err := s.repos.Records(s.db).Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if d := s.checkAccess(ctx, rec, userID); !d.Allowed {
		return nil, fmt.Errorf("user %s may not access record %s: %w", userID, recordID, common.ErrAccessDenied)
	}
	return rec, nil
}

// ListRecordVersions returns the record's version chain after an access
// check, oldest version first.
func (s *RecordService) ListRecordVersions(ctx context.Context, recordID, userID string) ([]*models.RecordVersion, error) {
	if recordID == "" || userID == "" {
		return nil, fmt.Errorf("record id and user id are required: %w", common.ErrValidation)
	}
	rec, err := s.repos.Records(s.db).Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if d := s.checkAccess(ctx, rec, userID); !d.Allowed {
		return nil, fmt.Errorf("user %s may not access record %s: %w", userID, recordID, common.ErrAccessDenied)
	}
	return s.repos.Versions(s.db).ListByRecord(ctx, recordID)
}

// VerifyResult reports the integrity state of a record. ChainOK covers the
// locally persisted version chain; LedgerOK is meaningful only when
// LedgerChecked is true.
type VerifyResult struct {
	RecordID      string
	ContentHash   string
	Versions      int
	ChainOK       bool
	LedgerChecked bool
	LedgerOK      bool
}

// VerifyRecord recomputes the version chain from its persisted rows and
// compares the anchored content hash against the ledger. A ledger outage
// leaves LedgerChecked false rather than failing verification.
func (s *RecordService) VerifyRecord(ctx context.Context, recordID string) (*VerifyResult, error) {
	if recordID == "" {
		return nil, fmt.Errorf("record id is required: %w", common.ErrValidation)
	}
	rec, err := s.repos.Records(s.db).Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repos.Versions(s.db).ListByRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	// The anchored hash tracks the latest version; the record row keeps the
	// hash of the original upload.
	currentHash := rec.ContentHash
	if len(rows) > 0 {
		currentHash = rows[len(rows)-1].ContentHash
	}

	result := &VerifyResult{
		RecordID:    recordID,
		ContentHash: currentHash,
		Versions:    len(rows),
		ChainOK:     chainConsistent(rows),
	}

	ok, err := s.ledger.VerifyRecord(ctx, recordID, currentHash)
	if err != nil {
		s.logger.Warn(ctx, "ledger unavailable, anchored hash not checked",
			"record_id", recordID, "error", err)
	} else {
		result.LedgerChecked = true
		result.LedgerOK = ok
	}
	return result, nil
}

// chainConsistent recomputes every root in the chain from entry data and
// checks the stored roots, previous-root links and version numbering.
func chainConsistent(rows []*models.RecordVersion) bool {
	prevRoot := ""
	for i, v := range rows {
		if v.Version != i+1 {
			return false
		}
		entry := versionchain.VersionEntry{
			Version:        v.Version,
			ContentAddress: v.ContentAddress,
			ContentHash:    v.ContentHash,
			CreatedBy:      v.CreatedBy,
			CreatedAt:      v.CreatedAt,
		}
		leaf := entry.EntryHash()
		expected := leaf
		if i > 0 {
			expected = versionchain.Combine(prevRoot, leaf)
		}
		if v.PreviousRoot != prevRoot || v.Root != expected {
			return false
		}
		prevRoot = v.Root
	}
	return true
}

// UpdateResult reports a new content version. LedgerTxID is empty and
// Degraded lists the ledger when the re-anchoring could not be mirrored.
type UpdateResult struct {
	RecordID       string
	Version        int
	ContentAddress string
	ContentHash    string
	Root           string
	LedgerTxID     string
	Degraded       []string
}

// UpdateRecordContent appends a new version with fresh content. The caller
// needs write access; the record's existing versions and blobs are never
// touched.
func (s *RecordService) UpdateRecordContent(ctx context.Context, recordID, userID string, content []byte, fileName, mimeType string) (*UpdateResult, error) {
	if recordID == "" || userID == "" {
		return nil, fmt.Errorf("record id and user id are required: %w", common.ErrValidation)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("content is required: %w", common.ErrValidation)
	}
	rec, err := s.repos.Records(s.db).Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !s.mayWrite(ctx, rec, userID) {
		return nil, fmt.Errorf("user %s may not update record %s: %w", userID, recordID, common.ErrAccessDenied)
	}

	keyID, dataKey, err := s.custody.LoadRecordDataKey(ctx, recordID)
	if err != nil {
		return nil, err
	}

	contentHash, err := cryptox.Hash(content, cryptox.HashSHA256)
	if err != nil {
		return nil, err
	}
	blob, err := s.store.Upload(ctx, content, dataKey)
	if err != nil {
		return nil, err
	}

	info, err := s.appendVersion(ctx, recordID, blob.ContentAddress, contentHash, userID)
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Versions(tx).Save(ctx, versionRow(recordID, info)); err != nil {
			return err
		}
		if err := s.repos.BlobRefs(tx).Save(ctx, &models.StoredBlobRef{
			ContentAddress:      blob.ContentAddress,
			RecordID:            recordID,
			Version:             info.Version,
			FileName:            fileName,
			FileSize:            int64(len(content)),
			CiphertextSize:      blob.CiphertextSize,
			MimeType:            mimeType,
			EncryptionAlgorithm: cryptox.AlgorithmAESGCM,
			IV:                  blob.IV,
			AuthTag:             blob.AuthTag,
			KeyID:               keyID,
			CreatedAt:           info.CreatedAt,
		}); err != nil {
			return err
		}
		return s.repos.Records(tx).TouchFileInfo(ctx, recordID, int64(len(content)))
	})
	if err != nil {
		return nil, fmt.Errorf("persisting new version: %w", err)
	}

	if err := s.custody.RegisterCIDForRecord(ctx, recordID, blob.ContentAddress); err != nil {
		s.logger.Warn(ctx, "cid registration failed", "record_id", recordID, "error", err)
	}

	result := &UpdateResult{
		RecordID:       recordID,
		Version:        info.Version,
		ContentAddress: blob.ContentAddress,
		ContentHash:    contentHash,
		Root:           info.Root,
	}
	txID, err := s.ledger.UpdateRecord(ctx, recordID, contentHash, blob.ContentAddress)
	if err != nil {
		s.logger.Warn(ctx, "ledger unavailable, updated content not re-anchored",
			"record_id", recordID, "error", err)
		result.Degraded = append(result.Degraded, DegradedLedgerAnchor)
	} else {
		result.LedgerTxID = txID
	}

	s.logger.Info(ctx, "record content updated", "record_id", recordID, "version", info.Version)
	return result, nil
}

// RotateDataKey issues a new data key for the record and re-seals the latest
// content under it as a new version, so the record never depends on the old
// key for future reads.
func (s *RecordService) RotateDataKey(ctx context.Context, recordID, userID string) (*UpdateResult, error) {
	if recordID == "" || userID == "" {
		return nil, fmt.Errorf("record id and user id are required: %w", common.ErrValidation)
	}
	rec, err := s.repos.Records(s.db).Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !s.mayAdminister(ctx, rec, userID) {
		return nil, fmt.Errorf("user %s may not rotate keys for record %s: %w", userID, recordID, common.ErrAccessDenied)
	}

	ref, err := s.repos.BlobRefs(s.db).GetLatest(ctx, recordID)
	if err != nil {
		return nil, err
	}
	_, oldKey, err := s.custody.LoadRecordDataKey(ctx, recordID)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.store.DownloadWithKey(ctx, ref.ContentAddress, oldKey)
	if err != nil {
		return nil, err
	}

	newKeyID, newKey, err := s.custody.RotateRecordDataKey(ctx, recordID)
	if err != nil {
		return nil, err
	}
	blob, err := s.store.Upload(ctx, plaintext, newKey)
	if err != nil {
		return nil, err
	}

	contentHash, err := cryptox.Hash(plaintext, cryptox.HashSHA256)
	if err != nil {
		return nil, err
	}
	info, err := s.appendVersion(ctx, recordID, blob.ContentAddress, contentHash, userID)
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repos.Versions(tx).Save(ctx, versionRow(recordID, info)); err != nil {
			return err
		}
		return s.repos.BlobRefs(tx).Save(ctx, &models.StoredBlobRef{
			ContentAddress:      blob.ContentAddress,
			RecordID:            recordID,
			Version:             info.Version,
			FileName:            ref.FileName,
			FileSize:            int64(len(plaintext)),
			CiphertextSize:      blob.CiphertextSize,
			MimeType:            ref.MimeType,
			EncryptionAlgorithm: cryptox.AlgorithmAESGCM,
			IV:                  blob.IV,
			AuthTag:             blob.AuthTag,
			KeyID:               newKeyID,
			CreatedAt:           info.CreatedAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("persisting re-sealed version: %w", err)
	}

	s.logger.Info(ctx, "data key rotated", "record_id", recordID, "version", info.Version)
	return &UpdateResult{
		RecordID:       recordID,
		Version:        info.Version,
		ContentAddress: blob.ContentAddress,
		ContentHash:    contentHash,
		Root:           info.Root,
	}, nil
}

// appendVersion builds the next chain entry from the persisted prior
// versions.
func (s *RecordService) appendVersion(ctx context.Context, recordID, contentAddress, contentHash, creatorID string) (versionchain.VersionEntry, error) {
	rows, err := s.repos.Versions(s.db).ListByRecord(ctx, recordID)
	if err != nil {
		return versionchain.VersionEntry{}, err
	}
	prior := make([]versionchain.VersionEntry, 0, len(rows))
	for _, v := range rows {
		prior = append(prior, versionchain.VersionEntry{
			Version:        v.Version,
			ContentAddress: v.ContentAddress,
			ContentHash:    v.ContentHash,
			PreviousRoot:   v.PreviousRoot,
			Root:           v.Root,
			CreatedBy:      v.CreatedBy,
			CreatedAt:      v.CreatedAt,
		})
	}
	return versionchain.CreateVersionInfo(prior, contentAddress, contentHash, creatorID)
}

func versionRow(recordID string, info versionchain.VersionEntry) *models.RecordVersion {
	return &models.RecordVersion{
		RecordID:       recordID,
		Version:        info.Version,
		ContentAddress: info.ContentAddress,
		ContentHash:    info.ContentHash,
		PreviousRoot:   info.PreviousRoot,
		Root:           info.Root,
		CreatedBy:      info.CreatedBy,
		CreatedAt:      info.CreatedAt,
	}
}

// mayWrite reports whether userID may add content: owners always, otherwise
// an effective grant at write level or above.
func (s *RecordService) mayWrite(ctx context.Context, rec *models.Record, userID string) bool {
	if userID == rec.PatientID || userID == rec.CreatorID {
		return true
	}
	g, err := s.repos.Grants(s.db).GetEffective(ctx, rec.RecordID, userID, s.now())
	if err != nil {
		return false
	}
	return g.PermissionType.Covers(models.PermissionWrite)
}
