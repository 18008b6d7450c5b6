// Package models defines the data model persisted in the authoritative
// database: records, blob references, data-key envelopes, access grants and
// version chain entries.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/medledger/medledger/internal/common"
)

// FileType enumerates the supported medical file categories.
type FileType string

const (
	FileTypePDF   FileType = "PDF"
	FileTypeDICOM FileType = "DICOM"
	FileTypeImage FileType = "IMAGE"
	FileTypeOther FileType = "OTHER"
)

// ParseFileType normalizes a raw file-type string. Unknown values are a
// validation error, not silently mapped to OTHER.
func ParseFileType(s string) (FileType, error) {
	switch FileType(strings.ToUpper(strings.TrimSpace(s))) {
	case FileTypePDF:
		return FileTypePDF, nil
	case FileTypeDICOM:
		return FileTypeDICOM, nil
	case FileTypeImage:
		return FileTypeImage, nil
	case FileTypeOther:
		return FileTypeOther, nil
	default:
		return "", fmt.Errorf("unknown file type %q: %w", s, common.ErrValidation)
	}
}

// Record is the authoritative row for a medical record. ContentHash is the
// sha256 hex digest of the plaintext, computed once at creation and never
// recomputed; a re-upload produces a new version, never a mutation here.
// LedgerTxRef is nil until the creation is anchored on the ledger.
type Record struct {
	RecordID    string
	PatientID   string
	CreatorID   string
	Title       string
	Description string
	FileType    FileType
	FileSize    int64
	ContentHash string
	LedgerTxRef *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
