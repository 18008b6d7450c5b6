package models

import "time"

// StoredBlobRef maps one record version to its ciphertext blob in the
// content-addressable store, together with the encryption parameters needed
// to decrypt it. The content address is a deterministic function of the
// ciphertext and immutable once pinned.
type StoredBlobRef struct {
	ContentAddress      string
	RecordID            string
	Version             int
	FileName            string
	FileSize            int64 // plaintext size
	CiphertextSize      int64
	MimeType            string
	EncryptionAlgorithm string
	IV                  []byte
	AuthTag             []byte
	KeyID               string
	CreatedAt           time.Time
}
