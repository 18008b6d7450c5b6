package models

import "time"

// DataKeyRecord is the persisted envelope of a per-record symmetric data
// key, sealed under the master key. The plaintext key never touches the
// database or the logs. Exactly one row per record is active; rotation
// deactivates the old row but keeps it, since historical ciphertexts stay
// decryptable under old keys.
type DataKeyRecord struct {
	RecordID  string
	KeyID     string
	Envelope  []byte
	Active    bool
	CreatedAt time.Time
	RotatedAt *time.Time
}
