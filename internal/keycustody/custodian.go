// Package keycustody manages per-record data keys. Keys are generated
// locally, sealed under the master key and persisted as opaque envelopes;
// plaintext key material only ever lives in memory.
package keycustody

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/cryptox"
	"github.com/medledger/medledger/internal/logging"
	"github.com/medledger/medledger/internal/server/models"
)

// Repository persists sealed data-key envelopes and record CID bindings.
// Implemented by the postgres data-key repository; tests use an in-memory
// fake.
type Repository interface {
	SaveDataKey(ctx context.Context, rec *models.DataKeyRecord) error
	GetActiveDataKey(ctx context.Context, recordID string) (*models.DataKeyRecord, error)
	DeactivateDataKeys(ctx context.Context, recordID string, rotatedAt time.Time) error
	SaveRecordCID(ctx context.Context, recordID string, contentAddress string) error
}

// Custodian seals and unseals per-record data keys under the master key.
type Custodian struct {
	masterKey   []byte
	masterKeyID string
	repo        Repository
	logger      logging.Logger
}

// NewCustodian builds a custodian over the given master key material.
// The master key must be 32 bytes, typically derived from a passphrase via
// cryptox.DeriveMasterKey.
func NewCustodian(masterKey []byte, masterKeyID string, repo Repository, logger logging.Logger) (*Custodian, error) {
	if len(masterKey) != cryptox.DataKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d: %w", cryptox.DataKeySize, len(masterKey), common.ErrValidation)
	}
	if masterKeyID == "" {
		return nil, fmt.Errorf("master key id is empty: %w", common.ErrValidation)
	}
	if logger == nil {
		logger = &logging.NopLogger{}
	}
	k := make([]byte, len(masterKey))
	copy(k, masterKey)
	return &Custodian{masterKey: k, masterKeyID: masterKeyID, repo: repo, logger: logger}, nil
}

// GenerateDataKey returns fresh random key material. Accepted sizes are the
// AES key sizes 16, 24 and 32 bytes.
func (c *Custodian) GenerateDataKey(size int) ([]byte, error) {
	switch size {
	case 16, 24, 32:
		return common.GenerateRandByteArray(size), nil
	default:
		return nil, fmt.Errorf("invalid data key size %d: %w", size, common.ErrValidation)
	}
}

// StoreRecordDataKey seals the data key and persists the envelope as the
// active key for the record. A record may hold only one active key; storing
// a second one is a validation error, rotation goes through
// RotateRecordDataKey.
func (c *Custodian) StoreRecordDataKey(ctx context.Context, recordID string, keyID string, dataKey []byte) error {
	if recordID == "" || keyID == "" {
		return fmt.Errorf("record id and key id are required: %w", common.ErrValidation)
	}
	if len(dataKey) != 16 && len(dataKey) != 24 && len(dataKey) != 32 {
		return fmt.Errorf("invalid data key size %d: %w", len(dataKey), common.ErrValidation)
	}

	existing, err := c.repo.GetActiveDataKey(ctx, recordID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("checking existing data key: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("record %s already has an active data key: %w", recordID, common.ErrValidation)
	}

	env, err := sealEnvelope(dataKey, c.masterKey, c.masterKeyID)
	if err != nil {
		return err
	}
	rec := &models.DataKeyRecord{
		RecordID:  recordID,
		KeyID:     keyID,
		Envelope:  env,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := c.repo.SaveDataKey(ctx, rec); err != nil {
		return fmt.Errorf("saving data key envelope: %w", err)
	}
	c.logger.Debug(ctx, "data key stored", "record_id", recordID, "key_id", keyID)
	return nil
}

// LoadRecordDataKey unseals and returns the active data key for the record.
// A missing key maps to ErrKeyNotFound; an envelope that fails to open under
// the master key is an integrity failure.
func (c *Custodian) LoadRecordDataKey(ctx context.Context, recordID string) (keyID string, dataKey []byte, err error) {
	rec, err := c.repo.GetActiveDataKey(ctx, recordID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", nil, fmt.Errorf("no active data key for record %s: %w", recordID, common.ErrKeyNotFound)
		}
		return "", nil, fmt.Errorf("loading data key envelope: %w", err)
	}
	key, err := openEnvelope(rec.Envelope, c.masterKey)
	if err != nil {
		return "", nil, fmt.Errorf("unsealing data key for record %s: %w", recordID, err)
	}
	return rec.KeyID, key, nil
}

// RotateRecordDataKey deactivates the current key and installs a freshly
// generated one. The old envelope stays in the repository so ciphertexts
// encrypted under it remain recoverable.
func (c *Custodian) RotateRecordDataKey(ctx context.Context, recordID string) (keyID string, dataKey []byte, err error) {
	if _, err := c.repo.GetActiveDataKey(ctx, recordID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", nil, fmt.Errorf("no active data key for record %s: %w", recordID, common.ErrKeyNotFound)
		}
		return "", nil, fmt.Errorf("loading data key envelope: %w", err)
	}

	newKey, err := c.GenerateDataKey(cryptox.DataKeySize)
	if err != nil {
		return "", nil, err
	}
	newKeyID := "record-data-" + uuid.NewString()

	env, err := sealEnvelope(newKey, c.masterKey, c.masterKeyID)
	if err != nil {
		return "", nil, err
	}
	now := time.Now()
	if err := c.repo.DeactivateDataKeys(ctx, recordID, now); err != nil {
		return "", nil, fmt.Errorf("deactivating old data keys: %w", err)
	}
	rec := &models.DataKeyRecord{
		RecordID:  recordID,
		KeyID:     newKeyID,
		Envelope:  env,
		Active:    true,
		CreatedAt: now,
	}
	if err := c.repo.SaveDataKey(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("saving rotated data key: %w", err)
	}
	c.logger.Info(ctx, "data key rotated", "record_id", recordID, "key_id", newKeyID)
	return newKeyID, newKey, nil
}

// RegisterCIDForRecord binds a content address to a record for later
// key-by-cid lookups and audit.
func (c *Custodian) RegisterCIDForRecord(ctx context.Context, recordID string, contentAddress string) error {
	if recordID == "" || contentAddress == "" {
		return fmt.Errorf("record id and content address are required: %w", common.ErrValidation)
	}
	if err := c.repo.SaveRecordCID(ctx, recordID, contentAddress); err != nil {
		return fmt.Errorf("registering cid: %w", err)
	}
	return nil
}

// FallbackContentKey derives the deterministic fallback key used for blobs
// whose per-record key is unavailable. It is an HMAC of a fixed label under
// the master key, so every node holding the master key derives the same
// value without any shared state.
func (c *Custodian) FallbackContentKey() []byte {
	mac := hmac.New(sha256.New, c.masterKey)
	mac.Write([]byte("content-fallback"))
	return mac.Sum(nil)
}

// Close wipes the in-memory master key copy.
func (c *Custodian) Close() {
	common.WipeByteArray(c.masterKey)
}
