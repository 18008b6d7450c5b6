package keycustody

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/cryptox"
	"github.com/medledger/medledger/internal/server/models"
)

type fakeRepo struct {
	keys map[string][]*models.DataKeyRecord
	cids map[string][]string

	saveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		keys: make(map[string][]*models.DataKeyRecord),
		cids: make(map[string][]string),
	}
}

func (f *fakeRepo) SaveDataKey(ctx context.Context, rec *models.DataKeyRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.keys[rec.RecordID] = append(f.keys[rec.RecordID], rec)
	return nil
}

func (f *fakeRepo) GetActiveDataKey(ctx context.Context, recordID string) (*models.DataKeyRecord, error) {
	for _, rec := range f.keys[recordID] {
		if rec.Active {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("data key for %s: %w", recordID, common.ErrNotFound)
}

func (f *fakeRepo) DeactivateDataKeys(ctx context.Context, recordID string, rotatedAt time.Time) error {
	for _, rec := range f.keys[recordID] {
		if rec.Active {
			rec.Active = false
			t := rotatedAt
			rec.RotatedAt = &t
		}
	}
	return nil
}

func (f *fakeRepo) SaveRecordCID(ctx context.Context, recordID string, contentAddress string) error {
	f.cids[recordID] = append(f.cids[recordID], contentAddress)
	return nil
}

func newTestCustodian(t *testing.T, repo Repository) *Custodian {
	t.Helper()
	master := cryptox.DeriveMasterKey([]byte("test-passphrase"), []byte("test-salt"))
	c, err := NewCustodian(master, "master-test", repo, nil)
	if err != nil {
		t.Fatalf("NewCustodian: %v", err)
	}
	return c
}

func TestNewCustodianRejectsBadMasterKey(t *testing.T) {
	if _, err := NewCustodian(make([]byte, 16), "master-1", newFakeRepo(), nil); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation for short master key, got %v", err)
	}
	if _, err := NewCustodian(make([]byte, 32), "", newFakeRepo(), nil); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty master key id, got %v", err)
	}
}

func TestGenerateDataKeySizes(t *testing.T) {
	c := newTestCustodian(t, newFakeRepo())

	for _, size := range []int{16, 24, 32} {
		key, err := c.GenerateDataKey(size)
		if err != nil {
			t.Fatalf("GenerateDataKey(%d): %v", size, err)
		}
		if len(key) != size {
			t.Fatalf("GenerateDataKey(%d) returned %d bytes", size, len(key))
		}
	}

	for _, size := range []int{0, 8, 31, 64} {
		if _, err := c.GenerateDataKey(size); !errors.Is(err, common.ErrValidation) {
			t.Fatalf("GenerateDataKey(%d): expected ErrValidation, got %v", size, err)
		}
	}
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCustodian(t, repo)
	ctx := context.Background()

	key, _ := c.GenerateDataKey(32)
	if err := c.StoreRecordDataKey(ctx, "rec-1", "key-1", key); err != nil {
		t.Fatalf("StoreRecordDataKey: %v", err)
	}

	// the stored envelope must not contain the key in the clear
	stored := repo.keys["rec-1"][0]
	if bytes.Contains(stored.Envelope, key) {
		t.Fatal("envelope contains plaintext key material")
	}

	keyID, loaded, err := c.LoadRecordDataKey(ctx, "rec-1")
	if err != nil {
		t.Fatalf("LoadRecordDataKey: %v", err)
	}
	if keyID != "key-1" {
		t.Fatalf("expected key id key-1, got %s", keyID)
	}
	if !bytes.Equal(loaded, key) {
		t.Fatal("loaded key does not match stored key")
	}
}

func TestStoreRejectsSecondActiveKey(t *testing.T) {
	c := newTestCustodian(t, newFakeRepo())
	ctx := context.Background()

	key, _ := c.GenerateDataKey(32)
	if err := c.StoreRecordDataKey(ctx, "rec-1", "key-1", key); err != nil {
		t.Fatalf("StoreRecordDataKey: %v", err)
	}
	if err := c.StoreRecordDataKey(ctx, "rec-1", "key-2", key); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation on duplicate store, got %v", err)
	}
}

func TestLoadMissingKey(t *testing.T) {
	c := newTestCustodian(t, newFakeRepo())

	if _, _, err := c.LoadRecordDataKey(context.Background(), "nope"); !errors.Is(err, common.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestTamperedEnvelopeFailsIntegrity(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCustodian(t, repo)
	ctx := context.Background()

	key, _ := c.GenerateDataKey(32)
	if err := c.StoreRecordDataKey(ctx, "rec-1", "key-1", key); err != nil {
		t.Fatalf("StoreRecordDataKey: %v", err)
	}

	env := repo.keys["rec-1"][0].Envelope
	env[len(env)-1] ^= 0xff

	if _, _, err := c.LoadRecordDataKey(ctx, "rec-1"); !errors.Is(err, common.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity on tampered envelope, got %v", err)
	}
}

func TestWrongMasterKeyFailsIntegrity(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCustodian(t, repo)
	ctx := context.Background()

	key, _ := c.GenerateDataKey(32)
	if err := c.StoreRecordDataKey(ctx, "rec-1", "key-1", key); err != nil {
		t.Fatalf("StoreRecordDataKey: %v", err)
	}

	other := cryptox.DeriveMasterKey([]byte("other-passphrase"), []byte("test-salt"))
	c2, err := NewCustodian(other, "master-other", repo, nil)
	if err != nil {
		t.Fatalf("NewCustodian: %v", err)
	}
	if _, _, err := c2.LoadRecordDataKey(ctx, "rec-1"); !errors.Is(err, common.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity under wrong master key, got %v", err)
	}
}

func TestRotateRecordDataKey(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCustodian(t, repo)
	ctx := context.Background()

	key, _ := c.GenerateDataKey(32)
	if err := c.StoreRecordDataKey(ctx, "rec-1", "key-1", key); err != nil {
		t.Fatalf("StoreRecordDataKey: %v", err)
	}

	newID, newKey, err := c.RotateRecordDataKey(ctx, "rec-1")
	if err != nil {
		t.Fatalf("RotateRecordDataKey: %v", err)
	}
	if newID == "key-1" {
		t.Fatal("rotation must issue a new key id")
	}
	if bytes.Equal(newKey, key) {
		t.Fatal("rotation must issue new key material")
	}

	// the active key is now the rotated one
	loadedID, loaded, err := c.LoadRecordDataKey(ctx, "rec-1")
	if err != nil {
		t.Fatalf("LoadRecordDataKey after rotate: %v", err)
	}
	if loadedID != newID || !bytes.Equal(loaded, newKey) {
		t.Fatal("active key after rotation is not the rotated key")
	}

	// the old envelope is deactivated but retained
	if len(repo.keys["rec-1"]) != 2 {
		t.Fatalf("expected 2 stored envelopes, got %d", len(repo.keys["rec-1"]))
	}
	old := repo.keys["rec-1"][0]
	if old.Active || old.RotatedAt == nil {
		t.Fatal("old envelope must be deactivated with a rotation timestamp")
	}
}

func TestRotateWithoutActiveKey(t *testing.T) {
	c := newTestCustodian(t, newFakeRepo())

	if _, _, err := c.RotateRecordDataKey(context.Background(), "rec-1"); !errors.Is(err, common.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestRegisterCIDForRecord(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCustodian(t, repo)
	ctx := context.Background()

	if err := c.RegisterCIDForRecord(ctx, "rec-1", "bafy-test"); err != nil {
		t.Fatalf("RegisterCIDForRecord: %v", err)
	}
	if len(repo.cids["rec-1"]) != 1 || repo.cids["rec-1"][0] != "bafy-test" {
		t.Fatalf("cid not registered: %v", repo.cids["rec-1"])
	}

	if err := c.RegisterCIDForRecord(ctx, "", "bafy-test"); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty record id, got %v", err)
	}
}

func TestFallbackContentKeyDeterministic(t *testing.T) {
	master := cryptox.DeriveMasterKey([]byte("test-passphrase"), []byte("test-salt"))

	c1, _ := NewCustodian(master, "master-a", newFakeRepo(), nil)
	c2, _ := NewCustodian(master, "master-b", newFakeRepo(), nil)

	k1 := c1.FallbackContentKey()
	k2 := c2.FallbackContentKey()
	if len(k1) != 32 {
		t.Fatalf("fallback key must be 32 bytes, got %d", len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("fallback key must be deterministic for a given master key")
	}

	other := cryptox.DeriveMasterKey([]byte("other-passphrase"), []byte("test-salt"))
	c3, _ := NewCustodian(other, "master-c", newFakeRepo(), nil)
	if bytes.Equal(k1, c3.FallbackContentKey()) {
		t.Fatal("different master keys must derive different fallback keys")
	}
}
