package cryptox

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/medledger/medledger/internal/common"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	e := NewEngine(nil)

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("x"),
		[]byte("hello-world"),
		bytes.Repeat([]byte{0xAB}, 1<<16),
	}

	for _, pt := range plaintexts {
		p, err := e.Encrypt(pt, "")
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if p.Algorithm != AlgorithmAESGCM {
			t.Fatalf("unexpected algorithm %q", p.Algorithm)
		}
		if p.KeyID == "" {
			t.Fatalf("expected generated key id")
		}
		if len(p.IV) != gcmNonceSize || len(p.AuthTag) != gcmTagSize {
			t.Fatalf("unexpected IV/tag sizes: %d/%d", len(p.IV), len(p.AuthTag))
		}

		got, err := e.Decrypt(p)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(pt))
		}
	}
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	e := NewEngine(nil)
	keyID, err := e.GenerateKey("data")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	a, err := e.Encrypt([]byte("same plaintext"), keyID)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := e.Encrypt([]byte("same plaintext"), keyID)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(a.IV, b.IV) {
		t.Fatalf("IV reused across calls")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Fatalf("identical ciphertext for two encryptions of the same plaintext")
	}
}

func TestDecrypt_TamperDetection(t *testing.T) {
	e := NewEngine(nil)
	p, err := e.Encrypt([]byte("sensitive medical payload"), "")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// Flipping any single byte of ciphertext or tag must fail with ErrIntegrity.
	for i := range p.Ciphertext {
		tampered := clonePayload(p)
		tampered.Ciphertext[i] ^= 0x01
		if _, err := e.Decrypt(tampered); !errors.Is(err, common.ErrIntegrity) {
			t.Fatalf("ciphertext byte %d: expected ErrIntegrity, got %v", i, err)
		}
	}
	for i := range p.AuthTag {
		tampered := clonePayload(p)
		tampered.AuthTag[i] ^= 0x01
		if _, err := e.Decrypt(tampered); !errors.Is(err, common.ErrIntegrity) {
			t.Fatalf("auth tag byte %d: expected ErrIntegrity, got %v", i, err)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	e := NewEngine(nil)
	p, err := e.Encrypt([]byte("payload"), "")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	other, err := e.GenerateKey("data")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p.KeyID = other

	if _, err := e.Decrypt(p); !errors.Is(err, common.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for wrong key, got %v", err)
	}
}

func TestDecrypt_UnknownKey(t *testing.T) {
	e := NewEngine(nil)
	p, err := e.Encrypt([]byte("payload"), "")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	p.KeyID = "data-missing"

	if _, err := e.Decrypt(p); !errors.Is(err, common.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestHash_KnownVectorsAndDeterminism(t *testing.T) {
	h1, err := Hash([]byte("hello-world"), HashSHA256)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	// snapshot value; must hold across processes
	expected := "afa27b44d43b02a9fea41d13cedc2e4016cfcf87c5dbf990e593669aa8ce286d"
	if h1 != expected {
		t.Fatalf("sha256(hello-world) = %s, want %s", h1, expected)
	}

	h2, err := Hash([]byte("hello-world"), HashSHA256)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic")
	}

	h3, err := Hash([]byte("hello-worlds"), HashSHA256)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h3 == h1 {
		t.Fatalf("different inputs produced the same digest")
	}

	h512, err := Hash([]byte("hello-world"), HashSHA512)
	if err != nil {
		t.Fatalf("hash sha512: %v", err)
	}
	if len(h512) != 128 {
		t.Fatalf("sha512 hex length = %d, want 128", len(h512))
	}
}

func TestHash_UnsupportedAlgorithm(t *testing.T) {
	if _, err := Hash([]byte("x"), "md5"); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	e := NewEngine(nil)
	keyID, err := e.GenerateKey("signing")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	data := []byte("anchor:record-1")
	sig, err := e.Sign(data, keyID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	ok, err := e.Verify(data, sig, keyID)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}

	sig[0] ^= 0x01
	ok, err = e.Verify(data, sig, keyID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("verify accepted a corrupted signature")
	}
}

func TestRotateKey_KeepsOldMaterial(t *testing.T) {
	store := NewMemoryKeyStore()
	e := NewEngine(store)

	oldID, err := e.GenerateKey("data")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p, err := e.Encrypt([]byte("historical ciphertext"), oldID)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	newID, err := e.RotateKey(oldID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if newID == oldID {
		t.Fatalf("rotation returned the same key id")
	}

	// old ciphertexts must remain decryptable after rotation
	got, err := e.Decrypt(p)
	if err != nil {
		t.Fatalf("decrypt after rotation: %v", err)
	}
	if string(got) != "historical ciphertext" {
		t.Fatalf("unexpected plaintext %q", got)
	}
}

func TestRotateKey_UnknownKey(t *testing.T) {
	e := NewEngine(nil)
	if _, err := e.RotateKey("data-nope"); !errors.Is(err, common.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	key1 := DeriveMasterKey([]byte("secret-password"), []byte("fixed-salt"))
	key2 := DeriveMasterKey([]byte("secret-password"), []byte("fixed-salt"))
	if !bytes.Equal(key1, key2) {
		t.Errorf("expected same result for same inputs, got different")
	}

	expectedHex := "34f7a1c64df63ab1ad5b5ee06e64db5713b35f81839823304db63e8e5e6a6a39"
	if hex.EncodeToString(key1) != expectedHex {
		t.Errorf("expected %s, got %s", expectedHex, hex.EncodeToString(key1))
	}
}

func TestRandomString(t *testing.T) {
	s := RandomString(17)
	if len(s) != 17 {
		t.Fatalf("expected length 17, got %d", len(s))
	}
	if _, err := hex.DecodeString(s + "0"); err != nil {
		t.Fatalf("not hex: %v", err)
	}
	if s == RandomString(17) {
		t.Logf("warning: two RandomString(17) results identical; extremely unlikely")
	}
}

func clonePayload(p *Payload) *Payload {
	return &Payload{
		Algorithm:  p.Algorithm,
		KeyID:      p.KeyID,
		IV:         append([]byte(nil), p.IV...),
		Ciphertext: append([]byte(nil), p.Ciphertext...),
		AuthTag:    append([]byte(nil), p.AuthTag...),
	}
}
