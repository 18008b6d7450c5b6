// Package cryptox implements the cryptography engine: authenticated
// symmetric encryption, hashing, HMAC signing, key generation/rotation and
// secure randomness. All other components build on this package; none of
// them touch crypto primitives directly.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/medledger/medledger/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	// AlgorithmAESGCM is the only AEAD algorithm currently produced. Decrypt
	// rejects payloads claiming anything else.
	AlgorithmAESGCM = "aes-256-gcm"

	HashSHA256 = "sha256"
	HashSHA512 = "sha512"

	// DataKeySize is the default symmetric key size in bytes (AES-256).
	DataKeySize = 32

	gcmNonceSize = 12
	gcmTagSize   = 16
)

// Payload is the result of authenticated encryption. The authentication tag
// is kept separate from the ciphertext so that tampering with either is
// detectable and testable in isolation.
type Payload struct {
	Algorithm  string
	KeyID      string
	IV         []byte
	Ciphertext []byte
	AuthTag    []byte
}

// Engine provides the cryptographic operations of the record core. The zero
// value is not usable; construct with NewEngine.
type Engine struct {
	keys KeyStore
}

// NewEngine builds an engine around the given key store. A nil store gets an
// in-memory one.
func NewEngine(keys KeyStore) *Engine {
	if keys == nil {
		keys = NewMemoryKeyStore()
	}
	return &Engine{keys: keys}
}

// Encrypt seals plaintext with AES-256-GCM under the key identified by
// keyID. An empty keyID generates a fresh key and identifier. A fresh random
// 12-byte IV is drawn for every call; IVs are never derived or reused.
func (e *Engine) Encrypt(plaintext []byte, keyID string) (*Payload, error) {
	var key []byte
	if keyID == "" {
		id, err := e.GenerateKey("data")
		if err != nil {
			return nil, err
		}
		keyID = id
	}
	key, ok := e.keys.Get(keyID)
	if !ok {
		return nil, fmt.Errorf("encrypt: key %q: %w", keyID, common.ErrKeyNotFound)
	}

	iv := RandomBytes(gcmNonceSize)
	sealed, err := SealWithKey(plaintext, key, iv)
	if err != nil {
		return nil, err
	}

	return &Payload{
		Algorithm:  AlgorithmAESGCM,
		KeyID:      keyID,
		IV:         iv,
		Ciphertext: sealed[:len(sealed)-gcmTagSize],
		AuthTag:    sealed[len(sealed)-gcmTagSize:],
	}, nil
}

// Decrypt opens a payload produced by Encrypt. A tag mismatch (tampered
// ciphertext, tampered tag or wrong key) yields common.ErrIntegrity. This is
// the tamper-detection contract the rest of the system relies on.
func (e *Engine) Decrypt(p *Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("decrypt: nil payload: %w", common.ErrValidation)
	}
	if p.Algorithm != AlgorithmAESGCM {
		return nil, fmt.Errorf("decrypt: unsupported algorithm %q: %w", p.Algorithm, common.ErrIntegrity)
	}
	key, ok := e.keys.Get(p.KeyID)
	if !ok {
		return nil, fmt.Errorf("decrypt: key %q: %w", p.KeyID, common.ErrKeyNotFound)
	}
	return OpenWithKey(p, key)
}

// SealWithKey encrypts plaintext with an explicit raw key and IV, returning
// ciphertext with the GCM tag appended. Used by callers that manage their
// own key material (content store, key custodian).
func SealWithKey(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return aesgcm.Seal(nil, iv, plaintext, nil), nil
}

// OpenWithKey decrypts a payload with an explicit raw key. Authentication
// failure maps to common.ErrIntegrity.
func OpenWithKey(p *Payload, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	sealed := make([]byte, 0, len(p.Ciphertext)+len(p.AuthTag))
	sealed = append(sealed, p.Ciphertext...)
	sealed = append(sealed, p.AuthTag...)

	plaintext, err := aesgcm.Open(nil, p.IV, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("open: %w", common.ErrIntegrity)
	}
	return plaintext, nil
}

// Hash returns the hex digest of data under the named algorithm
// (sha256 or sha512). Pure function: same input, same output, across calls
// and processes.
func Hash(data []byte, algorithm string) (string, error) {
	switch algorithm {
	case HashSHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	case HashSHA512:
		sum := sha512.Sum512(data)
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("hash: unsupported algorithm %q: %w", algorithm, common.ErrValidation)
	}
}

// Sign computes an HMAC-SHA256 signature of data under the stored key.
func (e *Engine) Sign(data []byte, keyID string) ([]byte, error) {
	key, ok := e.keys.Get(keyID)
	if !ok {
		return nil, fmt.Errorf("sign: key %q: %w", keyID, common.ErrKeyNotFound)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// Verify reports whether signature matches data under the stored key.
func (e *Engine) Verify(data, signature []byte, keyID string) (bool, error) {
	expected, err := e.Sign(data, keyID)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, signature), nil
}

// GenerateKey creates a fresh random 256-bit key for the given purpose and
// returns its identifier.
func (e *Engine) GenerateKey(purpose string) (string, error) {
	if purpose == "" {
		return "", fmt.Errorf("generate key: empty purpose: %w", common.ErrValidation)
	}
	id := purpose + "-" + uuid.NewString()
	e.keys.Put(id, RandomBytes(DataKeySize))
	return id, nil
}

// RotateKey issues a new key to replace oldKeyID. The old key material is
// retained in the store: ciphertexts sealed under it must stay decryptable.
func (e *Engine) RotateKey(oldKeyID string) (string, error) {
	if _, ok := e.keys.Get(oldKeyID); !ok {
		return "", fmt.Errorf("rotate key: %q: %w", oldKeyID, common.ErrKeyNotFound)
	}
	return e.GenerateKey(purposeOf(oldKeyID))
}

func purposeOf(keyID string) string {
	for i := 0; i < len(keyID); i++ {
		if keyID[i] == '-' {
			return keyID[:i]
		}
	}
	return "data"
}

// DeriveMasterKey derives a 256-bit master key from a passphrase and salt
// using argon2id.
func DeriveMasterKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}
