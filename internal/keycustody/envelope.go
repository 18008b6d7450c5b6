package keycustody

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/medledger/medledger/internal/common"
	"github.com/medledger/medledger/internal/cryptox"
)

// envelope is the sealed form of a data key as stored at rest. The data key
// is encrypted under the master key with AES-GCM; the envelope records which
// master key sealed it so rotation of the master key stays decodable.
type envelope struct {
	Algorithm   string `cbor:"1,keyasint"`
	MasterKeyID string `cbor:"2,keyasint"`
	IV          []byte `cbor:"3,keyasint"`
	Ciphertext  []byte `cbor:"4,keyasint"`
	AuthTag     []byte `cbor:"5,keyasint"`
}

func sealEnvelope(dataKey []byte, masterKey []byte, masterKeyID string) ([]byte, error) {
	iv := common.GenerateRandByteArray(12)
	sealed, err := cryptox.SealWithKey(dataKey, masterKey, iv)
	if err != nil {
		return nil, fmt.Errorf("sealing data key: %w", err)
	}
	tagAt := len(sealed) - 16
	env := envelope{
		Algorithm:   cryptox.AlgorithmAESGCM,
		MasterKeyID: masterKeyID,
		IV:          iv,
		Ciphertext:  sealed[:tagAt],
		AuthTag:     sealed[tagAt:],
	}
	b, err := cbor.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return b, nil
}

func openEnvelope(encoded []byte, masterKey []byte) ([]byte, error) {
	var env envelope
	if err := cbor.Unmarshal(encoded, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", common.ErrIntegrity)
	}
	if env.Algorithm != cryptox.AlgorithmAESGCM {
		return nil, fmt.Errorf("unsupported envelope algorithm %q: %w", env.Algorithm, common.ErrValidation)
	}
	p := &cryptox.Payload{
		Algorithm:  env.Algorithm,
		IV:         env.IV,
		Ciphertext: env.Ciphertext,
		AuthTag:    env.AuthTag,
	}
	key, err := cryptox.OpenWithKey(p, masterKey)
	if err != nil {
		return nil, err
	}
	return key, nil
}
