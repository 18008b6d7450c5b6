package cryptox

import (
	"encoding/hex"

	"github.com/medledger/medledger/internal/common"
)

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) []byte {
	return common.GenerateRandByteArray(n)
}

// RandomString returns a random hexadecimal string of length n. The value is
// drawn from the system CSPRNG and is not derivable from timestamps or
// counters.
func RandomString(n int) string {
	b := common.GenerateRandByteArray((n + 1) / 2)
	return hex.EncodeToString(b)[:n]
}
