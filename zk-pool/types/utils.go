package types

import (
	crand "crypto/rand"
	"math/big"

	"github.com/holiman/uint256"
)

// MaxAmountBits bounds every note amount and fee; the circuit range-checks
// against the same width.
const MaxAmountBits = 248

var (
	MaxAmount    = new(uint256.Int).Lsh(uint256.NewInt(1), MaxAmountBits)
	MaxAmountBig = new(big.Int).Lsh(big.NewInt(1), MaxAmountBits)
)

func RandBytes(n int) []byte {
	rbz := make([]byte, n)
	_, _ = crand.Read(rbz)
	return rbz
}
