package random

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var maxUint256 = new(big.Int).Lsh(big.NewInt(1), 256)

// Word returns a cryptographically secure uniform 256-bit value.
func Word() (*big.Int, error) {
	w, err := rand.Int(rand.Reader, maxUint256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate random number: %w", err)
	}
	return w, nil
}

// Words returns n independent random words.
func Words(n uint32) ([]*big.Int, error) {
	out := make([]*big.Int, 0, n)
	for i := uint32(0); i < n; i++ {
		w, err := Word()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Uint64 returns a random non-zero value below 2^62, usable as an identifier
// that fits a signed BIGINT column.
func Uint64() (uint64, error) {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
		if err != nil {
			return 0, fmt.Errorf("failed to generate random id: %w", err)
		}
		if n.Sign() > 0 {
			return n.Uint64(), nil
		}
	}
}
