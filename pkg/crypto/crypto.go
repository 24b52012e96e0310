package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// GenerateCode draws length characters uniformly from alphabet using a
// cryptographic source.
func GenerateCode(length int, alphabet string) (string, error) {
	if length <= 0 {
		return "", errors.New("code length must be positive")
	}
	if alphabet == "" {
		return "", errors.New("code alphabet must not be empty")
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random index: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
