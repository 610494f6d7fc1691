//go:generate go run go.uber.org/mock/mockgen -source=generator.go -destination=../../mocks/mock_generator.go -package=mocks
package room

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// IDGenerator produces candidate room identifiers. Uniqueness is the
// registry's concern, not the generator's.
type IDGenerator interface {
	Next() (string, error)
}

// PasswordHasher hashes private room passwords and checks them later.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(password, hash string) (bool, error)
}

// NumericIDGenerator returns ids like "1234-5678-9012".
type NumericIDGenerator struct{}

func (NumericIDGenerator) Next() (string, error) {
	var groups [3]int64
	for i := range groups {
		n, err := randomGroup()
		if err != nil {
			return "", fmt.Errorf("generate room id: %w", err)
		}
		groups[i] = n
	}
	return fmt.Sprintf("%d-%d-%d", groups[0], groups[1], groups[2]), nil
}

// randomGroup returns a cryptographically random number in [1000, 9999].
func randomGroup() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return 0, err
	}
	return 1000 + n.Int64(), nil
}
