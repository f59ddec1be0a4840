package utils

import (
	"crypto/rand"
	"math/big"
)

// SecureRandomInt returns a uniform random int in [0, max). Used for the
// tie-break policy when several candidates are equidistant: the pick must be
// uniform among ties, never first-match.
func SecureRandomInt(max int) int {
	if max <= 1 {
		return 0
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(int64(max)))
	return int(n.Int64())
}
