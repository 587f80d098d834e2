package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// roomCodeChars omits characters that are easy to misread when a room code
// is passed along by voice or chat (0/O, 1/I, U/V).
var roomCodeChars = []rune("23456789ABCDEFGHJKLMNPQRSTVWXYZ")

// RandomChars returns n characters drawn uniformly from the room code alphabet.
func RandomChars(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		idx, err := RandomIntn(len(roomCodeChars))
		if err != nil {
			return "", fmt.Errorf("generating random char index: %w", err)
		}
		sb.WriteRune(roomCodeChars[idx])
	}
	return sb.String(), nil
}

// RandomIntn returns a uniform integer in [0, max).
func RandomIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}
