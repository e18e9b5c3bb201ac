package util

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

func RandomIntn(max int) (int, error) {
	return RandomIntnFrom(rand.Reader, max)
}

// RandomIntnFrom returns a uniform integer in [0, max) read from r.
func RandomIntnFrom(r io.Reader, max int) (int, error) {
	if max <= 0 {
		return 0, fmt.Errorf("random bound must be positive, got %d", max)
	}
	n, err := rand.Int(r, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}

func RandomBytes(n int) ([]byte, error) {
	return RandomBytesFrom(rand.Reader, n)
}

func RandomBytesFrom(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// RandomCharsFrom draws n characters uniformly from alphabet.
func RandomCharsFrom(r io.Reader, alphabet []rune, n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		idx, err := RandomIntnFrom(r, len(alphabet))
		if err != nil {
			return "", fmt.Errorf("generating random char index: %w", err)
		}
		sb.WriteRune(alphabet[idx])
	}
	return sb.String(), nil
}

// ShuffleRunesFrom permutes s in place (Fisher-Yates).
func ShuffleRunesFrom(r io.Reader, s []rune) error {
	for i := len(s) - 1; i > 0; i-- {
		j, err := RandomIntnFrom(r, i+1)
		if err != nil {
			return err
		}
		s[i], s[j] = s[j], s[i]
	}
	return nil
}
