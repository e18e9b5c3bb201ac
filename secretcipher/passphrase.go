package secretcipher

import (
	"fmt"
	"strings"

	"github.com/keynest/keynest/internal/util"
)

const (
	// DefaultPassphraseLength is the length of GenerateSecurePassphrase output.
	DefaultPassphraseLength = 20
	// MinGeneratedPassphraseLength is the shortest passphrase GeneratePassphrase
	// will produce.
	MinGeneratedPassphraseLength = 16
)

// Character classes omit look-alikes (I, O, l, 0, 1) so a suggestion can be
// read back from the screen without ambiguity.
var passphraseClasses = [][]rune{
	[]rune("ABCDEFGHJKLMNPQRSTUVWXYZ"),
	[]rune("abcdefghijkmnopqrstuvwxyz"),
	[]rune("23456789"),
	[]rune("!#$%&*+-=?@^_~"),
}

var passphraseAlphabet = func() []rune {
	var all []rune
	for _, class := range passphraseClasses {
		all = append(all, class...)
	}
	return all
}()

// GenerateSecurePassphrase returns a DefaultPassphraseLength passphrase
// suggestion drawn from crypto/rand. It is never stored.
func GenerateSecurePassphrase() (string, error) {
	return defaultCipher.GeneratePassphrase(DefaultPassphraseLength)
}

// GeneratePassphrase returns a suggestion of the given length using the
// default Cipher's random source.
func GeneratePassphrase(length int) (string, error) {
	return defaultCipher.GeneratePassphrase(length)
}

// GeneratePassphrase returns a passphrase of length characters containing at
// least one upper-case letter, lower-case letter, digit and symbol.
func (c *Cipher) GeneratePassphrase(length int) (string, error) {
	if length < MinGeneratedPassphraseLength {
		return "", fmt.Errorf("%w: passphrase length must be at least %d", ErrInvalidInput, MinGeneratedPassphraseLength)
	}

	out := make([]rune, 0, length)
	for _, class := range passphraseClasses {
		ch, err := util.RandomCharsFrom(c.rand, class, 1)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrEncryption, err)
		}
		out = append(out, []rune(ch)...)
	}

	rest, err := util.RandomCharsFrom(c.rand, passphraseAlphabet, length-len(out))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	out = append(out, []rune(rest)...)

	if err := util.ShuffleRunesFrom(c.rand, out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return string(out), nil
}

// FormatGroups splits p into space-separated groups of size runes for
// display. The spaces are not part of the passphrase.
func FormatGroups(p string, size int) string {
	runes := []rune(p)
	if size <= 0 || len(runes) <= size {
		return p
	}
	var sb strings.Builder
	for i, r := range runes {
		if i > 0 && i%size == 0 {
			sb.WriteByte(' ')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
