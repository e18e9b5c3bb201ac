package apikey

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates metadata, secret or passphrase that fails
	// validation before any cryptography runs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidPassphrase indicates a stored key could not be decrypted with
	// the supplied passphrase. It deliberately covers both a wrong passphrase
	// and a corrupted bundle.
	ErrInvalidPassphrase = errors.New("invalid passphrase")
	// ErrNotFound indicates the key does not exist in the workspace.
	ErrNotFound = errors.New("api key not found")
	// ErrConflict indicates a concurrent modification won the race.
	ErrConflict = errors.New("api key modified concurrently")
)

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
