package secretcipher

import "errors"

var (
	// ErrInvalidInput indicates an empty secret or a passphrase that is too
	// short. Callers should re-prompt before touching the cipher again.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEncryption indicates the random source or cipher primitive failed.
	ErrEncryption = errors.New("encryption failed")
	// ErrMalformedBundle indicates a stored string that cannot be unpacked
	// into header, salt, nonce and ciphertext.
	ErrMalformedBundle = errors.New("malformed bundle")
	// ErrDecryption indicates the authentication tag did not verify: a wrong
	// passphrase or a tampered bundle. The two causes are not distinguished.
	ErrDecryption = errors.New("decryption failed")
)
