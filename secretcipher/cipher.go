// Package secretcipher protects short secrets such as API keys with a
// user-supplied passphrase.
//
// Encrypt derives a key from the passphrase and a fresh random salt with
// Argon2id, seals the secret with AES-256-GCM under a fresh nonce, and packs
// salt, nonce and ciphertext into one URL-safe string suitable for a single
// document field. Decrypt reverses the process given the same passphrase.
// The passphrase is never stored; a lost passphrase makes the bundle
// permanently unrecoverable.
//
// A Cipher holds configuration only. No key material survives a call, so a
// Cipher may be shared freely between goroutines.
package secretcipher

import (
	"crypto/rand"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/awnumar/memguard"

	"github.com/keynest/keynest/internal/util"
)

// MinPassphraseLength is the minimum number of characters accepted by Encrypt.
const MinPassphraseLength = 8

// Cipher encrypts and decrypts secret bundles.
type Cipher struct {
	profile Profile
	rand    io.Reader
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithProfile sets the KDF profile used for new bundles. Decrypt always uses
// the profile recorded in the bundle.
func WithProfile(p Profile) Option {
	return func(c *Cipher) {
		c.profile = p
	}
}

// WithRandom replaces the random source. It must be cryptographically secure;
// it exists so failure paths can be exercised.
func WithRandom(r io.Reader) Option {
	return func(c *Cipher) {
		c.rand = r
	}
}

// New returns a Cipher using DefaultProfile and crypto/rand.
func New(opts ...Option) *Cipher {
	c := &Cipher{
		profile: DefaultProfile,
		rand:    rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCipher = New()

// Encrypt seals secret under passphrase using the default Cipher.
func Encrypt(secret, passphrase string) (string, error) {
	return defaultCipher.Encrypt(secret, passphrase)
}

// Decrypt opens a bundle produced by Encrypt using the default Cipher.
func Decrypt(bundle, passphrase string) (string, error) {
	return defaultCipher.Decrypt(bundle, passphrase)
}

// Profile returns the KDF profile used for new bundles.
func (c *Cipher) Profile() Profile {
	return c.profile
}

// Encrypt seals secret under passphrase and returns the encoded bundle.
// Every call uses a fresh salt and nonce, so equal inputs never produce
// equal bundles.
func (c *Cipher) Encrypt(secret, passphrase string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: secret must not be empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(passphrase) < MinPassphraseLength {
		return "", fmt.Errorf("%w: passphrase must be at least %d characters", ErrInvalidInput, MinPassphraseLength)
	}
	params, err := c.profile.Params()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	salt, err := util.RandomBytesFrom(c.rand, saltSize)
	if err != nil {
		return "", fmt.Errorf("%w: salt: %v", ErrEncryption, err)
	}
	nonce, err := util.RandomBytesFrom(c.rand, nonceSize)
	if err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrEncryption, err)
	}

	key, err := deriveKey(passphrase, salt, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	defer key.Destroy()

	b := &bundle{
		version: bundleVersion,
		profile: c.profile,
		salt:    salt,
		nonce:   nonce,
	}

	plainText := []byte(secret)
	defer util.WipeBytes(plainText)

	b.ciphertext, err = util.SealAES(plainText, key.Bytes(), nonce, b.aad())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return b.encode(), nil
}

// Decrypt re-derives the key recorded by the bundle's salt and profile and
// authenticates the ciphertext. A wrong passphrase and a tampered bundle both
// yield ErrDecryption; an unparseable string yields ErrMalformedBundle.
func (c *Cipher) Decrypt(bundle, passphrase string) (string, error) {
	b, err := parseBundle(bundle)
	if err != nil {
		return "", err
	}
	params, err := b.profile.Params()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}

	key, err := deriveKey(passphrase, b.salt, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	defer key.Destroy()

	plainText, err := util.OpenAES(b.ciphertext, key.Bytes(), b.nonce, b.aad())
	if err != nil {
		return "", ErrDecryption
	}
	defer util.WipeBytes(plainText)

	return string(plainText), nil
}

// deriveKey moves the Argon2id output into a locked buffer; the caller must
// Destroy it.
func deriveKey(passphrase string, salt []byte, params util.Argon2idParams) (*memguard.LockedBuffer, error) {
	raw, err := util.DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return nil, err
	}
	// NewBufferFromBytes wipes raw after copying it.
	return memguard.NewBufferFromBytes(raw), nil
}
