package secretcipher

import (
	"fmt"

	"github.com/keynest/keynest/internal/util"
)

// Bundle layout, before text encoding:
//
//	version(1) | profile(1) | salt(16) | nonce(12) | ciphertext || tag(16)
const (
	bundleVersion byte = 1

	headerSize    = 2
	saltSize      = 16
	nonceSize     = util.AESNonceSize
	prefixSize    = headerSize + saltSize + nonceSize
	minBundleSize = prefixSize + util.AESTagSize + 1
)

type bundle struct {
	version    byte
	profile    Profile
	salt       []byte
	nonce      []byte
	ciphertext []byte
}

// aad binds the header to the ciphertext so the version and profile bytes
// cannot be swapped without failing authentication.
func (b *bundle) aad() []byte {
	return []byte{b.version, byte(b.profile)}
}

func (b *bundle) encode() string {
	raw := make([]byte, 0, prefixSize+len(b.ciphertext))
	raw = append(raw, b.version, byte(b.profile))
	raw = append(raw, b.salt...)
	raw = append(raw, b.nonce...)
	raw = append(raw, b.ciphertext...)
	return util.TextEncode(raw)
}

func parseBundle(s string) (*bundle, error) {
	raw, err := util.TextDecode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", ErrMalformedBundle)
	}
	if len(raw) < minBundleSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformedBundle, len(raw), minBundleSize)
	}
	if raw[0] != bundleVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedBundle, raw[0])
	}
	profile := Profile(raw[1])
	if !profile.Valid() {
		return nil, fmt.Errorf("%w: unknown KDF profile %d", ErrMalformedBundle, raw[1])
	}
	return &bundle{
		version:    raw[0],
		profile:    profile,
		salt:       raw[headerSize : headerSize+saltSize],
		nonce:      raw[headerSize+saltSize : prefixSize],
		ciphertext: raw[prefixSize:],
	}, nil
}

// BundleProfile reports which KDF profile protects a stored bundle without
// decrypting it. Callers use it to decide whether a bundle should be
// re-encrypted under a stronger profile.
func BundleProfile(s string) (Profile, error) {
	b, err := parseBundle(s)
	if err != nil {
		return 0, err
	}
	return b.profile, nil
}
