package util

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

// Named KDF profiles, ordered by cost.
const (
	KDFProfileInteractive = "interactive"
	KDFProfileModerate    = "moderate"
	KDFProfileSensitive   = "sensitive"
)

// Lower bounds below which a derived key is not considered passphrase-safe.
const (
	minArgon2Time      = 1
	minArgon2MemoryKiB = 19 * 1024
)

func DefaultArgon2idParams() Argon2idParams {
	p, _ := Argon2idProfile(KDFProfileModerate)
	return p
}

// Argon2idProfile returns the parameters for a named profile.
func Argon2idProfile(name string) (Argon2idParams, error) {
	switch name {
	case KDFProfileInteractive:
		return Argon2idParams{Time: 2, MemoryKiB: 19 * 1024, Parallelism: 1, KeyLen: 32}, nil
	case KDFProfileModerate:
		return Argon2idParams{Time: 3, MemoryKiB: 64 * 1024, Parallelism: 4, KeyLen: 32}, nil
	case KDFProfileSensitive:
		return Argon2idParams{Time: 4, MemoryKiB: 128 * 1024, Parallelism: 4, KeyLen: 32}, nil
	default:
		return Argon2idParams{}, fmt.Errorf("unknown KDF profile %q", name)
	}
}

func ValidateArgon2idParams(p Argon2idParams) error {
	if p.KeyLen != AESKeySize {
		return fmt.Errorf("argon2id key length must be %d bytes", AESKeySize)
	}
	if p.Time < minArgon2Time {
		return fmt.Errorf("argon2id time must be at least %d", minArgon2Time)
	}
	if p.MemoryKiB < minArgon2MemoryKiB {
		return fmt.Errorf("argon2id memory must be at least %d KiB", minArgon2MemoryKiB)
	}
	if p.Parallelism < 1 {
		return fmt.Errorf("argon2id parallelism must be at least 1")
	}
	return nil
}

// DeriveArgon2idKey stretches passphrase with salt. The passphrase is
// normalised first so equivalent Unicode input derives the same key.
func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if err := ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("argon2id salt must not be empty")
	}
	pass := []byte(Normalize(passphrase))
	defer WipeBytes(pass)
	return argon2.IDKey(pass, salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen), nil
}
