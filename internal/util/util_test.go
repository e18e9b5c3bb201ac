package util

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy source unavailable")
}

func TestAES(t *testing.T) {
	key, _ := RandomBytes(AESKeySize)
	nonce, _ := RandomBytes(AESNonceSize)
	plainText := []byte("hello world")
	aad := []byte("context")

	t.Run("SealOpenWithAAD", func(t *testing.T) {
		cipherText, err := SealAES(plainText, key, nonce, aad)
		if err != nil {
			t.Fatalf("SealAES failed: %v", err)
		}
		if len(cipherText) != len(plainText)+AESTagSize {
			t.Errorf("expected %d bytes, got %d", len(plainText)+AESTagSize, len(cipherText))
		}

		decrypted, err := OpenAES(cipherText, key, nonce, aad)
		if err != nil {
			t.Fatalf("OpenAES failed: %v", err)
		}
		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := SealAES(plainText, key, nonce, aad)
		_, err := OpenAES(cipherText, key, nonce, []byte("wrong context"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		cipherText, _ := SealAES(plainText, key, nonce, aad)
		cipherText[len(cipherText)-1] ^= 0xFF
		_, err := OpenAES(cipherText, key, nonce, aad)
		if err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("ShortCipherText", func(t *testing.T) {
		_, err := OpenAES([]byte("short"), key, nonce, aad)
		if err == nil {
			t.Error("expected error for ciphertext shorter than tag")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, err := SealAES(plainText, []byte("too short"), nonce, aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("RejectBadNonceSize", func(t *testing.T) {
		_, err := SealAES(plainText, key, []byte("nonce"), aad)
		if err == nil {
			t.Error("expected error with wrong nonce size, got nil")
		}
	})
}

func TestArgon2id(t *testing.T) {
	params, err := Argon2idProfile(KDFProfileInteractive)
	if err != nil {
		t.Fatalf("Argon2idProfile failed: %v", err)
	}
	salt := []byte("random salt 1234")

	key, err := DeriveArgon2idKey("correct horse battery staple", salt, params)
	if err != nil {
		t.Fatalf("DeriveArgon2idKey failed: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected key length 32, got %d", len(key))
	}

	again, _ := DeriveArgon2idKey("correct horse battery staple", salt, params)
	if !bytes.Equal(key, again) {
		t.Error("DeriveArgon2idKey should be deterministic")
	}

	other, _ := DeriveArgon2idKey("wrong passphrase", salt, params)
	if bytes.Equal(key, other) {
		t.Error("different passphrases should derive different keys")
	}

	otherSalt, _ := DeriveArgon2idKey("correct horse battery staple", []byte("another salt 123"), params)
	if bytes.Equal(key, otherSalt) {
		t.Error("different salts should derive different keys")
	}

	t.Run("NormalizedInput", func(t *testing.T) {
		composed, _ := DeriveArgon2idKey("caf\u00e9-passphrase", salt, params)
		decomposed, _ := DeriveArgon2idKey("cafe\u0301-passphrase", salt, params)
		if !bytes.Equal(composed, decomposed) {
			t.Error("canonically equivalent passphrases should derive the same key")
		}
	})

	t.Run("EmptySalt", func(t *testing.T) {
		if _, err := DeriveArgon2idKey("passphrase", nil, params); err == nil {
			t.Error("expected error for empty salt")
		}
	})
}

func TestArgon2idProfile_AllProfiles(t *testing.T) {
	profiles := []struct {
		name      string
		minTime   uint32
		minMemKiB uint32
	}{
		{KDFProfileInteractive, 2, 19 * 1024},
		{KDFProfileModerate, 3, 64 * 1024},
		{KDFProfileSensitive, 4, 128 * 1024},
	}

	for _, tc := range profiles {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Argon2idProfile(tc.name)
			if err != nil {
				t.Fatalf("Argon2idProfile(%q) failed: %v", tc.name, err)
			}
			if p.Time < tc.minTime {
				t.Errorf("profile %q: Time=%d, want at least %d", tc.name, p.Time, tc.minTime)
			}
			if p.MemoryKiB < tc.minMemKiB {
				t.Errorf("profile %q: MemoryKiB=%d, want at least %d", tc.name, p.MemoryKiB, tc.minMemKiB)
			}
			if err := ValidateArgon2idParams(p); err != nil {
				t.Errorf("profile %q failed validation: %v", tc.name, err)
			}
		})
	}

	if _, err := Argon2idProfile("nonexistent"); err == nil {
		t.Error("expected error for unknown profile")
	}

	if DefaultArgon2idParams().MemoryKiB != 64*1024 {
		t.Error("default params should be the moderate profile")
	}
}

func TestValidateArgon2idParams(t *testing.T) {
	base := DefaultArgon2idParams()
	tests := []struct {
		name   string
		mutate func(p *Argon2idParams)
	}{
		{"KeyLenNot32", func(p *Argon2idParams) { p.KeyLen = 16 }},
		{"ZeroTime", func(p *Argon2idParams) { p.Time = 0 }},
		{"LowMemory", func(p *Argon2idParams) { p.MemoryKiB = 1024 }},
		{"ZeroParallelism", func(p *Argon2idParams) { p.Parallelism = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			if err := ValidateArgon2idParams(p); err == nil {
				t.Errorf("expected validation error for %+v", p)
			}
		})
	}
}

func TestBytes(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03}
	copied := CopyBytes(a)
	if !bytes.Equal(copied, a) {
		t.Error("CopyBytes failed")
	}
	copied[0] = 0xFF
	if a[0] == 0xFF {
		t.Error("CopyBytes should return a new slice")
	}
	if CopyBytes(nil) != nil {
		t.Error("CopyBytes(nil) should be nil")
	}

	WipeBytes(copied)
	if !bytes.Equal(copied, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes left %v", copied)
	}
}

func TestEncoding(t *testing.T) {
	s := []byte("test string \x00\xff")
	encoded := TextEncode(s)
	decoded, err := TextDecode(encoded)
	if err != nil {
		t.Fatalf("TextDecode failed: %v", err)
	}
	if !bytes.Equal(decoded, s) {
		t.Errorf("expected %v, got %v", s, decoded)
	}

	if _, err := TextDecode("not base64!"); err == nil {
		t.Error("expected error for invalid characters")
	}

	// "AB" carries 12 bits for one byte; the trailing 4 bits must be zero.
	if _, err := TextDecode("AB"); err == nil {
		t.Error("strict decoding should reject non-zero trailing bits")
	}

	normalized := Normalize("caf\u00e9")
	if normalized != "cafe\u0301" {
		t.Errorf("Normalize failed, got %q", normalized)
	}
}

func TestRandom(t *testing.T) {
	t.Run("RandomBytes", func(t *testing.T) {
		b1, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		b2, _ := RandomBytes(32)
		if len(b1) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(b1))
		}
		if bytes.Equal(b1, b2) {
			t.Error("RandomBytes should produce different outputs")
		}
	})

	t.Run("RandomBytesFailingReader", func(t *testing.T) {
		if _, err := RandomBytesFrom(failingReader{}, 16); err == nil {
			t.Error("expected error from failing reader")
		}
	})

	t.Run("RandomIntn", func(t *testing.T) {
		max := 100
		for i := 0; i < 100; i++ {
			n, err := RandomIntn(max)
			if err != nil {
				t.Fatalf("RandomIntn failed: %v", err)
			}
			if n < 0 || n >= max {
				t.Errorf("RandomIntn(%d) returned %d out of range", max, n)
			}
		}
		if _, err := RandomIntn(0); err == nil {
			t.Error("expected error for zero bound")
		}
	})

	t.Run("RandomCharsFrom", func(t *testing.T) {
		alphabet := []rune("abc")
		s, err := RandomCharsFrom(rand.Reader, alphabet, 50)
		if err != nil {
			t.Fatalf("RandomCharsFrom failed: %v", err)
		}
		if len(s) != 50 {
			t.Errorf("expected length 50, got %d", len(s))
		}
		for _, r := range s {
			if r != 'a' && r != 'b' && r != 'c' {
				t.Fatalf("unexpected rune %q", r)
			}
		}
	})

	t.Run("ShuffleRunesFrom", func(t *testing.T) {
		s := []rune("abcdefghijklmnop")
		if err := ShuffleRunesFrom(rand.Reader, s); err != nil {
			t.Fatalf("ShuffleRunesFrom failed: %v", err)
		}
		seen := map[rune]bool{}
		for _, r := range s {
			seen[r] = true
		}
		if len(seen) != 16 {
			t.Errorf("shuffle lost elements: %q", string(s))
		}
	})
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("GenerateSelfSignedCert: %v", err)
	}
	if cert.Leaf == nil || len(cert.Certificate) != 1 {
		t.Fatal("expected a single parsed leaf certificate")
	}
	if err := cert.Leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("VerifyHostname(localhost): %v", err)
	}
	if err := cert.Leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("VerifyHostname(127.0.0.1): %v", err)
	}
	if cert.Leaf.NotAfter.Before(cert.Leaf.NotBefore.Add(SelfSignedValidity)) {
		t.Error("certificate validity shorter than SelfSignedValidity")
	}
}
