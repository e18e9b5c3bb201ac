package secretcipher

import (
	"fmt"

	"github.com/keynest/keynest/internal/util"
)

// Profile selects the Argon2id cost used to derive a bundle key. Its byte
// value is recorded in every bundle so decryption re-derives with the same
// parameters.
type Profile byte

const (
	ProfileInteractive Profile = 1 // sub-second, dev/testing
	ProfileModerate    Profile = 2 // default
	ProfileSensitive   Profile = 3 // high-value secrets
)

// DefaultProfile is used for new bundles unless WithProfile overrides it.
const DefaultProfile = ProfileModerate

var profileNames = map[Profile]string{
	ProfileInteractive: util.KDFProfileInteractive,
	ProfileModerate:    util.KDFProfileModerate,
	ProfileSensitive:   util.KDFProfileSensitive,
}

// ParseProfile maps a profile name ("interactive", "moderate", "sensitive")
// to its Profile.
func ParseProfile(name string) (Profile, error) {
	for p, n := range profileNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown KDF profile %q", ErrInvalidInput, name)
}

func (p Profile) String() string {
	if n, ok := profileNames[p]; ok {
		return n
	}
	return fmt.Sprintf("profile(%d)", byte(p))
}

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	_, ok := profileNames[p]
	return ok
}

// Params returns the Argon2id parameters for p.
func (p Profile) Params() (util.Argon2idParams, error) {
	name, ok := profileNames[p]
	if !ok {
		return util.Argon2idParams{}, fmt.Errorf("unknown KDF profile %d", byte(p))
	}
	return util.Argon2idProfile(name)
}
