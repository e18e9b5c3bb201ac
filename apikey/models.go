// Package apikey manages passphrase-protected API keys within a workspace.
//
// A Workspace handle ties a workspace ID to a storage.Repository and a
// secretcipher.Cipher. Plaintext secrets and passphrases only pass through
// its methods; what reaches storage is the encrypted bundle.
package apikey

import (
	"time"

	"github.com/keynest/keynest/secretcipher"
)

// Environment is the deployment stage an API key belongs to.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Limits on key metadata.
const (
	MaxIDLength   = 128
	MaxNameLength = 100
	MaxTagCount   = 10
	MaxTagLength  = 32
	MaxSecretSize = 8 * 1024
)

// MinPassphraseLength mirrors the cipher's minimum.
const MinPassphraseLength = secretcipher.MinPassphraseLength

// Key is the metadata view of a stored API key. It never carries the
// plaintext secret.
type Key struct {
	ID          string
	WorkspaceID string
	Name        string
	Environment Environment
	Tags        []string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     uint64
	// Profile is the KDF profile protecting the stored bundle, or zero when
	// the bundle header cannot be read.
	Profile secretcipher.Profile
}

// CreateInput describes a new API key.
type CreateInput struct {
	Name        string
	Environment Environment
	Tags        []string
	Secret      string
	Passphrase  string
	CreatedBy   string
}

// UpdateInput changes key metadata. Nil fields are left unchanged.
type UpdateInput struct {
	Name        *string
	Environment *Environment
	Tags        *[]string
}
