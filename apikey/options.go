package apikey

import (
	"log/slog"
	"time"

	"github.com/keynest/keynest/secretcipher"
)

// Option configures a Workspace.
type Option func(*Workspace)

// WithCipher sets the cipher used for new bundles. Defaults to
// secretcipher.New().
func WithCipher(c *secretcipher.Cipher) Option {
	return func(w *Workspace) {
		w.cipher = c
	}
}

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(w *Workspace) {
		w.now = now
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workspace) {
		w.logger = logger
	}
}

// WithProfileUpgrade controls whether Reveal re-encrypts bundles protected by
// a weaker KDF profile than the workspace cipher's. Disabled by default:
// Reveal then never writes to the repository.
func WithProfileUpgrade(enabled bool) Option {
	return func(w *Workspace) {
		w.upgradeProfiles = enabled
	}
}
