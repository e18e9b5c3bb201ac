package apikey

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/keynest/keynest/internal/uuid"
	"github.com/keynest/keynest/secretcipher"
	"github.com/keynest/keynest/storage"
)

// Workspace is a handle on the API keys of one workspace.
type Workspace struct {
	id              string
	repo            storage.Repository
	cipher          *secretcipher.Cipher
	now             func() time.Time
	logger          *slog.Logger
	upgradeProfiles bool
}

// New creates a Workspace handle for the given workspace ID and storage
// backend. The workspace itself has no persisted state beyond its keys.
func New(workspaceID string, repo storage.Repository, opts ...Option) *Workspace {
	w := &Workspace{
		id:              workspaceID,
		repo:            repo,
		cipher:          secretcipher.New(),
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "apikey", "workspace_id", workspaceID)
	return w
}

// ID returns the workspace identifier.
func (w *Workspace) ID() string {
	return w.id
}

// Create encrypts in.Secret under in.Passphrase and persists a new key.
func (w *Workspace) Create(ctx context.Context, in CreateInput) (*Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(w.id, "workspace ID"); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	bundle, err := w.cipher.Encrypt(in.Secret, in.Passphrase)
	if err != nil {
		return nil, w.cipherError(err)
	}

	now := w.now().UTC()
	rec := &storage.Record{
		ID:          uuid.New(),
		WorkspaceID: w.id,
		Name:        in.Name,
		Environment: string(in.Environment),
		Tags:        slices.Clone(in.Tags),
		Key:         bundle,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if err := w.repo.PutCAS(ctx, rec, 0); err != nil {
		return nil, w.storageError(err, rec.ID)
	}

	w.logger.InfoContext(ctx, "api key created",
		slog.String("key_id", rec.ID),
		slog.String("environment", rec.Environment),
		slog.String("kdf_profile", w.cipher.Profile().String()),
	)
	return toKey(rec), nil
}

// Get returns the metadata of a key.
func (w *Workspace) Get(ctx context.Context, keyID string) (*Key, error) {
	rec, err := w.load(ctx, keyID)
	if err != nil {
		return nil, err
	}
	return toKey(rec), nil
}

// List returns the metadata of every key in the workspace, sorted by name.
func (w *Workspace) List(ctx context.Context) ([]*Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(w.id, "workspace ID"); err != nil {
		return nil, err
	}
	recs, err := w.repo.List(ctx, w.id)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	keys := make([]*Key, 0, len(recs))
	for _, rec := range recs {
		keys = append(keys, toKey(rec))
	}
	slices.SortFunc(keys, func(a, b *Key) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return keys, nil
}

// Reveal decrypts a stored key. A wrong passphrase and a corrupted bundle
// both yield ErrInvalidPassphrase; the underlying secretcipher error stays
// reachable through errors.Is.
func (w *Workspace) Reveal(ctx context.Context, keyID, passphrase string) (string, error) {
	rec, err := w.load(ctx, keyID)
	if err != nil {
		return "", err
	}
	secret, err := w.open(ctx, rec, passphrase)
	if err != nil {
		return "", err
	}
	w.logger.InfoContext(ctx, "api key revealed", slog.String("key_id", keyID))
	w.upgradeProfile(ctx, rec, secret, passphrase)
	return secret, nil
}

// Rotate replaces the secret of a key. The current passphrase must decrypt
// the existing bundle and protects the new one.
func (w *Workspace) Rotate(ctx context.Context, keyID, newSecret, passphrase string) (*Key, error) {
	if err := validateSecret(newSecret); err != nil {
		return nil, err
	}
	rec, err := w.load(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if _, err := w.open(ctx, rec, passphrase); err != nil {
		return nil, err
	}
	bundle, err := w.cipher.Encrypt(newSecret, passphrase)
	if err != nil {
		return nil, w.cipherError(err)
	}
	next, err := w.replace(ctx, rec, func(r *storage.Record) { r.Key = bundle })
	if err != nil {
		return nil, err
	}
	w.logger.InfoContext(ctx, "api key rotated", slog.String("key_id", keyID), slog.Uint64("version", next.Version))
	return toKey(next), nil
}

// ChangePassphrase re-encrypts the secret of a key under a new passphrase.
func (w *Workspace) ChangePassphrase(ctx context.Context, keyID, oldPassphrase, newPassphrase string) (*Key, error) {
	if err := validatePassphrase(newPassphrase); err != nil {
		return nil, err
	}
	rec, err := w.load(ctx, keyID)
	if err != nil {
		return nil, err
	}
	secret, err := w.open(ctx, rec, oldPassphrase)
	if err != nil {
		return nil, err
	}
	bundle, err := w.cipher.Encrypt(secret, newPassphrase)
	if err != nil {
		return nil, w.cipherError(err)
	}
	next, err := w.replace(ctx, rec, func(r *storage.Record) { r.Key = bundle })
	if err != nil {
		return nil, err
	}
	w.logger.InfoContext(ctx, "api key passphrase changed", slog.String("key_id", keyID))
	return toKey(next), nil
}

// Update changes the metadata of a key. The bundle is untouched.
func (w *Workspace) Update(ctx context.Context, keyID string, in UpdateInput) (*Key, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	rec, err := w.load(ctx, keyID)
	if err != nil {
		return nil, err
	}
	next, err := w.replace(ctx, rec, func(r *storage.Record) {
		if in.Name != nil {
			r.Name = *in.Name
		}
		if in.Environment != nil {
			r.Environment = string(*in.Environment)
		}
		if in.Tags != nil {
			r.Tags = slices.Clone(*in.Tags)
		}
	})
	if err != nil {
		return nil, err
	}
	w.logger.InfoContext(ctx, "api key updated", slog.String("key_id", keyID))
	return toKey(next), nil
}

// Delete removes a key and its bundle.
func (w *Workspace) Delete(ctx context.Context, keyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(keyID, "key ID"); err != nil {
		return err
	}
	if err := w.repo.Delete(ctx, w.id, keyID); err != nil {
		return w.storageError(err, keyID)
	}
	w.logger.InfoContext(ctx, "api key deleted", slog.String("key_id", keyID))
	return nil
}

// Destroy removes every key in the workspace.
func (w *Workspace) Destroy(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateID(w.id, "workspace ID"); err != nil {
		return err
	}
	if err := w.repo.DeleteWorkspace(ctx, w.id); err != nil {
		if errors.Is(err, storage.ErrWorkspaceNotFound) {
			return fmt.Errorf("%w: workspace %s", ErrNotFound, w.id)
		}
		return fmt.Errorf("deleting workspace: %w", err)
	}
	w.logger.InfoContext(ctx, "workspace destroyed")
	return nil
}

// SuggestPassphrase returns a freshly generated passphrase suggestion.
func (w *Workspace) SuggestPassphrase() (string, error) {
	p, err := w.cipher.GeneratePassphrase(secretcipher.DefaultPassphraseLength)
	if err != nil {
		return "", w.cipherError(err)
	}
	return p, nil
}

func (w *Workspace) load(ctx context.Context, keyID string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateID(w.id, "workspace ID"); err != nil {
		return nil, err
	}
	if err := validateID(keyID, "key ID"); err != nil {
		return nil, err
	}
	rec, err := w.repo.Get(ctx, w.id, keyID)
	if err != nil {
		return nil, w.storageError(err, keyID)
	}
	return rec, nil
}

func (w *Workspace) open(ctx context.Context, rec *storage.Record, passphrase string) (string, error) {
	secret, err := w.cipher.Decrypt(rec.Key, passphrase)
	if err == nil {
		return secret, nil
	}
	if errors.Is(err, secretcipher.ErrDecryption) || errors.Is(err, secretcipher.ErrMalformedBundle) {
		w.logger.WarnContext(ctx, "api key decryption failed",
			slog.String("key_id", rec.ID),
			slog.Bool("malformed", errors.Is(err, secretcipher.ErrMalformedBundle)),
		)
		return "", fmt.Errorf("%w: %w", ErrInvalidPassphrase, err)
	}
	return "", w.cipherError(err)
}

// replace writes a modified copy of rec with the next version. The stored
// record is never mutated in place.
func (w *Workspace) replace(ctx context.Context, rec *storage.Record, mutate func(*storage.Record)) (*storage.Record, error) {
	next := rec.Clone()
	mutate(next)
	next.Version = rec.Version + 1
	next.UpdatedAt = w.now().UTC()
	if err := w.repo.PutCAS(ctx, next, rec.Version); err != nil {
		return nil, w.storageError(err, rec.ID)
	}
	return next, nil
}

// upgradeProfile re-encrypts a bundle protected by a weaker KDF profile than
// the workspace cipher's. Failures are logged and otherwise ignored; the old
// bundle remains valid.
func (w *Workspace) upgradeProfile(ctx context.Context, rec *storage.Record, secret, passphrase string) {
	if !w.upgradeProfiles {
		return
	}
	current, err := secretcipher.BundleProfile(rec.Key)
	if err != nil || current >= w.cipher.Profile() {
		return
	}
	bundle, err := w.cipher.Encrypt(secret, passphrase)
	if err != nil {
		w.logger.WarnContext(ctx, "kdf profile upgrade failed", slog.String("key_id", rec.ID), slog.Any("error", err))
		return
	}
	if _, err := w.replace(ctx, rec, func(r *storage.Record) { r.Key = bundle }); err != nil {
		w.logger.WarnContext(ctx, "kdf profile upgrade failed", slog.String("key_id", rec.ID), slog.Any("error", err))
		return
	}
	w.logger.InfoContext(ctx, "kdf profile upgraded",
		slog.String("key_id", rec.ID),
		slog.String("from", current.String()),
		slog.String("to", w.cipher.Profile().String()),
	)
}

func (w *Workspace) storageError(err error, keyID string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrWorkspaceNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, keyID)
	case errors.Is(err, storage.ErrCASFailed):
		return fmt.Errorf("%w: %s", ErrConflict, keyID)
	case errors.Is(err, storage.ErrInvalidRecord):
		return fmt.Errorf("%w: %s", ErrInvalidInput, err)
	default:
		return fmt.Errorf("storage: %w", err)
	}
}

func (w *Workspace) cipherError(err error) error {
	if errors.Is(err, secretcipher.ErrInvalidInput) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return err
}

func toKey(rec *storage.Record) *Key {
	profile, _ := secretcipher.BundleProfile(rec.Key)
	return &Key{
		ID:          rec.ID,
		WorkspaceID: rec.WorkspaceID,
		Name:        rec.Name,
		Environment: Environment(rec.Environment),
		Tags:        slices.Clone(rec.Tags),
		CreatedBy:   rec.CreatedBy,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		Version:     rec.Version,
		Profile:     profile,
	}
}
