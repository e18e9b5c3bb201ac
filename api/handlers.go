package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keynest/keynest/apikey"
	"github.com/keynest/keynest/internal/metrics"
	"github.com/keynest/keynest/secretcipher"
)

// Cipher operation names used as metric labels.
const (
	opEncrypt  = "encrypt"
	opDecrypt  = "decrypt"
	opGenerate = "generate"
)

// maxSuggestedLength bounds the length query parameter of GET /passphrase.
const maxSuggestedLength = 128

// observe records the outcome and latency of a cipher-backed call.
func (a *API) observe(ctx context.Context, op string, start time.Time, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	a.metrics.RecordOperation(ctx, op, result)
	a.metrics.RecordDuration(ctx, op, time.Since(start))
}

// SuggestPassphrase handles GET /passphrase.
func (a *API) SuggestPassphrase(w http.ResponseWriter, r *http.Request) {
	length := secretcipher.DefaultPassphraseLength
	if raw := r.URL.Query().Get("length"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n > maxSuggestedLength {
			writeError(w, http.StatusBadRequest, "length must be an integer between 16 and 128")
			return
		}
		length = n
	}

	start := time.Now()
	p, err := a.cipher.GeneratePassphrase(length)
	a.observe(r.Context(), opGenerate, start, err)
	if err != nil {
		if errors.Is(err, secretcipher.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "length must be an integer between 16 and 128")
			return
		}
		a.mapError(w, r, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, PassphraseResponse{Passphrase: p})
}

// CreateKey handles POST /workspaces/{workspaceID}/keys.
func (a *API) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	ws := a.workspace(r)
	start := time.Now()
	key, err := ws.Create(r.Context(), apikey.CreateInput{
		Name:        req.Name,
		Environment: apikey.Environment(req.Environment),
		Tags:        req.Tags,
		Secret:      req.Secret,
		Passphrase:  req.Passphrase,
		CreatedBy:   req.CreatedBy,
	})
	if !errors.Is(err, apikey.ErrInvalidInput) {
		a.observe(r.Context(), opEncrypt, start, err)
	}
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.logKey(AuditKeyCreated, r, ws.ID(), key.ID,
		slog.String("environment", string(key.Environment)))
	writeJSON(w, http.StatusCreated, keyResponse(key))
}

// ListKeys handles GET /workspaces/{workspaceID}/keys.
func (a *API) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := a.workspace(r).List(r.Context())
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	q := r.URL.Query()
	env, tag := q.Get("environment"), q.Get("tag")
	filtered := keys[:0]
	for _, k := range keys {
		if env != "" && string(k.Environment) != env {
			continue
		}
		if tag != "" && !slices.Contains(k.Tags, tag) {
			continue
		}
		filtered = append(filtered, k)
	}

	limit, offset := parsePagination(r)
	page, meta := paginate(filtered, limit, offset)
	resp := ListKeysResponse{Keys: make([]KeyResponse, 0, len(page)), PaginationMeta: meta}
	for _, k := range page {
		resp.Keys = append(resp.Keys, keyResponse(k))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetKey handles GET /workspaces/{workspaceID}/keys/{keyID}.
func (a *API) GetKey(w http.ResponseWriter, r *http.Request) {
	key, err := a.workspace(r).Get(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keyResponse(key))
}

// UpdateKey handles PATCH /workspaces/{workspaceID}/keys/{keyID}.
func (a *API) UpdateKey(w http.ResponseWriter, r *http.Request) {
	var req UpdateKeyRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	in := apikey.UpdateInput{Name: req.Name, Tags: req.Tags}
	if req.Environment != nil {
		env := apikey.Environment(*req.Environment)
		in.Environment = &env
	}

	ws := a.workspace(r)
	key, err := ws.Update(r.Context(), chi.URLParam(r, "keyID"), in)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logKey(AuditKeyUpdated, r, ws.ID(), key.ID)
	writeJSON(w, http.StatusOK, keyResponse(key))
}

// DeleteKey handles DELETE /workspaces/{workspaceID}/keys/{keyID}.
func (a *API) DeleteKey(w http.ResponseWriter, r *http.Request) {
	ws := a.workspace(r)
	keyID := chi.URLParam(r, "keyID")
	if err := ws.Delete(r.Context(), keyID); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.revealLimiter.recordSuccess(revealLimiterKey(ws.ID(), keyID))
	a.audit.logKey(AuditKeyDeleted, r, ws.ID(), keyID)
	w.WriteHeader(http.StatusNoContent)
}

// RevealKey handles POST /workspaces/{workspaceID}/keys/{keyID}/reveal.
func (a *API) RevealKey(w http.ResponseWriter, r *http.Request) {
	var req RevealKeyRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	ws := a.workspace(r)
	keyID := chi.URLParam(r, "keyID")
	if !a.checkRevealLock(w, r, ws.ID(), keyID) {
		return
	}
	defer a.releaseRevealLock(ws.ID(), keyID)

	start := time.Now()
	secret, err := ws.Reveal(r.Context(), keyID, req.Passphrase)
	a.observeDecrypt(r.Context(), start, err)
	if err != nil {
		a.recordRevealFailure(r, ws.ID(), keyID, err)
		a.mapError(w, r, err)
		return
	}

	a.revealLimiter.recordSuccess(revealLimiterKey(ws.ID(), keyID))
	a.audit.logKey(AuditKeyRevealed, r, ws.ID(), keyID)
	noStore(w)
	writeJSON(w, http.StatusOK, RevealKeyResponse{Secret: secret})
}

// RotateKey handles POST /workspaces/{workspaceID}/keys/{keyID}/rotate.
func (a *API) RotateKey(w http.ResponseWriter, r *http.Request) {
	var req RotateKeyRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	ws := a.workspace(r)
	keyID := chi.URLParam(r, "keyID")
	if !a.checkRevealLock(w, r, ws.ID(), keyID) {
		return
	}
	defer a.releaseRevealLock(ws.ID(), keyID)

	start := time.Now()
	key, err := ws.Rotate(r.Context(), keyID, req.Secret, req.Passphrase)
	a.observeDecrypt(r.Context(), start, err)
	if err != nil {
		a.recordRevealFailure(r, ws.ID(), keyID, err)
		a.mapError(w, r, err)
		return
	}

	a.revealLimiter.recordSuccess(revealLimiterKey(ws.ID(), keyID))
	a.audit.logKey(AuditKeyRotated, r, ws.ID(), keyID, slog.Uint64("version", key.Version))
	writeJSON(w, http.StatusOK, keyResponse(key))
}

// ChangePassphrase handles POST /workspaces/{workspaceID}/keys/{keyID}/passphrase.
func (a *API) ChangePassphrase(w http.ResponseWriter, r *http.Request) {
	var req ChangePassphraseRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}

	ws := a.workspace(r)
	keyID := chi.URLParam(r, "keyID")
	if !a.checkRevealLock(w, r, ws.ID(), keyID) {
		return
	}
	defer a.releaseRevealLock(ws.ID(), keyID)

	start := time.Now()
	key, err := ws.ChangePassphrase(r.Context(), keyID, req.OldPassphrase, req.NewPassphrase)
	a.observeDecrypt(r.Context(), start, err)
	if err != nil {
		a.recordRevealFailure(r, ws.ID(), keyID, err)
		a.mapError(w, r, err)
		return
	}

	a.revealLimiter.recordSuccess(revealLimiterKey(ws.ID(), keyID))
	a.audit.logKey(AuditPassphraseChanged, r, ws.ID(), keyID)
	writeJSON(w, http.StatusOK, keyResponse(key))
}

// DeleteWorkspace handles DELETE /workspaces/{workspaceID}.
func (a *API) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	ws := a.workspace(r)
	if err := ws.Destroy(r.Context()); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.revealLimiter.forget(ws.ID())
	a.audit.log(AuditWorkspaceDestroyed, r, slog.String("workspace_id", ws.ID()))
	w.WriteHeader(http.StatusNoContent)
}

// checkRevealLock reserves a passphrase attempt on keyID. It writes a 429
// and returns false when the key is locked out or its attempt budget is
// taken by concurrent requests. On true the caller must defer
// releaseRevealLock.
func (a *API) checkRevealLock(w http.ResponseWriter, r *http.Request, workspaceID, keyID string) bool {
	ok, retryAfter := a.revealLimiter.acquire(revealLimiterKey(workspaceID, keyID))
	if ok {
		return true
	}
	a.audit.logKey(AuditKeyRevealLocked, r, workspaceID, keyID)
	writeRateLimited(w, retryAfter, "too many failed passphrase attempts; try again later")
	return false
}

func (a *API) releaseRevealLock(workspaceID, keyID string) {
	a.revealLimiter.release(revealLimiterKey(workspaceID, keyID))
}

func (a *API) recordRevealFailure(r *http.Request, workspaceID, keyID string, err error) {
	if !errors.Is(err, apikey.ErrInvalidPassphrase) {
		return
	}
	a.revealLimiter.recordFailure(revealLimiterKey(workspaceID, keyID))
	a.audit.logKey(AuditKeyRevealFailure, r, workspaceID, keyID)
}

// observeDecrypt records calls that reached the cipher. Validation and
// lookup failures never ran a key derivation and are not counted.
func (a *API) observeDecrypt(ctx context.Context, start time.Time, err error) {
	if err != nil && !errors.Is(err, apikey.ErrInvalidPassphrase) {
		return
	}
	a.observe(ctx, opDecrypt, start, err)
}
