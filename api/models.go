package api

import (
	"time"

	"github.com/keynest/keynest/apikey"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

type PassphraseResponse struct {
	Passphrase string `json:"passphrase"`
}

type CreateKeyRequest struct {
	Name        string   `json:"name"`
	Environment string   `json:"environment"`
	Tags        []string `json:"tags,omitempty"`
	Secret      string   `json:"secret"`
	Passphrase  string   `json:"passphrase"`
	CreatedBy   string   `json:"created_by,omitempty"`
}

type UpdateKeyRequest struct {
	Name        *string   `json:"name,omitempty"`
	Environment *string   `json:"environment,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

type RevealKeyRequest struct {
	Passphrase string `json:"passphrase"`
}

type RevealKeyResponse struct {
	Secret string `json:"secret"`
}

type RotateKeyRequest struct {
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type ChangePassphraseRequest struct {
	OldPassphrase string `json:"old_passphrase"`
	NewPassphrase string `json:"new_passphrase"`
}

// KeyResponse is the metadata view of an API key. It never includes the
// secret or the encrypted bundle.
type KeyResponse struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Environment string    `json:"environment"`
	Tags        []string  `json:"tags"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     uint64    `json:"version"`
	KDFProfile  string    `json:"kdf_profile,omitempty"`
}

type ListKeysResponse struct {
	Keys []KeyResponse `json:"keys"`
	PaginationMeta
}

func keyResponse(k *apikey.Key) KeyResponse {
	resp := KeyResponse{
		ID:          k.ID,
		WorkspaceID: k.WorkspaceID,
		Name:        k.Name,
		Environment: string(k.Environment),
		Tags:        k.Tags,
		CreatedBy:   k.CreatedBy,
		CreatedAt:   k.CreatedAt,
		UpdatedAt:   k.UpdatedAt,
		Version:     k.Version,
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if k.Profile.Valid() {
		resp.KDFProfile = k.Profile.String()
	}
	return resp
}
