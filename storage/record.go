package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Record is the persisted form of an API key. Key holds the encrypted bundle,
// never the plaintext secret.
type Record struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Environment string    `json:"environment"`
	Tags        []string  `json:"tags,omitempty"`
	Key         string    `json:"key"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     uint64    `json:"version"`
}

// Validate checks the structural invariants every backend relies on.
func (r *Record) Validate() error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case r.WorkspaceID == "":
		return fmt.Errorf("%w: %s: missing workspace_id", ErrInvalidRecord, r.ID)
	case r.Name == "":
		return fmt.Errorf("%w: %s: missing name", ErrInvalidRecord, r.ID)
	case r.Key == "":
		return fmt.Errorf("%w: %s: missing key", ErrInvalidRecord, r.ID)
	case r.Version == 0:
		return fmt.Errorf("%w: %s: version must be positive", ErrInvalidRecord, r.ID)
	case r.CreatedAt.IsZero():
		return fmt.Errorf("%w: %s: missing created_at", ErrInvalidRecord, r.ID)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Tags = slices.Clone(r.Tags)
	return &cp
}

// EncodeRecord validates rec and serialises it to JSON.
func EncodeRecord(rec *Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// DecodeRecord parses a stored document. Unknown fields, trailing data and
// missing required fields are rejected rather than passed through.
func DecodeRecord(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidRecord)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
