// Package storage provides the storage abstraction layer for API-key records.
//
// Every record belongs to exactly one workspace. Backends only persist what
// they are given: the secret inside a record is already an encrypted bundle
// and is treated as an opaque string.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist in its workspace.
	ErrNotFound = errors.New("record not found")
	// ErrWorkspaceNotFound is returned when a workspace has no records at all.
	ErrWorkspaceNotFound = errors.New("workspace not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
	// ErrInvalidRecord is returned when a stored or submitted document does
	// not decode into a well-formed Record.
	ErrInvalidRecord = errors.New("invalid record")
)

// Repository defines the interface for API-key record storage.
type Repository interface {
	// Put creates or replaces a record unconditionally.
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, workspaceID, recordID string) (*Record, error)
	List(ctx context.Context, workspaceID string) ([]*Record, error)
	// PutCAS writes rec only if the stored version equals expectedVersion.
	// An expectedVersion of 0 means the record must not exist yet.
	PutCAS(ctx context.Context, rec *Record, expectedVersion uint64) error
	Delete(ctx context.Context, workspaceID, recordID string) error
	// DeleteWorkspace removes every record of a workspace.
	DeleteWorkspace(ctx context.Context, workspaceID string) error
}
