// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/keynest/keynest/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Record
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Record)}
}

func (r *Repository) Put(ctx context.Context, rec *storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(rec)
	return nil
}

func (r *Repository) putLocked(rec *storage.Record) {
	if _, ok := r.data[rec.WorkspaceID]; !ok {
		r.data[rec.WorkspaceID] = make(map[string]*storage.Record)
	}
	r.data[rec.WorkspaceID][rec.ID] = rec.Clone()
}

func (r *Repository) Get(ctx context.Context, workspaceID, recordID string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, err := r.getLocked(workspaceID, recordID)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

func (r *Repository) getLocked(workspaceID, recordID string) (*storage.Record, error) {
	ws, ok := r.data[workspaceID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", workspaceID, storage.ErrWorkspaceNotFound)
	}
	rec, ok := ws[recordID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", workspaceID, recordID, storage.ErrNotFound)
	}
	return rec, nil
}

func (r *Repository) List(ctx context.Context, workspaceID string) ([]*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := make([]*storage.Record, 0, len(r.data[workspaceID]))
	for _, rec := range r.data[workspaceID] {
		recs = append(recs, rec.Clone())
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

func (r *Repository) PutCAS(ctx context.Context, rec *storage.Record, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.getLocked(rec.WorkspaceID, rec.ID)
	if err != nil {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		r.putLocked(rec)
		return nil
	}
	if existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	r.putLocked(rec)
	return nil
}

func (r *Repository) Delete(ctx context.Context, workspaceID, recordID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.getLocked(workspaceID, recordID); err != nil {
		return err
	}
	delete(r.data[workspaceID], recordID)
	if len(r.data[workspaceID]) == 0 {
		delete(r.data, workspaceID)
	}
	return nil
}

func (r *Repository) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[workspaceID]; !ok {
		return fmt.Errorf("%s: %w", workspaceID, storage.ErrWorkspaceNotFound)
	}
	delete(r.data, workspaceID)
	return nil
}
