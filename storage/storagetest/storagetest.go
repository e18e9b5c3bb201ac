// Package storagetest holds the behaviour every storage.Repository backend
// must share. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keynest/keynest/storage"
)

// NewRecord returns a valid record for workspaceID/id at version 1.
func NewRecord(workspaceID, id string) *storage.Record {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &storage.Record{
		ID:          id,
		WorkspaceID: workspaceID,
		Name:        "key " + id,
		Environment: "development",
		Tags:        []string{"test"},
		Key:         "bundle-" + id,
		CreatedBy:   "tester",
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
}

// Run exercises repo against the storage.Repository contract. newRepo must
// return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	t.Run("PutAndGet", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()
		rec := NewRecord("ws1", "k1")
		require.NoError(t, repo.Put(ctx, rec))

		got, err := repo.Get(ctx, "ws1", "k1")
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, rec.Name, got.Name)
		assert.Equal(t, rec.Key, got.Key)
		assert.Equal(t, rec.Tags, got.Tags)
		assert.Equal(t, rec.Version, got.Version)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

		// Returned records must not alias stored state.
		got.Tags[0] = "mutated"
		again, err := repo.Get(ctx, "ws1", "k1")
		require.NoError(t, err)
		assert.Equal(t, "test", again.Tags[0])
	})

	t.Run("PutRejectsInvalid", func(t *testing.T) {
		repo := newRepo(t)
		rec := NewRecord("ws1", "k1")
		rec.Key = ""
		assert.ErrorIs(t, repo.Put(t.Context(), rec), storage.ErrInvalidRecord)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()
		_, err := repo.Get(ctx, "missing", "k1")
		assert.ErrorIs(t, err, storage.ErrWorkspaceNotFound)

		require.NoError(t, repo.Put(ctx, NewRecord("ws1", "k1")))
		_, err = repo.Get(ctx, "ws1", "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListIsWorkspaceScoped", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()
		require.NoError(t, repo.Put(ctx, NewRecord("ws1", "k1")))
		require.NoError(t, repo.Put(ctx, NewRecord("ws1", "k2")))
		require.NoError(t, repo.Put(ctx, NewRecord("ws2", "k3")))

		recs, err := repo.List(ctx, "ws1")
		require.NoError(t, err)
		ids := make([]string, 0, len(recs))
		for _, r := range recs {
			assert.Equal(t, "ws1", r.WorkspaceID)
			ids = append(ids, r.ID)
		}
		assert.ElementsMatch(t, []string{"k1", "k2"}, ids)

		recs, err = repo.List(ctx, "nonexistent")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("PutCAS", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()
		v1 := NewRecord("ws1", "k1")

		// Create-only.
		require.NoError(t, repo.PutCAS(ctx, v1, 0))
		assert.ErrorIs(t, repo.PutCAS(ctx, v1, 0), storage.ErrCASFailed)

		// Non-zero expectation on a missing record.
		assert.ErrorIs(t, repo.PutCAS(ctx, NewRecord("ws1", "other"), 1), storage.ErrCASFailed)

		v2 := v1.Clone()
		v2.Version = 2
		v2.Key = "bundle-rotated"
		require.NoError(t, repo.PutCAS(ctx, v2, 1))

		// Stale writer loses.
		stale := v1.Clone()
		stale.Version = 2
		assert.ErrorIs(t, repo.PutCAS(ctx, stale, 1), storage.ErrCASFailed)

		got, err := repo.Get(ctx, "ws1", "k1")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Version)
		assert.Equal(t, "bundle-rotated", got.Key)
	})

	t.Run("ConcurrentCASSingleWinner", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()
		require.NoError(t, repo.Put(ctx, NewRecord("ws1", "k1")))

		const writers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := NewRecord("ws1", "k1")
				next.Version = 2
				next.Key = fmt.Sprintf("bundle-%d", i)
				err := repo.PutCAS(ctx, next, 1)
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
					return
				}
				if !errors.Is(err, storage.ErrCASFailed) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()
		require.NoError(t, repo.Put(ctx, NewRecord("ws1", "k1")))
		require.NoError(t, repo.Put(ctx, NewRecord("ws1", "k2")))

		require.NoError(t, repo.Delete(ctx, "ws1", "k1"))
		_, err := repo.Get(ctx, "ws1", "k1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		assert.ErrorIs(t, repo.Delete(ctx, "ws1", "k1"), storage.ErrNotFound)
		assert.Error(t, repo.Delete(ctx, "missing", "k1"))
	})

	t.Run("DeleteWorkspace", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()
		require.NoError(t, repo.Put(ctx, NewRecord("ws1", "k1")))
		require.NoError(t, repo.Put(ctx, NewRecord("ws2", "k2")))

		require.NoError(t, repo.DeleteWorkspace(ctx, "ws1"))
		recs, err := repo.List(ctx, "ws1")
		require.NoError(t, err)
		assert.Empty(t, recs)

		_, err = repo.Get(ctx, "ws2", "k2")
		assert.NoError(t, err)

		assert.ErrorIs(t, repo.DeleteWorkspace(ctx, "ws1"), storage.ErrWorkspaceNotFound)
	})

	t.Run("DeleteLastRecordRemovesWorkspace", func(t *testing.T) {
		repo := newRepo(t)
		ctx := t.Context()
		require.NoError(t, repo.Put(ctx, NewRecord("ws1", "k1")))
		require.NoError(t, repo.Put(ctx, NewRecord("ws1", "k2")))

		require.NoError(t, repo.Delete(ctx, "ws1", "k1"))
		_, err := repo.Get(ctx, "ws1", "k1")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, repo.Delete(ctx, "ws1", "k2"))
		_, err = repo.Get(ctx, "ws1", "k2")
		assert.ErrorIs(t, err, storage.ErrWorkspaceNotFound)
		assert.ErrorIs(t, repo.DeleteWorkspace(ctx, "ws1"), storage.ErrWorkspaceNotFound)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		repo := newRepo(t)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		assert.ErrorIs(t, repo.Put(ctx, NewRecord("ws1", "k1")), context.Canceled)
	})
}
