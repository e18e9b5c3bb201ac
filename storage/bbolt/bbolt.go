// Package bbolt provides a BBolt-backed storage repository.
//
// Each workspace is a top-level bucket keyed by workspace ID; records are
// stored under their record ID as validated JSON documents.
package bbolt

import (
	"context"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"github.com/keynest/keynest/storage"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, rec *storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := storage.EncodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(rec.WorkspaceID))
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

func (s *Store) Get(ctx context.Context, workspaceID, recordID string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(workspaceID))
		if b == nil {
			return fmt.Errorf("%s: %w", workspaceID, storage.ErrWorkspaceNotFound)
		}
		data := b.Get([]byte(recordID))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", workspaceID, recordID, storage.ErrNotFound)
		}
		var err error
		rec, err = storage.DecodeRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, workspaceID string) ([]*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var recs []*storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(workspaceID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			rec, err := storage.DecodeRecord(v)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", workspaceID, k, err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

func putCASInBucket(b *bbolt.Bucket, rec *storage.Record, expectedVersion uint64, data []byte) error {
	existingData := b.Get([]byte(rec.ID))

	if expectedVersion == 0 {
		if existingData != nil {
			return storage.ErrCASFailed
		}
	} else {
		if existingData == nil {
			return storage.ErrCASFailed
		}
		existing, err := storage.DecodeRecord(existingData)
		if err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return storage.ErrCASFailed
		}
	}
	return b.Put([]byte(rec.ID), data)
}

func (s *Store) PutCAS(ctx context.Context, rec *storage.Record, expectedVersion uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := storage.EncodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(rec.WorkspaceID))
		if err != nil {
			return err
		}
		return putCASInBucket(b, rec, expectedVersion, data)
	})
}

func (s *Store) Delete(ctx context.Context, workspaceID, recordID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(workspaceID))
		if b == nil {
			return fmt.Errorf("%s: %w", workspaceID, storage.ErrWorkspaceNotFound)
		}
		if b.Get([]byte(recordID)) == nil {
			return fmt.Errorf("%s/%s: %w", workspaceID, recordID, storage.ErrNotFound)
		}
		if err := b.Delete([]byte(recordID)); err != nil {
			return err
		}
		// A workspace exists only while it holds records.
		if k, _ := b.Cursor().First(); k == nil {
			return tx.DeleteBucket([]byte(workspaceID))
		}
		return nil
	})
}

func (s *Store) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(workspaceID))
		if errors.Is(err, berrors.ErrBucketNotFound) {
			return fmt.Errorf("%s: %w", workspaceID, storage.ErrWorkspaceNotFound)
		}
		return err
	})
}
