// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bolt stores run history in a single bbolt file. It is the
// alternative to the badger backend when one portable file is preferred
// over a directory.
//
// The "runs" bucket maps run IDs to JSON storage.Run values. The "index"
// bucket maps time-ordered keys to run IDs.
package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/AleutianAI/vercheck/services/verify/report"
	"github.com/AleutianAI/vercheck/services/verify/storage"
)

var (
	bucketRuns  = []byte("runs")
	bucketIndex = []byte("index")
)

// Store is a storage.Store backed by bbolt.
type Store struct {
	db *bolt.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) the history file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("bbolt open: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("bbolt init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.db.Path()
}

// Close closes the underlying bbolt database. Closing twice is a no-op.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores doc under its RunID, replacing any earlier copy.
func (s *Store) SaveRun(ctx context.Context, doc *report.Document, reportDir string) error {
	sum, raw, err := storage.Encode(doc, reportDir)
	if err != nil {
		return err
	}
	if err := storage.CheckContext(ctx); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		runs, idx := tx.Bucket(bucketRuns), tx.Bucket(bucketIndex)
		if prev := runs.Get([]byte(sum.ID)); prev != nil {
			old, err := storage.Decode(prev)
			if err != nil {
				return err
			}
			if err := idx.Delete(storage.IndexKey(old.Summary.GeneratedAt, sum.ID)); err != nil {
				return err
			}
		}
		if err := runs.Put([]byte(sum.ID), raw); err != nil {
			return err
		}
		return idx.Put(storage.IndexKey(sum.GeneratedAt, sum.ID), []byte(sum.ID))
	})
}

// GetRun returns the run with the given ID or storage.ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	if id == "" {
		return nil, storage.ErrEmptyID
	}
	if err := storage.CheckContext(ctx); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.view(func(tx *bolt.Tx) error {
		// Copy bytes out of the transaction (bbolt slices are only valid within tx)
		if v := tx.Bucket(bucketRuns).Get([]byte(id)); v != nil {
			raw = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	return storage.Decode(raw)
}

// ListRuns returns up to limit summaries, newest first. A limit of zero or
// less returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]storage.RunSummary, error) {
	if err := storage.CheckContext(ctx); err != nil {
		return nil, err
	}
	var raws [][]byte
	err := s.view(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		c := tx.Bucket(bucketIndex).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if limit > 0 && len(raws) >= limit {
				break
			}
			if v := runs.Get(id); v != nil {
				raws = append(raws, bytes.Clone(v))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]storage.RunSummary, 0, len(raws))
	for _, raw := range raws {
		run, err := storage.Decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, run.Summary)
	}
	return out, nil
}

// DeleteRun removes a run and its index entry.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if id == "" {
		return storage.ErrEmptyID
	}
	if err := storage.CheckContext(ctx); err != nil {
		return err
	}
	return s.update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		raw := runs.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
		}
		run, err := storage.Decode(raw)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketIndex).Delete(storage.IndexKey(run.Summary.GeneratedAt, id)); err != nil {
			return err
		}
		return runs.Delete([]byte(id))
	})
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	return closedErr(s.db.Update(fn))
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	return closedErr(s.db.View(fn))
}

func closedErr(err error) error {
	if errors.Is(err, bolterrors.ErrDatabaseNotOpen) {
		return storage.ErrClosed
	}
	return err
}
