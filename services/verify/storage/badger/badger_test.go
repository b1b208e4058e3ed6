// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vercheck/services/verify/storage"
	"github.com/AleutianAI/vercheck/services/verify/storage/storagetest"
)

func TestStore_InMemory(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := OpenInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// TestStore_Persists verifies runs survive a reopen.
func TestStore_Persists(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	s, err := Open(cfg)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Path())
	assert.False(t, s.InMemory())
	require.NoError(t, s.SaveRun(context.Background(), storagetest.Doc("r1", 0, true), "/tmp/r1"))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	run, err := s.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/r1", run.Summary.ReportDir)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(DefaultConfig())
	assert.Error(t, err)
}

// TestOpen_WithGC verifies the GC runner starts and stops with the store.
func TestOpen_WithGC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCInterval = 10 * time.Millisecond

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NotNil(t, s.gc)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, s.Close())
}

func TestNewGCRunner_Validation(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	tests := []struct {
		name     string
		db       *badger.DB
		interval time.Duration
		ratio    float64
	}{
		{"nil db", nil, time.Second, 0.5},
		{"zero interval", db, 0, 0.5},
		{"ratio zero", db, time.Second, 0},
		{"ratio one", db, time.Second, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGCRunner(tt.db, tt.interval, tt.ratio, nil)
			assert.Error(t, err)
		})
	}

	r, err := NewGCRunner(db, time.Hour, 0.5, nil)
	require.NoError(t, err)
	r.Start()
	r.Stop()
	r.Stop()
}
