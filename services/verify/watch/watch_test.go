// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	batches [][]Change
}

func (c *collector) handle(_ context.Context, changes []Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, changes)
}

func (c *collector) snapshot() [][]Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Change(nil), c.batches...)
}

func TestWatcher_DebouncesArtifactChanges(t *testing.T) {
	dir := t.TempDir()
	col := &collector{}
	opts := DefaultOptions()
	opts.Debounce = 150 * time.Millisecond

	w, err := New([]string{dir}, col.handle, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	logPath := filepath.Join(dir, "aggregated.log")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(logPath, []byte("alu: 0.1s, 0 errors\n"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alu.vcd"), []byte("$enddefinitions $end\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.tmp"), []byte("ignored"), 0o644))

	require.Eventually(t, func() bool { return len(col.snapshot()) == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	batches := col.snapshot()
	require.Len(t, batches, 1)
	var paths []string
	for _, c := range batches[0] {
		paths = append(paths, filepath.Base(c.Path))
	}
	assert.Equal(t, []string{"aggregated.log", "alu.vcd"}, paths)
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	col := &collector{}
	opts := DefaultOptions()
	opts.Debounce = 100 * time.Millisecond

	w, err := New([]string{dir}, col.handle, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	sub := filepath.Join(dir, "run2")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "fifo.log"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, b := range col.snapshot() {
			for _, c := range b {
				if filepath.Base(c.Path) == "fifo.log" {
					return true
				}
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_Validation(t *testing.T) {
	_, err := New(nil, func(context.Context, []Change) {}, Options{})
	assert.ErrorIs(t, err, ErrNoDirectories)

	_, err = New([]string{t.TempDir()}, nil, Options{})
	assert.Error(t, err)

	w, err := New([]string{filepath.Join(t.TempDir(), "absent")}, func(context.Context, []Change) {}, Options{})
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_StartTwice(t *testing.T) {
	w, err := New([]string{t.TempDir()}, func(context.Context, []Change) {}, Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	assert.ErrorIs(t, w.Start(ctx), ErrAlreadyStarted)
	w.Stop()
	w.Stop()
}

func TestRelevant(t *testing.T) {
	w, err := New([]string{"."}, func(context.Context, []Change) {}, DefaultOptions())
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.Relevant("/sim/alu.log"))
	assert.True(t, w.Relevant("/sim/alu.VCD"))
	assert.False(t, w.Relevant("/sim/alu.txt"))
	assert.False(t, w.Relevant("/sim/.alu.log"))
	assert.False(t, w.Relevant("/sim/alu.log.tmp"))
}

func TestCoalesce(t *testing.T) {
	now := time.Now()
	got := Coalesce([]Change{
		{Path: "b.log", Op: OpCreate, Time: now},
		{Path: "a.vcd", Op: OpWrite, Time: now},
		{Path: "b.log", Op: OpRemove, Time: now.Add(time.Millisecond)},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a.vcd", got[0].Path)
	assert.Equal(t, OpRemove, got[1].Op)
	assert.Equal(t, "remove", got[1].Op.String())
}
