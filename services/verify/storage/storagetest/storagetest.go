// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storagetest holds the behaviour every storage.Store backend must
// share. Backend tests call Run with a constructor.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vercheck/services/verify/report"
	"github.com/AleutianAI/vercheck/services/verify/storage"
)

// Doc returns a minimal document generated at the given offset from a fixed
// base time.
func Doc(id string, offset time.Duration, pass bool) *report.Document {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	failed := 0
	if !pass {
		failed = 1
	}
	return &report.Document{
		Project:     "counter",
		OldVersion:  "v1.0.0",
		NewVersion:  "v1.1.0",
		GeneratedAt: base.Add(offset),
		RunID:       id,
		OverallPass: pass,
		TestCases:   []report.TestCaseRow{{Name: "alu", Pass: pass}},
		Messages:    []string{},
		Warnings:    []string{},
		Summary:     report.Summary{Total: 1, Passed: 1 - failed, Failed: failed},
	}
}

// Run exercises a store returned by open. Each subtest gets a fresh store.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.SaveRun(ctx, Doc("r1", 0, false), "/reports/r1"))

		run, err := s.GetRun(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "r1", run.Summary.ID)
		assert.Equal(t, "/reports/r1", run.Summary.ReportDir)
		assert.False(t, run.Summary.Pass)
		assert.Equal(t, 1, run.Summary.Failed)
		require.NotNil(t, run.Document)
		assert.Equal(t, "alu", run.Document.TestCases[0].Name)
	})

	t.Run("missing run", func(t *testing.T) {
		s := open(t)
		_, err := s.GetRun(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrRunNotFound)
		assert.ErrorIs(t, s.DeleteRun(ctx, "nope"), storage.ErrRunNotFound)

		_, err = s.GetRun(ctx, "")
		assert.ErrorIs(t, err, storage.ErrEmptyID)
	})

	t.Run("invalid documents", func(t *testing.T) {
		s := open(t)
		assert.ErrorIs(t, s.SaveRun(ctx, nil, ""), storage.ErrNilDocument)
		assert.ErrorIs(t, s.SaveRun(ctx, Doc("", 0, true), ""), storage.ErrEmptyID)
	})

	t.Run("list newest first", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.SaveRun(ctx, Doc("b", time.Hour, true), ""))
		require.NoError(t, s.SaveRun(ctx, Doc("a", 0, true), ""))
		require.NoError(t, s.SaveRun(ctx, Doc("c", 2*time.Hour, false), ""))

		all, err := s.ListRuns(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, ids(all))

		two, err := s.ListRuns(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b"}, ids(two))
	})

	t.Run("resave moves index", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.SaveRun(ctx, Doc("a", 0, true), ""))
		require.NoError(t, s.SaveRun(ctx, Doc("b", time.Hour, true), ""))
		require.NoError(t, s.SaveRun(ctx, Doc("a", 2*time.Hour, false), ""))

		all, err := s.ListRuns(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(all))
		assert.False(t, all[0].Pass)
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.SaveRun(ctx, Doc("a", 0, true), ""))
		require.NoError(t, s.SaveRun(ctx, Doc("b", time.Hour, true), ""))
		require.NoError(t, s.DeleteRun(ctx, "a"))

		_, err := s.GetRun(ctx, "a")
		assert.ErrorIs(t, err, storage.ErrRunNotFound)
		all, err := s.ListRuns(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(all))
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := open(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, s.SaveRun(cctx, Doc("a", 0, true), ""), context.Canceled)
		_, err := s.ListRuns(cctx, 0)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("concurrent saves", func(t *testing.T) {
		s := open(t)
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.SaveRun(ctx, Doc(fmt.Sprintf("run-%02d", i), time.Duration(i)*time.Minute, true), ""))
			}(i)
		}
		wg.Wait()

		all, err := s.ListRuns(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 16)
		assert.Equal(t, "run-15", all[0].ID)
	})

	t.Run("closed", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		assert.ErrorIs(t, s.SaveRun(ctx, Doc("a", 0, true), ""), storage.ErrClosed)
	})
}

func ids(runs []storage.RunSummary) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.ID
	}
	return out
}
