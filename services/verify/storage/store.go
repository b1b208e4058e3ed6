// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the run history: every pipeline run is kept as its
// report document plus a small summary used for listings.
//
// Two backends implement Store: storage/badger (default) and storage/bolt.
// Both share the record encoding and key layout defined here so a history
// can be inspected the same way regardless of backend.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/vercheck/services/verify/report"
)

var (
	// ErrRunNotFound is returned when no run has the requested ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrEmptyID is returned when a run ID is empty.
	ErrEmptyID = errors.New("run id must not be empty")

	// ErrNilDocument is returned when saving a nil document.
	ErrNilDocument = errors.New("document must not be nil")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID          string    `json:"id"`
	Project     string    `json:"project"`
	OldVersion  string    `json:"old_version"`
	NewVersion  string    `json:"new_version"`
	GeneratedAt time.Time `json:"generated_at"`
	Pass        bool      `json:"pass"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	ReportDir   string    `json:"report_dir,omitempty"`
}

// Run is a stored run: its summary and the full report document.
type Run struct {
	Summary  RunSummary       `json:"summary"`
	Document *report.Document `json:"document"`
}

// Store persists run history.
//
// Implementations must be safe for concurrent use. ListRuns returns runs
// newest first by GeneratedAt.
type Store interface {
	SaveRun(ctx context.Context, doc *report.Document, reportDir string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	DeleteRun(ctx context.Context, id string) error
	Close() error
}

// Key prefixes shared by the backends.
const (
	RunPrefix   = "run/"
	IndexPrefix = "idx/"
)

// Summarize derives the listing summary of a document.
func Summarize(doc *report.Document, reportDir string) RunSummary {
	return RunSummary{
		ID:          doc.RunID,
		Project:     doc.Project,
		OldVersion:  doc.OldVersion,
		NewVersion:  doc.NewVersion,
		GeneratedAt: doc.GeneratedAt,
		Pass:        doc.OverallPass,
		Total:       doc.Summary.Total,
		Passed:      doc.Summary.Passed,
		Failed:      doc.Summary.Failed,
		ReportDir:   reportDir,
	}
}

// Encode validates doc and returns the summary and the serialized run.
func Encode(doc *report.Document, reportDir string) (RunSummary, []byte, error) {
	if doc == nil {
		return RunSummary{}, nil, ErrNilDocument
	}
	if doc.RunID == "" {
		return RunSummary{}, nil, ErrEmptyID
	}
	sum := Summarize(doc, reportDir)
	raw, err := json.Marshal(Run{Summary: sum, Document: doc})
	if err != nil {
		return RunSummary{}, nil, fmt.Errorf("marshal run %s: %w", doc.RunID, err)
	}
	return sum, raw, nil
}

// Decode parses a run written by Encode.
func Decode(raw []byte) (*Run, error) {
	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

// RunKey is the primary key of a run.
func RunKey(id string) []byte {
	return []byte(RunPrefix + id)
}

// IndexKey orders runs by generation time. The timestamp is zero-padded so
// byte order matches time order.
func IndexKey(generated time.Time, id string) []byte {
	return fmt.Appendf(nil, "%s%020d/%s", IndexPrefix, generated.UnixNano(), id)
}

// CheckContext returns a wrapped error if ctx is done.
func CheckContext(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return nil
}
