// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package publish sends finished runs to external systems. Publishers run
// after the verdict is final; their failures become run warnings and never
// change the verdict.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/vercheck/services/verify/report"
)

var (
	// ErrNilDocument is returned when publishing a nil document.
	ErrNilDocument = errors.New("document must not be nil")

	// ErrMissingConfig is returned when a publisher lacks required settings.
	ErrMissingConfig = errors.New("publisher configuration incomplete")
)

// Publisher delivers a run somewhere outside the workspace.
type Publisher interface {
	// Name identifies the publisher in warnings and metrics.
	Name() string

	// Publish sends doc. files are the report files written for the run.
	Publish(ctx context.Context, doc *report.Document, files []string) error

	Close() error
}

// Error records which publisher failed.
type Error struct {
	Publisher string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Publisher, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// All runs every publisher in order and returns one *Error per failure.
// A failing publisher does not stop the others.
func All(ctx context.Context, pubs []Publisher, doc *report.Document, files []string) []error {
	var errs []error
	for _, p := range pubs {
		if err := p.Publish(ctx, doc, files); err != nil {
			errs = append(errs, &Error{Publisher: p.Name(), Err: err})
		}
	}
	return errs
}

// CloseAll closes every publisher and joins their errors.
func CloseAll(pubs []Publisher) error {
	var errs []error
	for _, p := range pubs {
		if err := p.Close(); err != nil {
			errs = append(errs, &Error{Publisher: p.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}
