// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"errors"
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidDefinition is returned when a definition is incomplete.
	ErrInvalidDefinition = errors.New("invalid metric definition")

	// ErrUnknownDependency is returned by Seal when a metric depends on a
	// name that was never registered.
	ErrUnknownDependency = errors.New("unknown metric dependency")

	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("registry is sealed")

	// ErrNotSealed is returned when extraction starts on an unsealed registry.
	ErrNotSealed = errors.New("registry is not sealed")

	// ErrNoMatch is returned by log extractors when the log has no line for
	// the test case.
	ErrNoMatch = errors.New("no matching log entry")

	// ErrNoPeer is returned by comparison metrics when there is no other
	// run to compare against.
	ErrNoPeer = errors.New("no peer run to compare against")
)

// DuplicateMetricNameError is returned when two definitions share a name.
type DuplicateMetricNameError struct {
	Name string
}

// Error implements the error interface.
func (e *DuplicateMetricNameError) Error() string {
	return fmt.Sprintf("duplicate metric name %q", e.Name)
}

// CircularDependencyError is returned when derived metrics depend on each
// other in a cycle. Path starts and ends with the same metric.
type CircularDependencyError struct {
	Path []string
}

// Error implements the error interface.
func (e *CircularDependencyError) Error() string {
	return "circular metric dependency: " + strings.Join(e.Path, " -> ")
}

// IsConfigError reports whether err is a registry configuration error that
// must abort a run before extraction.
func IsConfigError(err error) bool {
	var dup *DuplicateMetricNameError
	var cyc *CircularDependencyError
	return errors.As(err, &dup) ||
		errors.As(err, &cyc) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrUnknownDependency)
}
