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
	"fmt"
	"regexp"
	"sync"
)

// namePattern restricts metric names to identifiers usable in formulas.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Registry holds metric definitions in declaration order.
//
// Description:
//
//	Definitions are appended during startup. Seal validates dependencies,
//	rejects cycles, and fixes the evaluation order; after Seal the registry
//	is read-only and may be shared by concurrent extraction goroutines.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	defs   []Definition
	index  map[string]int
	order  []int
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Register appends a definition.
//
// Description:
//
//	Validates the definition and appends it. A derived definition with a
//	Formula and no Extract is compiled here.
//
// Inputs:
//
//	def - The definition. Name must be an identifier.
//
// Outputs:
//
//	error - *DuplicateMetricNameError if the name is taken,
//	        ErrInvalidDefinition if fields are missing or the formula does
//	        not compile, ErrRegistrySealed after Seal.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(def Definition) error {
	if !namePattern.MatchString(def.Name) {
		return fmt.Errorf("%w: name %q is not an identifier", ErrInvalidDefinition, def.Name)
	}
	if def.Extract == nil && def.Formula != "" {
		compiled, err := compileFormula(def)
		if err != nil {
			return err
		}
		def = compiled
	}
	if def.Extract == nil {
		return fmt.Errorf("%w: %s has no extractor", ErrInvalidDefinition, def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, def.Name)
	}
	if _, exists := r.index[def.Name]; exists {
		return &DuplicateMetricNameError{Name: def.Name}
	}
	def.DependsOn = append([]string(nil), def.DependsOn...)
	r.index[def.Name] = len(r.defs)
	r.defs = append(r.defs, def)
	return nil
}

// MustRegister registers a definition and panics on error.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// Definitions returns all definitions in declaration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Names returns all metric names in declaration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.Name
	}
	return out
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Sealed reports whether Seal has succeeded.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Seal freezes the registry and computes the evaluation order.
//
// Description:
//
//	Checks that every dependency names a registered metric, then walks the
//	dependency graph depth-first in declaration order. Each metric is placed
//	after its dependencies; otherwise declaration order is kept. Calling
//	Seal again is a no-op.
//
// Outputs:
//
//	error - ErrUnknownDependency or *CircularDependencyError. The registry
//	        stays unsealed on error.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}
	for _, d := range r.defs {
		for _, dep := range d.DependsOn {
			if _, ok := r.index[dep]; !ok {
				return fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, d.Name, dep)
			}
		}
	}

	order, err := r.topoOrder()
	if err != nil {
		return err
	}
	r.order = order
	r.sealed = true
	return nil
}

// topoOrder runs a DFS with a recursion stack over the dependency edges.
func (r *Registry) topoOrder() ([]int, error) {
	visited := make([]bool, len(r.defs))
	onStack := make([]bool, len(r.defs))
	path := make([]string, 0, len(r.defs))
	order := make([]int, 0, len(r.defs))

	var dfs func(i int) error
	dfs = func(i int) error {
		visited[i] = true
		onStack[i] = true
		path = append(path, r.defs[i].Name)

		for _, dep := range r.defs[i].DependsOn {
			j := r.index[dep]
			if onStack[j] {
				start := 0
				for k, n := range path {
					if n == dep {
						start = k
						break
					}
				}
				cycle := append(append([]string(nil), path[start:]...), dep)
				return &CircularDependencyError{Path: cycle}
			}
			if !visited[j] {
				if err := dfs(j); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		onStack[i] = false
		order = append(order, i)
		return nil
	}

	for i := range r.defs {
		if !visited[i] {
			if err := dfs(i); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// EvaluationOrder returns definitions so that each follows its
// dependencies. Before Seal it returns declaration order.
func (r *Registry) EvaluationOrder() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.sealed {
		out := make([]Definition, len(r.defs))
		copy(out, r.defs)
		return out
	}
	out := make([]Definition, len(r.order))
	for i, idx := range r.order {
		out[i] = r.defs[idx]
	}
	return out
}
