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
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// FormulaExtractor compiles an expression over other metric names.
//
// Description:
//
//	The formula is an expr-lang expression such as
//	"latency_ms / max(signal_transitions, 1)". Every free identifier that is
//	not a called function becomes a dependency. At evaluation time the
//	identifiers are bound to the values already computed for the test case.
//
// Outputs:
//
//	ExtractFunc - Evaluates the formula; fails on non-numeric or non-finite
//	              results.
//	[]string - Sorted dependency names.
//	error - ErrInvalidDefinition wrapping the parse or compile error.
func FormulaExtractor(formula string) (ExtractFunc, []string, error) {
	formula = strings.TrimSpace(formula)
	if formula == "" {
		return nil, nil, fmt.Errorf("%w: empty formula", ErrInvalidDefinition)
	}

	tree, err := parser.Parse(formula)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse formula %q: %v", ErrInvalidDefinition, formula, err)
	}
	deps := identifiers(tree.Node)

	program, err := expr.Compile(formula)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: compile formula %q: %v", ErrInvalidDefinition, formula, err)
	}

	extract := func(_ context.Context, in Input) (float64, error) {
		return evalFormula(program, deps, in.Values)
	}
	return extract, deps, nil
}

func evalFormula(program *vm.Program, deps []string, values map[string]float64) (float64, error) {
	env := make(map[string]any, len(deps))
	for _, d := range deps {
		v, ok := values[d]
		if !ok {
			return 0, fmt.Errorf("dependency %s not computed", d)
		}
		env[d] = v
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return 0, fmt.Errorf("evaluate formula: %w", err)
	}

	var f float64
	switch v := out.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case bool:
		if v {
			f = 1
		}
	default:
		return 0, fmt.Errorf("formula result must be numeric (got %T)", out)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("formula result is not finite: %v", f)
	}
	return f, nil
}

// compileFormula fills Extract and DependsOn of a formula definition.
func compileFormula(def Definition) (Definition, error) {
	extract, deps, err := FormulaExtractor(def.Formula)
	if err != nil {
		return def, fmt.Errorf("metric %s: %w", def.Name, err)
	}
	def.Kind = Derived
	def.Extract = extract

	seen := make(map[string]bool, len(def.DependsOn))
	for _, d := range def.DependsOn {
		seen[d] = true
	}
	for _, d := range deps {
		if !seen[d] {
			def.DependsOn = append(def.DependsOn, d)
		}
	}
	return def, nil
}

// NewDerived builds a formula-backed definition. Register compiles it.
func NewDerived(name, label, formula string, dir Direction, threshold *float64) Definition {
	return Definition{
		Name:      name,
		Label:     label,
		Kind:      Derived,
		Direction: dir,
		Threshold: threshold,
		Formula:   formula,
	}
}

// identVisitor collects free identifiers, excluding called function names.
type identVisitor struct {
	idents  map[string]bool
	callees map[string]bool
}

func (v *identVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		v.idents[n.Value] = true
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			v.callees[id.Value] = true
		}
	}
}

func identifiers(root ast.Node) []string {
	v := &identVisitor{idents: map[string]bool{}, callees: map[string]bool{}}
	ast.Walk(&root, v)

	var out []string
	for name := range v.idents {
		if !v.callees[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
