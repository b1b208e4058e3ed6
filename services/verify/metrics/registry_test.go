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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v float64) ExtractFunc {
	return func(context.Context, Input) (float64, error) { return v, nil }
}

func TestRegistry_DeclarationOrder(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(Definition{Name: n, Extract: constant(1)}))
	}

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, r.Names())
	assert.Equal(t, 3, r.Len())

	d, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", d.Name)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "latency_ms", Extract: constant(1)}))

	err := r.Register(Definition{Name: "latency_ms", Extract: constant(2)})
	var dup *DuplicateMetricNameError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "latency_ms", dup.Name)
	assert.True(t, IsConfigError(err))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_InvalidDefinitions(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Register(Definition{Name: "", Extract: constant(1)}), ErrInvalidDefinition)
	assert.ErrorIs(t, r.Register(Definition{Name: "has space", Extract: constant(1)}), ErrInvalidDefinition)
	assert.ErrorIs(t, r.Register(Definition{Name: "noextract"}), ErrInvalidDefinition)
	assert.ErrorIs(t, r.Register(NewDerived("bad", "", "1 +", LowerIsBetter, nil)), ErrInvalidDefinition)
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{Name: "a", Extract: constant(1)})
	assert.Panics(t, func() {
		r.MustRegister(Definition{Name: "a", Extract: constant(1)})
	})
}

func TestRegistry_SealOrdersDependenciesFirst(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewDerived("ratio", "", "a / b", LowerIsBetter, nil)))
	require.NoError(t, r.Register(Definition{Name: "a", Extract: constant(4)}))
	require.NoError(t, r.Register(NewDerived("double", "", "ratio * 2", LowerIsBetter, nil)))
	require.NoError(t, r.Register(Definition{Name: "b", Extract: constant(2)}))

	require.NoError(t, r.Seal())
	assert.True(t, r.Sealed())

	var order []string
	for _, d := range r.EvaluationOrder() {
		order = append(order, d.Name)
	}
	assert.Equal(t, []string{"a", "b", "ratio", "double"}, order)

	// Names stay in declaration order.
	assert.Equal(t, []string{"ratio", "a", "double", "b"}, r.Names())

	// Sealing twice is harmless; registering after is not.
	require.NoError(t, r.Seal())
	assert.ErrorIs(t, r.Register(Definition{Name: "late", Extract: constant(1)}), ErrRegistrySealed)
}

func TestRegistry_SealDetectsCycle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "base", Extract: constant(1)}))
	require.NoError(t, r.Register(NewDerived("x", "", "y + base", LowerIsBetter, nil)))
	require.NoError(t, r.Register(NewDerived("y", "", "z * 2", LowerIsBetter, nil)))
	require.NoError(t, r.Register(NewDerived("z", "", "x - 1", LowerIsBetter, nil)))

	err := r.Seal()
	var cyc *CircularDependencyError
	require.True(t, errors.As(err, &cyc))
	assert.Equal(t, []string{"x", "y", "z", "x"}, cyc.Path)
	assert.Contains(t, err.Error(), "x -> y -> z -> x")
	assert.True(t, IsConfigError(err))
	assert.False(t, r.Sealed())
}

func TestRegistry_SealSelfCycle(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewDerived("loop", "", "loop + 1", LowerIsBetter, nil)))

	var cyc *CircularDependencyError
	require.True(t, errors.As(r.Seal(), &cyc))
	assert.Equal(t, []string{"loop", "loop"}, cyc.Path)
}

func TestRegistry_SealUnknownDependency(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewDerived("d", "", "ghost * 2", LowerIsBetter, nil)))
	err := r.Seal()
	assert.ErrorIs(t, err, ErrUnknownDependency)
	assert.True(t, IsConfigError(err))
}

func TestDirectionText(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
	}{
		{"lower_is_better", LowerIsBetter},
		{"LOWER", LowerIsBetter},
		{"higher_is_better", HigherIsBetter},
		{"higher", HigherIsBetter},
		{"neutral", Neutral},
	}
	for _, tt := range tests {
		var d Direction
		require.NoError(t, d.UnmarshalText([]byte(tt.in)))
		assert.Equal(t, tt.want, d)
	}

	var d Direction
	assert.Error(t, d.UnmarshalText([]byte("sideways")))

	b, err := HigherIsBetter.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "higher_is_better", string(b))

	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("derived")))
	assert.Equal(t, Derived, k)
	assert.Error(t, k.UnmarshalText([]byte("guessed")))
}
