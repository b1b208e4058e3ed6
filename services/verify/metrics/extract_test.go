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
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/vercheck/services/verify/waveform"
)

const runLog = `compiling...
alu: 0.15s, 0 errors, 1 warning
fifo: 0.29s, 2 errors, 0 warnings
uart: 1.5s, 0 errors
done
`

const smallVCD = `$var wire 1 ! clk $end
$var wire 4 " data $end
$enddefinitions $end
#0
0!
b0 "
#5
1!
b1 "
#10
0!
b10 "
`

func sealedDefault(t *testing.T, opts BuiltinOptions) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry(opts)
	require.NoError(t, err)
	require.NoError(t, r.Seal())
	return r
}

func TestExtractor_NotSealed(t *testing.T) {
	r, err := NewDefaultRegistry(BuiltinOptions{})
	require.NoError(t, err)
	_, err = NewExtractor(r).Run(context.Background(), RunInput{Run: RunNew})
	assert.ErrorIs(t, err, ErrNotSealed)
}

func TestExtractor_LogMetrics(t *testing.T) {
	r := sealedDefault(t, BuiltinOptions{SkipWaveforms: true})
	ex := NewExtractor(r, WithConcurrency(2))

	res, err := ex.Run(context.Background(), RunInput{
		Run:       RunNew,
		TestCases: DiscoverTestCases(runLog),
		Log:       runLog,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	alu := res.Records["alu"]
	assert.Equal(t, 150.0, alu.Values[LatencyMS])
	assert.Equal(t, 0.0, alu.Values[ErrorCount])
	assert.Equal(t, 1.0, alu.Values[WarningCount])

	fifo := res.Records["fifo"]
	assert.Equal(t, 290.0, fifo.Values[LatencyMS])
	assert.Equal(t, 2.0, fifo.Values[ErrorCount])
	assert.Equal(t, 0.0, fifo.Values[WarningCount])
	assert.True(t, fifo.Available(WarningCount))

	// uart has no warning figure: defaulted, warned, still present.
	uart := res.Records["uart"]
	assert.Equal(t, 1500.0, uart.Values[LatencyMS])
	v, ok := uart.Get(WarningCount)
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
	assert.False(t, uart.Available(WarningCount))

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "uart", res.Warnings[0].TestCase)
	assert.Equal(t, WarningCount, res.Warnings[0].Metric)
	assert.ErrorIs(t, res.Warnings[0].Err, ErrNoMatch)

	assert.Equal(t, []string{LatencyMS, ErrorCount, WarningCount}, res.Schema)
}

func TestExtractor_MissingWaveformDefaults(t *testing.T) {
	r := sealedDefault(t, BuiltinOptions{})
	ex := NewExtractor(r, WithConcurrency(1))

	res, err := ex.Run(context.Background(), RunInput{
		Run:         RunOld,
		TestCases:   []string{"alu"},
		Log:         runLog,
		ArtifactDir: filepath.Join(t.TempDir(), "absent"),
	})
	require.NoError(t, err)

	rec := res.Records["alu"]
	for _, name := range r.Names() {
		_, ok := rec.Get(name)
		assert.True(t, ok, "metric %s missing from record", name)
	}
	assert.Equal(t, 0.0, rec.Values[WaveformSignals])
	assert.True(t, rec.Defaulted[WaveformSignals])

	var sawMissing bool
	for _, w := range res.Warnings {
		var missing *waveform.MissingArtifactError
		if errors.As(w.Err, &missing) {
			sawMissing = true
			assert.True(t, errors.Is(w.Err, fs.ErrNotExist))
		}
	}
	assert.True(t, sawMissing)
}

func TestExtractor_SimilarityWithoutPeerDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alu.vcd"), []byte(smallVCD), 0o644))

	res, err := NewExtractor(sealedDefault(t, BuiltinOptions{})).Run(context.Background(), RunInput{
		Run:         RunOld,
		TestCases:   []string{"alu"},
		Log:         runLog,
		ArtifactDir: dir,
	})
	require.NoError(t, err)

	rec := res.Records["alu"]
	assert.Equal(t, 0.0, rec.Values[WaveformSimilarity])
	assert.True(t, rec.Defaulted[WaveformSimilarity])
	assert.False(t, rec.Defaulted[WaveformSignals])
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WaveformSimilarity, res.Warnings[0].Metric)
	assert.ErrorIs(t, res.Warnings[0].Err, ErrNoPeer)
}

func TestExtractor_WaveformMetrics(t *testing.T) {
	oldDir, newDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "alu.vcd"), []byte(smallVCD), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(newDir, "alu.vcd"), []byte(smallVCD), 0o644))

	r := sealedDefault(t, BuiltinOptions{})
	cache := waveform.NewCache(0)
	ex := NewExtractor(r)

	res, err := ex.Run(context.Background(), RunInput{
		Run:             RunNew,
		TestCases:       []string{"alu"},
		Log:             runLog,
		ArtifactDir:     newDir,
		PeerArtifactDir: oldDir,
		Waveforms:       cache,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	rec := res.Records["alu"]
	assert.Equal(t, 2.0, rec.Values[WaveformSignals])
	assert.Equal(t, 12.0, rec.Values[WaveformLines])
	assert.Equal(t, 6.0, rec.Values[SignalTransitions])
	assert.Equal(t, 1.0, rec.Values[WaveformSimilarity])
	assert.InDelta(t, float64(len(smallVCD))/1024, rec.Values[WaveformSizeKB], 0.01)

	// Identical content in both directories parses once.
	assert.Equal(t, 1, cache.Len())
}

func TestExtractor_DerivedAndPerTestCaseLogs(t *testing.T) {
	r := sealedDefault(t, BuiltinOptions{SkipWaveforms: true})
	r2 := NewRegistry()
	for _, d := range r.Definitions() {
		require.NoError(t, r2.Register(d))
	}
	require.NoError(t, r2.Register(NewDerived("ms_per_error", "ms/error", "latency_ms / max(error_count, 1)", LowerIsBetter, nil)))
	require.NoError(t, r2.Seal())

	res, err := NewExtractor(r2).Run(context.Background(), RunInput{
		Run:       RunNew,
		TestCases: []string{"fifo", "solo"},
		Log:       runLog,
		Logs:      map[string]string{"solo": "solo: 2.0s, 4 errors, 0 warnings\n"},
	})
	require.NoError(t, err)

	assert.Equal(t, 145.0, res.Records["fifo"].Values["ms_per_error"])
	assert.Equal(t, 500.0, res.Records["solo"].Values["ms_per_error"])
}

func TestExtractor_DerivedDivisionByZeroDefaults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "zero", Extract: constant(0)}))
	def := NewDerived("inv", "", "1 / zero", HigherIsBetter, nil)
	def.Default = -1
	require.NoError(t, r.Register(def))
	require.NoError(t, r.Seal())

	rec, warns, err := NewExtractor(r).ExtractTestCase(context.Background(), RunInput{Run: RunNew}, "tc")
	require.NoError(t, err)
	assert.Equal(t, -1.0, rec.Values["inv"])
	require.Len(t, warns, 1)
	assert.Equal(t, "inv", warns[0].Metric)
}

func TestExtractor_OneFailingMetricDoesNotAbortOthers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "broken", Extract: func(context.Context, Input) (float64, error) {
		return 0, errors.New("boom")
	}}))
	require.NoError(t, r.Register(Definition{Name: "fine", Extract: constant(7)}))
	require.NoError(t, r.Seal())

	res, err := NewExtractor(r).Run(context.Background(), RunInput{Run: RunOld, TestCases: []string{"b", "a"}})
	require.NoError(t, err)
	for _, tc := range []string{"a", "b"} {
		assert.Equal(t, 7.0, res.Records[tc].Values["fine"])
		assert.Equal(t, 0.0, res.Records[tc].Values["broken"])
	}
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "a", res.Warnings[0].TestCase)
	assert.Equal(t, "b", res.Warnings[1].TestCase)
	assert.Contains(t, res.Warnings[0].String(), "broken unavailable: boom")
}

func TestExtractor_CancelledContext(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{Name: "x", Extract: constant(1)}))
	require.NoError(t, r.Seal())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExtractor(r).Run(ctx, RunInput{Run: RunNew, TestCases: []string{"a"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscoverTestCases(t *testing.T) {
	assert.Equal(t, []string{"alu", "fifo", "uart"}, DiscoverTestCases(runLog+"alu: 0.1s, 0 errors\n"))
	assert.Empty(t, DiscoverTestCases("nothing here"))
}

func TestDiscovered(t *testing.T) {
	old := map[string]*Record{"a": {Values: map[string]float64{"latency_ms": 1, "zz": 1}}}
	cur := map[string]*Record{"a": {Values: map[string]float64{"error_count": 1, "aa": 1}}}
	got := Discovered([]string{"latency_ms", "error_count", "unused"}, old, cur)
	assert.Equal(t, []string{"latency_ms", "error_count", "aa", "zz"}, got)
}
