// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scoreboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/vercheck/services/verify/metrics"
)

// ErrNilContext is returned when a nil context is passed.
var ErrNilContext = errors.New("context must not be nil")

// Decide judges every definition for one test case.
//
// Description:
//
//	For LowerIsBetter a metric fails when new > threshold; for
//	HigherIsBetter when new < threshold. Metrics without a threshold, and
//	Neutral metrics, are informational. A metric present in old but absent
//	from new fails. Verdicts follow the order of defs.
//
// Inputs:
//
//	old - The old run's record. May be nil.
//	cur - The new run's record. May be nil.
//	defs - Definitions in registry declaration order.
//
// Outputs:
//
//	[]MetricVerdict - One entry per definition recorded on either side.
func Decide(old, cur *metrics.Record, defs []metrics.Definition) []MetricVerdict {
	out := make([]MetricVerdict, 0, len(defs))
	for _, def := range defs {
		oldV, hasOld := old.Get(def.Name)
		newV, hasNew := cur.Get(def.Name)
		if !hasOld && !hasNew {
			continue
		}

		mv := MetricVerdict{
			Metric:        def.Name,
			Label:         def.DisplayLabel(),
			Direction:     def.Direction,
			Threshold:     def.Threshold,
			Mandatory:     def.Mandatory,
			Old:           oldV,
			New:           newV,
			HasOld:        hasOld,
			HasNew:        hasNew,
			Pass:          true,
			Informational: !def.Judged(),
			Defaulted:     hasNew && cur.Defaulted[def.Name],
		}
		if hasOld && hasNew {
			mv.Delta = newV - oldV
		}

		switch {
		case !hasNew:
			mv.Pass = false
			mv.Message = MissingMetricMessage
		case mv.Informational:
		case violates(def.Direction, newV, *def.Threshold):
			mv.Pass = false
			mv.Message = fmt.Sprintf("%s = %g violates threshold %s %g (%s)",
				def.Name, newV, thresholdOp(def.Direction), *def.Threshold, def.Direction)
		}
		out = append(out, mv)
	}
	return out
}

func violates(dir metrics.Direction, value, threshold float64) bool {
	switch dir {
	case metrics.LowerIsBetter:
		return value > threshold
	case metrics.HigherIsBetter:
		return value < threshold
	}
	return false
}

func thresholdOp(dir metrics.Direction) string {
	if dir == metrics.HigherIsBetter {
		return ">="
	}
	return "<="
}

// Evaluate builds the verdict for a pair of runs.
//
// Description:
//
//	Test cases are the sorted union of both runs. A test case with an old
//	record and no new record fails with MissingTestCaseMessage regardless
//	of thresholds. A test case only in the new run is judged with an empty
//	old record. The overall verdict fails when any test case fails.
//
// Inputs:
//
//	old, cur - Records by test case name. Either may be empty.
//	defs - Definitions in registry declaration order.
//	warnings - Extraction warnings, copied in order into the verdict.
//
// Outputs:
//
//	*Verdict - Never nil. Identical inputs give identical verdicts.
func Evaluate(old, cur map[string]*metrics.Record, defs []metrics.Definition, warnings []string) *Verdict {
	names := make([]string, 0, len(old)+len(cur))
	seen := make(map[string]struct{}, len(old)+len(cur))
	for _, set := range []map[string]*metrics.Record{old, cur} {
		for name := range set {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)

	v := &Verdict{
		Pass:     true,
		Warnings: append([]string(nil), warnings...),
		Total:    len(names),
	}

	for _, tc := range names {
		oldRec, newRec := old[tc], cur[tc]
		c := Comparison{TestCase: tc, Old: oldRec, New: newRec, Pass: true}

		if newRec == nil {
			c.Missing = true
			c.Pass = false
			c.Metrics = Decide(oldRec, nil, defs)
			v.Failures = append(v.Failures, fmt.Sprintf("%s: %s", tc, MissingTestCaseMessage))
		} else {
			c.Metrics = Decide(oldRec, newRec, defs)
			for _, mv := range c.Metrics {
				if !mv.Pass {
					c.Pass = false
					v.Failures = append(v.Failures, fmt.Sprintf("%s: %s", tc, mv.Message))
				}
			}
			if newRec.Available(metrics.WaveformSimilarity) {
				s := newRec.Values[metrics.WaveformSimilarity]
				c.Similarity = &s
			}
		}

		if c.Pass {
			v.Passed++
		} else {
			v.Failed++
			v.Pass = false
		}
		v.Comparisons = append(v.Comparisons, c)
	}
	return v
}

// -----------------------------------------------------------------------------
// Scoreboard
// -----------------------------------------------------------------------------

// Config configures a Scoreboard.
type Config struct {
	// Thresholds overrides definition thresholds by metric name.
	Thresholds map[string]float64

	Logger *slog.Logger
}

// Option configures the scoreboard.
type Option func(*Config)

// WithThresholdOverrides replaces thresholds for the named metrics.
func WithThresholdOverrides(thresholds map[string]float64) Option {
	return func(c *Config) {
		c.Thresholds = thresholds
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// Scoreboard wraps Evaluate with tracing, logging and threshold overrides.
//
// Thread Safety: Safe for concurrent use.
type Scoreboard struct {
	config Config
}

// New creates a scoreboard.
func New(opts ...Option) *Scoreboard {
	cfg := Config{Logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Scoreboard{config: cfg}
}

// Decide evaluates both runs after applying threshold overrides.
func (s *Scoreboard) Decide(ctx context.Context, old, cur map[string]*metrics.Record, defs []metrics.Definition, warnings []string) (*Verdict, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	_, span := otel.Tracer("scoreboard").Start(ctx, "scoreboard.Scoreboard.Decide",
		trace.WithAttributes(
			attribute.Int("old_testcases", len(old)),
			attribute.Int("new_testcases", len(cur)),
			attribute.Int("metrics", len(defs)),
		),
	)
	defer span.End()

	verdict := Evaluate(old, cur, s.applyOverrides(defs), warnings)

	span.SetAttributes(
		attribute.Bool("pass", verdict.Pass),
		attribute.Int("failures", len(verdict.Failures)),
		attribute.Int("warnings", len(verdict.Warnings)),
	)
	if !verdict.Pass {
		span.SetStatus(codes.Error, "verification failed")
	}

	s.config.Logger.Info("scoreboard decision",
		slog.Bool("pass", verdict.Pass),
		slog.Int("total", verdict.Total),
		slog.Int("passed", verdict.Passed),
		slog.Int("failed", verdict.Failed),
		slog.Int("warnings", len(verdict.Warnings)),
	)
	return verdict, nil
}

func (s *Scoreboard) applyOverrides(defs []metrics.Definition) []metrics.Definition {
	if len(s.config.Thresholds) == 0 {
		return defs
	}
	out := make([]metrics.Definition, len(defs))
	for i, d := range defs {
		if v, ok := s.config.Thresholds[d.Name]; ok {
			d.Threshold = metrics.Threshold(v)
		}
		out[i] = d
	}
	return out
}

// WarningStrings formats extraction warnings for a verdict.
func WarningStrings(ws ...[]metrics.Warning) []string {
	var out []string
	for _, set := range ws {
		for _, w := range set {
			out = append(out, w.String())
		}
	}
	return out
}
