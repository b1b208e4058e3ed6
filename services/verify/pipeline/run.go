// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/vercheck/services/verify/metrics"
	"github.com/AleutianAI/vercheck/services/verify/publish"
	"github.com/AleutianAI/vercheck/services/verify/report"
	"github.com/AleutianAI/vercheck/services/verify/scoreboard"
	"github.com/AleutianAI/vercheck/services/verify/waveform"
)

func fmtDirErr(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingDirectory, name)
}

// runInputs holds what was read from one simulation directory.
type runInputs struct {
	log       string
	logs      map[string]string
	testcases []string
	warnings  []string
}

// Run performs one verification.
//
// Description:
//
//	Seals the registry, reads both runs, extracts them in parallel and
//	decides the verdict. Reports land in <reports>/<timestamp>_<id>/ and
//	the metrics table in <tmp>/verification_metrics.csv. The run is then
//	published, persisted and recorded.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//
// Outputs:
//
//	*Result - The verdict and where it was written.
//	error - Registry configuration errors, cancellation, or report I/O
//	errors. A failing verdict is not an error.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	start := time.Now()
	runID := p.newID()

	ctx, span := otel.Tracer("pipeline").Start(ctx, "pipeline.Pipeline.Run",
		trace.WithAttributes(
			attribute.String("run_id", runID),
			attribute.String("project", p.cfg.Project),
			attribute.String("old_version", p.cfg.OldVersion),
			attribute.String("new_version", p.cfg.NewVersion),
		),
	)
	defer span.End()

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !p.registry.Sealed() {
		if err := p.registry.Seal(); err != nil {
			return fail(fmt.Errorf("seal registry: %w", err))
		}
	}

	oldIn, err := readRun(p.cfg.OldDir, "old")
	if err != nil {
		return fail(err)
	}
	newIn, err := readRun(p.cfg.NewDir, "new")
	if err != nil {
		return fail(err)
	}
	oldIn.testcases = union(oldIn.testcases, p.cfg.ExpectedTestCases)

	cache := waveform.NewCache(DefaultCacheSize)
	extractor := metrics.NewExtractor(p.registry,
		metrics.WithConcurrency(p.cfg.Concurrency),
		metrics.WithLogger(p.logger),
	)

	var oldRes, newRes *metrics.RunResult
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		oldRes, err = extractor.Run(gCtx, metrics.RunInput{
			Run:             metrics.RunOld,
			TestCases:       oldIn.testcases,
			ArtifactDir:     p.cfg.OldDir,
			PeerArtifactDir: p.cfg.NewDir,
			Log:             oldIn.log,
			Logs:            oldIn.logs,
			Waveforms:       cache,
		})
		return err
	})
	g.Go(func() error {
		var err error
		newRes, err = extractor.Run(gCtx, metrics.RunInput{
			Run:             metrics.RunNew,
			TestCases:       newIn.testcases,
			ArtifactDir:     p.cfg.NewDir,
			PeerArtifactDir: p.cfg.OldDir,
			Log:             newIn.log,
			Logs:            newIn.logs,
			Waveforms:       cache,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	warnings := append(append([]string{}, oldIn.warnings...), newIn.warnings...)
	warnings = append(warnings, scoreboard.WarningStrings(oldRes.Warnings, newRes.Warnings)...)

	defs := p.registry.Definitions()
	verdict, err := p.scoreboard.Decide(ctx, oldRes.Records, newRes.Records, defs, warnings)
	if err != nil {
		return fail(err)
	}

	res, err := p.finish(ctx, runID, defs, verdict, oldRes.Records, newRes.Records)
	if err != nil {
		return fail(err)
	}
	res.Old, res.New = oldRes, newRes
	res.Duration = time.Since(start)

	p.record(ctx, res)
	span.SetAttributes(attribute.Bool("pass", res.Pass()))

	p.logger.Info("verification complete",
		slog.String("run_id", runID),
		slog.Bool("pass", res.Pass()),
		slog.Int("testcases", verdict.Total),
		slog.Int("failures", len(verdict.Failures)),
		slog.Int("warnings", len(res.Document.Warnings)),
		slog.String("report_dir", res.ReportDir),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// Rescore rebuilds a verdict from the metrics table left by an earlier run,
// without re-reading logs or waveforms. Current thresholds apply.
func (p *Pipeline) Rescore(ctx context.Context) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	start := time.Now()
	if !p.registry.Sealed() {
		if err := p.registry.Seal(); err != nil {
			return nil, fmt.Errorf("seal registry: %w", err)
		}
	}

	table, err := report.ReadTable(filepath.Join(p.cfg.TmpDir, report.TableFile))
	if err != nil {
		return nil, fmt.Errorf("read metrics table: %w", err)
	}
	oldRecs, newRecs := table.Records(metrics.RunOld), table.Records(metrics.RunNew)

	defs := withTableColumns(p.registry.Definitions(), metrics.Discovered(p.registry.Names(), oldRecs, newRecs))
	verdict, err := p.scoreboard.Decide(ctx, oldRecs, newRecs, defs, nil)
	if err != nil {
		return nil, err
	}
	res, err := p.finish(ctx, p.newID(), defs, verdict, oldRecs, newRecs)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	p.record(ctx, res)
	return res, nil
}

// withTableColumns appends a neutral definition for every table column the
// registry does not know, so the report still shows it.
func withTableColumns(defs []metrics.Definition, columns []string) []metrics.Definition {
	known := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		known[d.Name] = struct{}{}
	}
	out := append([]metrics.Definition(nil), defs...)
	for _, name := range columns {
		if _, ok := known[name]; !ok {
			out = append(out, metrics.Definition{Name: name, Direction: metrics.Neutral})
		}
	}
	return out
}

// finish builds the document, writes reports and the table, then
// publishes and persists.
func (p *Pipeline) finish(ctx context.Context, runID string, defs []metrics.Definition, verdict *scoreboard.Verdict, oldRecs, newRecs map[string]*metrics.Record) (*Result, error) {
	generated := p.now()
	doc, err := report.Build(report.Meta{
		Project:     p.cfg.Project,
		OldVersion:  p.cfg.OldVersion,
		NewVersion:  p.cfg.NewVersion,
		RunID:       runID,
		GeneratedAt: generated,
	}, defs, verdict)
	if err != nil {
		return nil, err
	}

	schema := p.registry.Names()
	tablePath := filepath.Join(p.cfg.TmpDir, report.TableFile)
	if err := report.WriteTable(tablePath, metrics.RunOld, oldRecs, schema); err != nil {
		return nil, fmt.Errorf("write old table rows: %w", err)
	}
	if err := report.WriteTable(tablePath, metrics.RunNew, newRecs, schema); err != nil {
		return nil, fmt.Errorf("write new table rows: %w", err)
	}

	dir := filepath.Join(p.cfg.ReportsDir, ReportDirName(generated, runID))
	files, err := report.WriteFiles(dir, doc)
	if err != nil {
		return nil, err
	}
	files = append(files, tablePath)

	if len(p.publishers) > 0 {
		errs := publish.All(ctx, p.publishers, doc, files)
		for _, e := range errs {
			var pe *publish.Error
			if errors.As(e, &pe) {
				p.instruments.RecordPublishError(ctx, pe.Publisher)
			}
			p.logger.Warn("publish failed", slog.String("error", e.Error()))
			doc.Warnings = append(doc.Warnings, e.Error())
		}
		if len(errs) > 0 {
			// Rewrite so the reports list the publisher warnings too.
			if _, err := report.WriteFiles(dir, doc); err != nil {
				return nil, err
			}
		}
	}

	if p.store != nil {
		if err := p.store.SaveRun(ctx, doc, dir); err != nil {
			p.logger.Warn("persist run failed",
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		}
	}

	return &Result{
		RunID:     runID,
		Document:  doc,
		Verdict:   verdict,
		ReportDir: dir,
		Files:     files,
	}, nil
}

func (p *Pipeline) record(ctx context.Context, res *Result) {
	p.instruments.RecordRun(ctx, res.Document, res.Duration)
	if p.textfile == nil {
		return
	}
	if err := p.textfile.Record(res.Document); err != nil {
		p.logger.Warn("record verdict gauges failed", slog.String("error", err.Error()))
		return
	}
	if p.textPath != "" {
		if err := p.textfile.WriteTextfile(p.textPath); err != nil {
			p.logger.Warn("write textfile failed", slog.String("error", err.Error()))
		}
	}
}

// ReportDirName is the directory name of one run's reports.
func ReportDirName(generated time.Time, runID string) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return generated.UTC().Format("20060102-150405") + "_" + short
}

// readRun loads the logs of one simulation directory. A missing directory
// or aggregated log is a warning and yields an empty run.
func readRun(dir, side string) (*runInputs, error) {
	in := &runInputs{logs: make(map[string]string)}

	raw, err := os.ReadFile(filepath.Join(dir, AggregatedLog))
	switch {
	case err == nil:
		in.log = string(raw)
	case errors.Is(err, fs.ErrNotExist):
		in.warnings = append(in.warnings, fmt.Sprintf("%s run log %s unavailable: %v", side, filepath.Join(dir, AggregatedLog), err))
	default:
		return nil, fmt.Errorf("read %s run log: %w", side, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list %s run directory: %w", side, err)
	}
	var perCase []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".log" || name == AggregatedLog {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s log %s: %w", side, name, err)
		}
		tc := strings.TrimSuffix(name, ".log")
		in.logs[tc] = string(b)
		perCase = append(perCase, tc)
	}

	in.testcases = union(metrics.DiscoverTestCases(in.log), perCase)
	return in, nil
}

// union returns the sorted distinct names of both lists.
func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
