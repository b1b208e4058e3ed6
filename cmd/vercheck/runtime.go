// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/vercheck/cmd/vercheck/config"
	"github.com/AleutianAI/vercheck/services/verify/pipeline"
	"github.com/AleutianAI/vercheck/services/verify/publish"
	"github.com/AleutianAI/vercheck/services/verify/scoreboard"
	"github.com/AleutianAI/vercheck/services/verify/storage"
	"github.com/AleutianAI/vercheck/services/verify/storage/badger"
	"github.com/AleutianAI/vercheck/services/verify/storage/bolt"
	"github.com/AleutianAI/vercheck/services/verify/telemetry"
)

// ErrHistoryDisabled is returned by commands that need the run history
// when storage.backend is "none".
var ErrHistoryDisabled = errors.New("run history is disabled (storage.backend: none)")

// openStore opens the configured history backend. A "none" backend
// returns a nil store.
func openStore(s config.StorageSettings, logger *slog.Logger) (storage.Store, error) {
	switch s.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendBolt:
		return bolt.Open(s.Path)
	case config.BackendBadger, "":
		cfg := badger.DefaultConfig()
		cfg.Path = s.Path
		cfg.Logger = logger
		return badger.Open(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
}

// openPublishers creates the publishers enabled in the settings.
func openPublishers(ctx context.Context, s config.PublisherSettings) ([]publish.Publisher, error) {
	var pubs []publish.Publisher
	if s.Influx != nil {
		p, err := publish.NewInflux(*s.Influx)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if s.GCS != nil {
		p, err := publish.NewGCS(ctx, *s.GCS)
		if err != nil {
			publish.CloseAll(pubs)
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}

// runtimeOptions selects which optional stages a command wires in.
type runtimeOptions struct {
	store   bool
	publish bool
}

// runtime is a pipeline with the resources it owns.
type runtime struct {
	pipeline   *pipeline.Pipeline
	store      storage.Store
	publishers []publish.Publisher
}

// Close releases the store and publishers.
func (r *runtime) Close() error {
	var errs []error
	if err := publish.CloseAll(r.publishers); err != nil {
		errs = append(errs, err)
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openRuntime builds the pipeline described by the settings.
func (a *app) openRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	reg, err := a.settings.Registry()
	if err != nil {
		return nil, err
	}
	popts := []pipeline.Option{
		pipeline.WithLogger(a.log),
		pipeline.WithScoreboard(scoreboard.New(scoreboard.WithLogger(a.log))),
	}

	instruments, err := telemetry.NewInstruments(nil)
	if err != nil {
		return nil, err
	}
	popts = append(popts, pipeline.WithInstruments(instruments))

	if path := a.settings.Telemetry.Textfile; path != "" {
		sink, err := telemetry.NewTextfileSink()
		if err != nil {
			return nil, err
		}
		popts = append(popts, pipeline.WithTextfile(sink, path))
	}

	rt := &runtime{}
	if opts.store {
		rt.store, err = openStore(a.settings.Storage, a.log)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		if rt.store != nil {
			popts = append(popts, pipeline.WithStore(rt.store))
		}
	}
	if opts.publish {
		rt.publishers, err = openPublishers(ctx, a.settings.Publishers)
		if err != nil {
			rt.Close()
			return nil, err
		}
		popts = append(popts, pipeline.WithPublishers(rt.publishers...))
	}

	rt.pipeline, err = pipeline.New(a.settings.PipelineConfig(), reg, popts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// verdict prints a result and maps a failing verdict to ErrVerdictFailed.
func (a *app) verdict(res *pipeline.Result) error {
	a.printer.Verdict(res.Document, res.Files)
	if !res.Pass() {
		return ErrVerdictFailed
	}
	return nil
}
