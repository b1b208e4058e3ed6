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
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/vercheck/services/verify/server"
	"github.com/AleutianAI/vercheck/services/verify/telemetry"
	"github.com/AleutianAI/vercheck/services/verify/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	var initial bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rerun verification whenever simulation artifacts change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.initTelemetry(ctx); err != nil {
				return err
			}
			rt, err := a.openRuntime(ctx, runtimeOptions{store: true, publish: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			verify := func(ctx context.Context) {
				res, err := rt.pipeline.Run(ctx)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						a.printer.Error(err.Error())
					}
					return
				}
				_ = a.verdict(res)
			}

			opts := watch.DefaultOptions()
			opts.Debounce = debounce
			opts.Logger = a.log
			w, err := watch.New(
				[]string{a.settings.Directories.SimOld, a.settings.Directories.SimNew},
				func(ctx context.Context, changes []watch.Change) {
					a.log.Info("artifacts changed", slog.Int("files", len(changes)))
					verify(ctx)
				},
				opts,
			)
			if err != nil {
				return err
			}
			if initial {
				verify(ctx)
			}
			a.printer.Info("watching " + a.settings.Directories.SimOld + " and " + a.settings.Directories.SimNew)
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultOptions().Debounce, "quiet period before a rerun")
	cmd.Flags().BoolVar(&initial, "initial", true, "run once before watching")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	var allowDelete bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.initTelemetry(ctx); err != nil {
				return err
			}
			store, err := openStore(a.settings.Storage, a.log)
			if err != nil {
				return err
			}
			if store == nil {
				return ErrHistoryDisabled
			}
			defer store.Close()

			cfg := a.settings.Server
			if addr != "" {
				cfg.Addr = addr
			}
			if allowDelete {
				cfg.AllowDelete = true
			}
			opts := []server.Option{server.WithLogger(a.log)}
			if h := telemetry.MetricsHandler(); h != nil {
				opts = append(opts, server.WithMetricsHandler(h))
			}
			srv, err := server.New(cfg, store, opts...)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().BoolVar(&allowDelete, "allow-delete", false, "enable DELETE /api/v1/runs/:id")
	return cmd
}
