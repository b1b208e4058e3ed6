// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reruns verification when simulation artifacts change.
//
// A Watcher observes the old and new simulation directories and collects
// changes to logs and waveforms. Once the directories have been quiet for
// the debounce window the batch is handed to the handler, so a driver
// rewriting a dozen files produces one rerun.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

var (
	// ErrNoDirectories is returned when no directory is given.
	ErrNoDirectories = errors.New("watch: no directories")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("watch: already started")
)

// Op is the kind of change observed.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

// String returns the lower-case name of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one artifact change.
type Change struct {
	Path string
	Op   Op
	Time time.Time
}

// Handler receives a debounced batch, one change per path in path order.
type Handler func(ctx context.Context, changes []Change)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the directories must be quiet before a batch is
	// delivered.
	Debounce time.Duration

	// Extensions limits which files count as artifacts. Empty accepts
	// everything not ignored.
	Extensions []string

	// Ignore holds base-name globs that are never reported.
	Ignore []string

	// BufferSize bounds the queue between fsnotify and the debouncer.
	BufferSize int

	Logger *slog.Logger
}

// DefaultOptions watches .log and .vcd files with a 500ms debounce.
func DefaultOptions() Options {
	return Options{
		Debounce:   500 * time.Millisecond,
		Extensions: []string{".log", ".vcd"},
		Ignore:     []string{".*", "*.tmp", "*.swp", "*~"},
		BufferSize: 1024,
	}
}

// Watcher watches directory trees for artifact changes.
//
// Thread Safety: Start, Stop and Dropped are safe for concurrent use. The
// handler runs on a single goroutine and never concurrently with itself.
type Watcher struct {
	dirs    []string
	handler Handler
	opts    Options
	logger  *slog.Logger
	fsw     *fsnotify.Watcher

	changes  chan Change
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	dropped int
}

// New creates a watcher over dirs. Call Start to begin watching.
//
// Description:
//
//	Missing directories are allowed at construction; Start reports them.
//	Zero option fields take the DefaultOptions values.
//
// Inputs:
//
//	dirs - Directories to watch recursively.
//	handler - Receives each debounced batch. Must not be nil.
//	opts - Watcher options.
//
// Outputs:
//
//	*Watcher - Ready to Start.
//	error - ErrNoDirectories or an fsnotify error.
func New(dirs []string, handler Handler, opts Options) (*Watcher, error) {
	if len(dirs) == 0 {
		return nil, ErrNoDirectories
	}
	if handler == nil {
		return nil, errors.New("watch: nil handler")
	}
	defaults := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = defaults.Debounce
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.Ignore == nil {
		opts.Ignore = defaults.Ignore
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		dirs:     append([]string(nil), dirs...),
		handler:  handler,
		opts:     opts,
		logger:   logger,
		fsw:      fsw,
		changes:  make(chan Change, opts.BufferSize),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}, nil
}

// Start adds the directory trees and begins delivering batches. Watching
// ends when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	for _, dir := range w.dirs {
		if err := w.addTree(dir); err != nil {
			w.mu.Lock()
			w.started = false
			w.mu.Unlock()
			return err
		}
	}

	go w.events(ctx)
	go w.debounce(ctx)
	return nil
}

// Run starts the watcher and blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// Stop ends watching and waits for an in-flight batch to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.finished
	}
}

// Dropped reports how many changes were discarded because the queue was
// full.
func (w *Watcher) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.opts.Ignore {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

// Relevant reports whether a file path is an artifact the watcher reports.
func (w *Watcher) Relevant(path string) bool {
	if w.ignored(path) {
		return false
	}
	if len(w.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (w *Watcher) events(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if !w.ignored(ev.Name) {
						if err := w.addTree(ev.Name); err != nil {
							w.logger.Warn("watch new directory", slog.String("path", ev.Name), slog.String("error", err.Error()))
						}
					}
					continue
				}
			}
			if !w.Relevant(ev.Name) {
				continue
			}
			change := Change{Path: ev.Name, Op: convertOp(ev.Op), Time: time.Now()}
			select {
			case w.changes <- change:
			default:
				w.mu.Lock()
				w.dropped++
				w.mu.Unlock()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

func (w *Watcher) debounce(ctx context.Context) {
	defer close(w.finished)

	var batch []Change
	timer := time.NewTimer(w.opts.Debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case c := <-w.changes:
			batch = append(batch, c)
			timer.Reset(w.opts.Debounce)
		case <-timer.C:
			if len(batch) == 0 {
				continue
			}
			w.handler(ctx, Coalesce(batch))
			batch = batch[:0]
		}
	}
}

// Coalesce keeps the latest change per path and sorts by path.
func Coalesce(changes []Change) []Change {
	latest := make(map[string]Change, len(changes))
	for _, c := range changes {
		latest[c.Path] = c
	}
	out := make([]Change, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
