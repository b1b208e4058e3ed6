// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger stores run history in an embedded BadgerDB.
//
// Layout:
//
//	run/<id>                 -> JSON storage.Run
//	idx/<unix-nanos>/<id>    -> <id>
//
// The index keys sort by generation time, so listings iterate it in reverse
// to return the newest runs first.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/vercheck/services/verify/report"
	"github.com/AleutianAI/vercheck/services/verify/storage"
)

// Config holds configuration for the history database.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests and dry runs.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64

	// Logger receives BadgerDB's internal messages. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by `vercheck run`.
//
// Description:
//
//	Durable writes and a ten minute GC interval. History grows by one
//	document per run, so GC rarely finds anything to rewrite.
//
// Outputs:
//
//	Config - Production configuration; Path must still be set.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// open creates the database directory and opens BadgerDB.
func open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent history")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger history: %w", err)
	}
	return db, nil
}

// GCRunner runs periodic value log garbage collection.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewGCRunner validates its inputs and returns a stopped runner.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio <= 0 || ratio >= 1 {
		return nil, errors.New("ratio must be between 0 and 1 exclusive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the GC goroutine.
func (r *GCRunner) Start() {
	go r.run()
}

// Stop halts the GC goroutine and waits for it. Safe to call more than once.
func (r *GCRunner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.doneCh
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

func (r *GCRunner) collect() {
	err := r.db.RunValueLogGC(r.ratio)
	switch {
	case err == nil:
		r.logger.Debug("history value log GC completed")
	case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrRejected):
	default:
		r.logger.Warn("history value log GC failed", slog.String("error", err.Error()))
	}
}

// Store is a storage.Store backed by BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db       *badger.DB
	gc       *GCRunner
	path     string
	inMemory bool

	mu     sync.RWMutex
	closed bool
}

var _ storage.Store = (*Store)(nil)

// Open opens the history database described by cfg.
//
// Description:
//
//	Opens BadgerDB and starts the GC runner when GCInterval is positive
//	and the database is on disk.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory.
//
// Outputs:
//
//	*Store - The history store. Caller must Close it.
//	error - Non-nil if the path is missing or BadgerDB fails to open.
func Open(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: cfg.Path, inMemory: cfg.InMemory}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := NewGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.Start()
	}
	return s, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Path returns the database directory, empty when in memory.
func (s *Store) Path() string {
	return s.path
}

// InMemory reports whether the store is RAM only.
func (s *Store) InMemory() bool {
	return s.inMemory
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gc != nil {
		s.gc.Stop()
	}
	return s.db.Close()
}

// withTxn runs fn in a read-write transaction and commits when it returns
// nil.
func (s *Store) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := storage.CheckContext(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// withReadTxn runs fn in a read-only transaction.
func (s *Store) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := storage.CheckContext(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}

	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

// SaveRun stores doc under its RunID, replacing any earlier copy.
func (s *Store) SaveRun(ctx context.Context, doc *report.Document, reportDir string) error {
	sum, raw, err := storage.Encode(doc, reportDir)
	if err != nil {
		return err
	}
	return s.withTxn(ctx, func(txn *badger.Txn) error {
		if err := deleteIndex(txn, sum.ID); err != nil {
			return err
		}
		if err := txn.Set(storage.RunKey(sum.ID), raw); err != nil {
			return fmt.Errorf("put run %s: %w", sum.ID, err)
		}
		return txn.Set(storage.IndexKey(sum.GeneratedAt, sum.ID), []byte(sum.ID))
	})
}

// GetRun returns the run with the given ID or storage.ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	if id == "" {
		return nil, storage.ErrEmptyID
	}
	var run *storage.Run
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		r, err := getRun(txn, id)
		run = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns up to limit summaries, newest first. A limit of zero or
// less returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]storage.RunSummary, error) {
	var out []storage.RunSummary
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(storage.IndexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key under the prefix.
		seek := append([]byte(storage.IndexPrefix), 0xFF)
		for it.Seek(seek); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read index: %w", err)
			}
			run, err := getRun(txn, string(id))
			if errors.Is(err, storage.ErrRunNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, run.Summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRun removes a run and its index entry.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if id == "" {
		return storage.ErrEmptyID
	}
	return s.withTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(storage.RunKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
			}
			return fmt.Errorf("get run %s: %w", id, err)
		}
		if err := deleteIndex(txn, id); err != nil {
			return err
		}
		return txn.Delete(storage.RunKey(id))
	})
}

func getRun(txn *badger.Txn, id string) (*storage.Run, error) {
	item, err := txn.Get(storage.RunKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", id, err)
	}
	return storage.Decode(raw)
}

// deleteIndex removes the index entry of an existing run, if any.
func deleteIndex(txn *badger.Txn, id string) error {
	run, err := getRun(txn, id)
	if errors.Is(err, storage.ErrRunNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	key := storage.IndexKey(run.Summary.GeneratedAt, id)
	if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete index %s: %w", bytes.TrimPrefix(key, []byte(storage.IndexPrefix)), err)
	}
	return nil
}
