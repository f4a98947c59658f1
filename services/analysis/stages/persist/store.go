// Copyright (C) 2025 Meridian Health (engineering@meridian-health.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package persist stores finished analysis reports in an embedded
// BadgerDB database.
//
// Reports are keyed report/<mrn>/<assembled-at-unixnano> so a prefix scan
// over one subject yields that subject's reports in chronological order.
// Badger gives local, low-latency (~100µs) persistence with no external
// service to run.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/meridian-health/chartgate/services/analysis/datatypes"
	"github.com/meridian-health/chartgate/services/analysis/faults"
)

// Config holds configuration for the report store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is
	// true.
	Path string

	// InMemory keeps the database off disk. Useful for testing.
	InMemory bool

	// SyncWrites forces each commit to disk before returning.
	SyncWrites bool

	// Logger receives Badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable synchronous writes
// at the given path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
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
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store persists analysis reports.
//
// Thread Safety: safe for concurrent use; Badger handles its own
// transaction isolation.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens the report store, creating the database directory when
// needed. Callers must Close the store when done.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create report store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory opens a throwaway in-memory store for tests.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func reportKey(report *datatypes.AnalysisReport) []byte {
	return []byte(fmt.Sprintf("report/%s/%020d", report.MRN, report.AssembledAt.UnixNano()))
}

func subjectPrefix(mrn string) []byte {
	return []byte("report/" + mrn + "/")
}

// Save persists one report and returns its opaque storage location. The
// report must carry an MRN and a quality assessment; persistence runs
// after the gate, never before it.
func (s *Store) Save(ctx context.Context, report *datatypes.AnalysisReport) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", faults.Wrap(faults.KindReportStorage, err, "report store save canceled")
	}
	if report == nil || report.MRN == "" {
		return "", faults.New(faults.KindReportStorage, "report has no subject identity")
	}
	if report.Quality == nil {
		return "", faults.New(faults.KindReportStorage, "report has no quality assessment; refusing to persist ungated output")
	}

	data, err := json.Marshal(report)
	if err != nil {
		return "", faults.Wrap(faults.KindReportStorage, err, "encode report")
	}

	key := reportKey(report)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return "", faults.Wrap(faults.KindReportStorage, err, "write report")
	}

	location := "badger://" + string(key)
	s.logger.Debug("report persisted",
		slog.String("location", location),
		slog.Int("bytes", len(data)),
	)
	return location, nil
}

// Latest returns the most recent report persisted for a subject.
func (s *Store) Latest(ctx context.Context, mrn string) (*datatypes.AnalysisReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, faults.Wrap(faults.KindReportStorage, err, "report store read canceled")
	}

	var data []byte
	prefix := subjectPrefix(mrn)
	err := s.db.View(func(txn *badger.Txn) error {
		// Keys are zero-padded timestamps; a reverse scan from just past
		// the prefix lands on the newest entry first.
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xff)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return badger.ErrKeyNotFound
		}
		return it.Item().Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, faults.New(faults.KindReportNotFound, "no reports stored for subject")
	}
	if err != nil {
		return nil, faults.Wrap(faults.KindReportStorage, err, "read report")
	}

	var report datatypes.AnalysisReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, faults.Wrap(faults.KindReportStorage, err, "decode stored report")
	}
	return &report, nil
}

// Count returns the number of reports stored for a subject.
func (s *Store) Count(ctx context.Context, mrn string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, faults.Wrap(faults.KindReportStorage, err, "report store read canceled")
	}

	n := 0
	prefix := subjectPrefix(mrn)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, faults.Wrap(faults.KindReportStorage, err, "count reports")
	}
	return n, nil
}
