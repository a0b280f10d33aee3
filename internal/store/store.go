// Package store archives analysis reports in BadgerDB
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
)

const reportPrefix = "report/"

// ErrNotFound is returned when no report has the requested ID
var ErrNotFound = errors.New("report not found")

// Options configures the archive
type Options struct {
	// Dir holds the badger files. Required unless InMemory is set.
	Dir string
	// InMemory keeps everything in memory, for tests and dry runs
	InMemory bool
}

// Store is a report archive keyed by report ID
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens or creates the archive
func Open(opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).
		WithLogger(badgerLogger{logger: logger.With("component", "badger")})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logger.Info("report store opened", "dir", opts.Dir, "in_memory", opts.InMemory)
	return &Store{db: db, logger: logger}, nil
}

func key(id string) []byte {
	return []byte(reportPrefix + id)
}

// Put writes a report, replacing any report with the same ID
func (s *Store) Put(_ context.Context, rep analysis.Report) error {
	if rep.ID == "" {
		return errors.New("store: report has no id")
	}
	data, err := msgpack.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rep.ID), data)
	})
}

// PutAll writes reports in one batch
func (s *Store) PutAll(_ context.Context, reps []analysis.Report) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, rep := range reps {
		data, err := msgpack.Marshal(rep)
		if err != nil {
			return fmt.Errorf("encode report %s: %w", rep.ID, err)
		}
		if err := wb.Set(key(rep.ID), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Get returns the report with the given ID
func (s *Store) Get(_ context.Context, id string) (analysis.Report, error) {
	var rep analysis.Report
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &rep)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return analysis.Report{}, ErrNotFound
	}
	if err != nil {
		return analysis.Report{}, fmt.Errorf("get report %s: %w", id, err)
	}
	return rep, nil
}

// Delete removes a report. Deleting a missing report is not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
}

// Filter narrows List results
type Filter struct {
	// Kind keeps only reports of this kind when set
	Kind analysis.Kind
	// Limit caps the number of reports returned when positive
	Limit int
}

// List returns archived reports, newest first
func (s *Store) List(_ context.Context, f Filter) ([]analysis.Report, error) {
	var out []analysis.Report
	prefix := []byte(reportPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rep analysis.Report
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rep)
			})
			if err != nil {
				s.logger.Warn("skipping unreadable report", "key", string(it.Item().Key()), "error", err)
				continue
			}
			if f.Kind != "" && rep.Kind != f.Kind {
				continue
			}
			out = append(out, rep)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Ping checks that the database accepts reads
func (s *Store) Ping() error {
	if s.db.IsClosed() {
		return errors.New("store closed")
	}
	return s.db.View(func(*badger.Txn) error { return nil })
}

// Close flushes and closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's printf logging into slog. Info and debug
// chatter is dropped.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
