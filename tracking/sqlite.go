// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// Project is the name the sweeps are registered under.
const Project = "ssgnn"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sweeps (
	id         TEXT PRIMARY KEY,
	project    TEXT NOT NULL,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	sweep_id  TEXT NOT NULL REFERENCES sweeps(id),
	name      TEXT NOT NULL,
	logged_at TEXT NOT NULL,
	fields    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_sweep ON records(sweep_id, name);
`

// SQLiteSink stores records in a SQLite database, one row per record with the fields encoded as JSON.
//
// Each SQLiteSink opened is a new sweep, identified by a random UUID: records of different
// invocations of the program can share the same database file.
type SQLiteSink struct {
	db      *sql.DB
	path    string
	sweepID string
}

var _ Sink = (*SQLiteSink)(nil)

// OpenSQLite opens (or creates) the database at path and starts a new sweep.
func OpenSQLite(path string) (*SQLiteSink, error) {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "creating directory for metrics database %q", path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening metrics database %q", path)
	}
	// Writes are sequential, a single connection avoids "database is locked" errors.
	db.SetMaxOpenConns(1)
	s := &SQLiteSink{db: db, path: path, sweepID: uuid.NewString()}
	if err = s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) init() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return errors.Wrapf(err, "enabling WAL mode in %q", s.path)
	}
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return errors.Wrapf(err, "creating schema in %q", s.path)
	}
	if _, err := s.db.Exec("INSERT INTO sweeps (id, project, started_at) VALUES (?, ?, ?)",
		s.sweepID, Project, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return errors.Wrapf(err, "registering sweep in %q", s.path)
	}
	return nil
}

// SweepID returns the UUID of the sweep the records are stored under.
func (s *SQLiteSink) SweepID() string {
	return s.sweepID
}

// Log implements Sink.
func (s *SQLiteSink) Log(ctx context.Context, record Record) error {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return errors.Wrapf(err, "encoding fields of record %q", record.Name)
	}
	loggedAt := record.Time
	if loggedAt.IsZero() {
		loggedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO records (sweep_id, name, logged_at, fields) VALUES (?, ?, ?, ?)",
		s.sweepID, record.Name, loggedAt.UTC().Format(time.RFC3339Nano), string(fields))
	if err != nil {
		return errors.Wrapf(err, "inserting record %q in %q", record.Name, s.path)
	}
	return nil
}

// Records returns the records of the sweep with the given name, in the order they were logged.
// If name is empty, all records of the sweep are returned.
//
// Numeric fields are returned as float64, as decoded from JSON.
func (s *SQLiteSink) Records(ctx context.Context, sweepID, name string) ([]Record, error) {
	query := "SELECT name, logged_at, fields FROM records WHERE sweep_id = ?"
	args := []any{sweepID}
	if name != "" {
		query += " AND name = ?"
		args = append(args, name)
	}
	query += " ORDER BY id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "querying records of sweep %s", sweepID)
	}
	defer func() { _ = rows.Close() }()
	var records []Record
	for rows.Next() {
		var r Record
		var loggedAt, fields string
		if err = rows.Scan(&r.Name, &loggedAt, &fields); err != nil {
			return nil, errors.Wrap(err, "scanning record")
		}
		if r.Time, err = time.Parse(time.RFC3339Nano, loggedAt); err != nil {
			return nil, errors.Wrapf(err, "parsing time %q of record %q", loggedAt, r.Name)
		}
		if err = json.Unmarshal([]byte(fields), &r.Fields); err != nil {
			return nil, errors.Wrapf(err, "decoding fields of record %q", r.Name)
		}
		records = append(records, r)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating records")
	}
	return records, nil
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
