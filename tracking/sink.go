// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tracking records experiment metrics: per-epoch validation accuracy, per-run results
// and sweep summaries.
//
// A Sink receives Records. LogSink writes them with klog, SQLiteSink stores them in a SQLite
// database and Multi fans records out to several sinks.
package tracking

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Well known record names.
const (
	// RecordEpoch is emitted after every evaluation, with the fields "epoch", "loss" and "val_acc".
	RecordEpoch = "epoch"

	// RecordRun is emitted after each run of a seed sweep, with the fields "seed", "var" (the best
	// validation accuracy) and "test".
	RecordRun = "run"

	// RecordGridCell is emitted after each cell of a grid search, with the fields
	// "reduced_dimension", "loss_weight" and "val_mean".
	RecordGridCell = "grid_cell"

	// RecordSummary is emitted at the end of a sweep.
	RecordSummary = "summary"
)

// Record is one set of named metric values.
type Record struct {
	Name   string
	Time   time.Time
	Fields map[string]any
}

// NewRecord creates a record timestamped now, from a list of key/value pairs.
// It panics if keys are not strings or if a key has no value.
func NewRecord(name string, keysAndValues ...any) Record {
	if len(keysAndValues)%2 != 0 {
		panic(errors.Errorf("tracking.NewRecord(%q): odd number of keys and values (%d)", name, len(keysAndValues)))
	}
	r := Record{Name: name, Time: time.Now(), Fields: make(map[string]any, len(keysAndValues)/2)}
	for i := 0; i < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			panic(errors.Errorf("tracking.NewRecord(%q): key #%d is a %T, not a string", name, i/2, keysAndValues[i]))
		}
		r.Fields[key] = keysAndValues[i+1]
	}
	return r
}

// Keys returns the field names sorted.
func (r Record) Keys() []string {
	return slices.Sorted(maps.Keys(r.Fields))
}

// String implements fmt.Stringer.
func (r Record) String() string {
	parts := make([]string, 0, len(r.Fields))
	for _, key := range r.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%v", key, r.Fields[key]))
	}
	return fmt.Sprintf("%s{%s}", r.Name, strings.Join(parts, ", "))
}

// Sink receives metric records.
type Sink interface {
	Log(ctx context.Context, record Record) error
	Close() error
}

// LogSink writes records with klog, at the given verbosity level.
type LogSink struct {
	Verbosity klog.Level
}

var _ Sink = (*LogSink)(nil)

// NewLogSink returns a sink logging records at verbosity level.
func NewLogSink(level klog.Level) *LogSink {
	return &LogSink{Verbosity: level}
}

// Log implements Sink.
func (s *LogSink) Log(_ context.Context, record Record) error {
	if !klog.V(s.Verbosity).Enabled() {
		return nil
	}
	keysAndValues := make([]any, 0, 2*len(record.Fields))
	for _, key := range record.Keys() {
		keysAndValues = append(keysAndValues, key, record.Fields[key])
	}
	klog.V(s.Verbosity).InfoS(record.Name, keysAndValues...)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close() error { return nil }

// Discard is a Sink that drops all records.
var Discard Sink = discard{}

type discard struct{}

func (discard) Log(context.Context, Record) error { return nil }
func (discard) Close() error                      { return nil }

// multiSink sends every record to all its sinks.
type multiSink struct {
	sinks []Sink
}

// Multi returns a Sink that sends each record to all the given sinks, in order.
// Nil sinks are ignored.
func Multi(sinks ...Sink) Sink {
	var nonNil []Sink
	for _, s := range sinks {
		if s != nil {
			nonNil = append(nonNil, s)
		}
	}
	if len(nonNil) == 1 {
		return nonNil[0]
	}
	return &multiSink{sinks: nonNil}
}

// Log implements Sink. All sinks receive the record, and the first error is returned.
func (m *multiSink) Log(ctx context.Context, record Record) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Log(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close implements Sink. All sinks are closed, and the first error is returned.
func (m *multiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
