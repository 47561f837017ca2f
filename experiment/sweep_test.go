// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"bytes"
	gocontext "context"
	"strings"
	"testing"

	"github.com/gomlx/ssgnn/internal/config"
	"github.com/gomlx/ssgnn/tracking"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner returns results derived from the configuration and seed, and records the calls.
type fakeRunner struct {
	calls  []fakeCall
	failAt int // Fails on the call with this index, if >= 0.
}

type fakeCall struct {
	reducedDimension int
	lossWeight       float64
	seed             int64
}

var errFake = errors.New("fake failure")

func (f *fakeRunner) Run(_ gocontext.Context, cfg *config.Config, seed int64) (Result, error) {
	f.calls = append(f.calls, fakeCall{cfg.ReducedDimension, cfg.LossWeight, seed})
	if len(f.calls)-1 == f.failAt {
		return Result{}, errFake
	}
	return Result{
		Seed:       seed,
		BestVal:    float64(seed%2)/2 + float64(cfg.ReducedDimension)/128,
		TestAtBest: float64(seed) / 128,
	}, nil
}

// recordingSink keeps the records logged.
type recordingSink struct {
	records []tracking.Record
}

func (s *recordingSink) Log(_ gocontext.Context, r tracking.Record) error {
	s.records = append(s.records, r)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func TestSeedSweep(t *testing.T) {
	cfg := config.Default()
	runner := &fakeRunner{failAt: -1}
	sink := &recordingSink{}
	var out bytes.Buffer
	sweeper := &Sweeper{Runner: runner, Sink: sink, Out: &out}
	result, err := sweeper.SeedSweep(gocontext.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, runner.calls, 50)
	for i, call := range runner.calls {
		assert.Equal(t, int64(i), call.seed)
		assert.Equal(t, 32, call.reducedDimension)
	}
	require.Len(t, result.Val, 50)
	require.Len(t, result.Test, 50)
	assert.Equal(t, int64(49), result.Seeds[49])

	require.Len(t, sink.records, 50)
	assert.Equal(t, tracking.RecordRun, sink.records[3].Name)
	assert.Equal(t, []string{"seed", "test", "var"}, sink.records[3].Keys())
	assert.Equal(t, int64(3), sink.records[3].Fields["seed"])

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 50)
	assert.Equal(t, "seed 1 val 0.75 test 0.0078125", lines[1])

	// Val alternates 0.25 and 0.75: mean 0.5, population std 0.25.
	valMean, valStd, testMean, _ := result.Summary()
	assert.InDelta(t, 0.5, valMean, 1e-9)
	assert.InDelta(t, 0.25, valStd, 1e-9)
	assert.InDelta(t, 24.5/128, testMean, 1e-9)

	var summary bytes.Buffer
	require.NoError(t, WriteSummary(&summary, result))
	assert.True(t, strings.HasPrefix(summary.String(), "val mean 0.5 val std 0.25\n"), summary.String())
	assert.Contains(t, summary.String(), "\ntest mean ")
	assert.Contains(t, SummaryTable(result), "50 seeds")
}

func TestSeedSweepAbortsOnError(t *testing.T) {
	cfg := config.Default()
	runner := &fakeRunner{failAt: 4}
	sweeper := &Sweeper{Runner: runner, Out: &bytes.Buffer{}}
	_, err := sweeper.SeedSweep(gocontext.Background(), cfg)
	require.ErrorIs(t, err, errFake)
	assert.Contains(t, err.Error(), "seed 4")
	assert.Len(t, runner.calls, 5, "no runs after the failure")
}

func TestGridSearch(t *testing.T) {
	cfg := config.Default()
	cfg.GridSearch = true
	runner := &fakeRunner{failAt: -1}
	sink := &recordingSink{}
	sweeper := &Sweeper{Runner: runner, Sink: sink}
	result, err := sweeper.GridSearch(gocontext.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, runner.calls, 7*8*10)
	require.Len(t, result.Table, 7)
	for i, row := range result.Table {
		require.Len(t, row, 8)
		for _, value := range row {
			// Mean over seeds 0..9 of (seed%2)/2 + dim/128.
			assert.InDelta(t, 0.25+float64(cfg.GridDimensions[i])/128, value, 1e-9)
		}
	}
	// Cells are visited in row-major order, each with seeds 0..9.
	assert.Equal(t, fakeCall{24, 0.2, 0}, runner.calls[0])
	assert.Equal(t, fakeCall{24, 0.3, 9}, runner.calls[19])
	assert.Equal(t, fakeCall{48, 0.9, 9}, runner.calls[len(runner.calls)-1])
	// The original configuration is not modified.
	assert.Equal(t, 32, cfg.ReducedDimension)
	assert.Equal(t, 0.5, cfg.LossWeight)

	require.Len(t, sink.records, 7*8)
	assert.Equal(t, tracking.RecordGridCell, sink.records[0].Name)

	i, j := result.Best()
	assert.Equal(t, 6, i)
	assert.Equal(t, 0, j)
	table := GridTable(result)
	assert.Contains(t, table, "0.9")
	assert.Contains(t, table, "48")
	assert.Contains(t, table, "0.6250")
}

func TestGridSearchAbortsOnError(t *testing.T) {
	cfg := config.Default()
	cfg.GridSearch = true
	runner := &fakeRunner{failAt: 25}
	sweeper := &Sweeper{Runner: runner}
	_, err := sweeper.GridSearch(gocontext.Background(), cfg)
	require.ErrorIs(t, err, errFake)
	assert.Contains(t, err.Error(), "reduced-dimension=24 loss-weight=0.4 seed 5")
	assert.Len(t, runner.calls, 26)
}
