// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	gocontext "context"
	"fmt"
	"io"
	"os"

	"github.com/gomlx/ssgnn/internal/config"
	"github.com/gomlx/ssgnn/tracking"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

// ProgressbarStyle is the theme of the sweep progress bar.
var ProgressbarStyle = progressbar.ThemeASCII

// Sweeper repeats runs of a Runner over seeds or over a grid of hyperparameters.
type Sweeper struct {
	Runner Runner

	// Sink receives one record per run (or per grid cell). If nil, records are discarded.
	Sink tracking.Sink

	// Out receives the per-run report lines. If nil, os.Stdout is used.
	Out io.Writer

	// ShowProgress displays a progress bar over the runs on stderr.
	ShowProgress bool
}

// SeedSweepResult holds the best validation accuracy and the test accuracy at that epoch, for each seed.
type SeedSweepResult struct {
	Seeds     []int64
	Val, Test []float64
}

// Summary returns the population mean and standard deviation of the validation and test accuracies.
func (r *SeedSweepResult) Summary() (valMean, valStd, testMean, testStd float64) {
	valMean, valStd = stat.PopMeanStdDev(r.Val, nil)
	testMean, testStd = stat.PopMeanStdDev(r.Test, nil)
	return
}

// GridResult holds the mean best validation accuracy for each cell of a grid search:
// Table[i][j] corresponds to Dimensions[i] and LossWeights[j].
type GridResult struct {
	Dimensions  []int
	LossWeights []float64
	Table       [][]float64
}

func (s *Sweeper) out() io.Writer {
	if s.Out == nil {
		return os.Stdout
	}
	return s.Out
}

func (s *Sweeper) sink() tracking.Sink {
	if s.Sink == nil {
		return tracking.Discard
	}
	return s.Sink
}

func (s *Sweeper) newProgressBar(numRuns int, description string) *progressbar.ProgressBar {
	if !s.ShowProgress {
		return nil
	}
	return progressbar.NewOptions(numRuns,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("runs"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionClearOnFinish(),
	)
}

func (s *Sweeper) logRecord(ctx gocontext.Context, record tracking.Record) {
	if err := s.sink().Log(ctx, record); err != nil {
		klog.Errorf("failed to log %s: %+v", record, err)
	}
}

// SeedSweep runs cfg with seeds 0..cfg.Seeds-1. Each run is logged to the sink as a
// tracking.RecordRun with fields "seed", "var" (best validation accuracy) and "test", and
// reported to Out as "seed N val X test Y".
//
// The first failing run aborts the sweep.
func (s *Sweeper) SeedSweep(ctx gocontext.Context, cfg *config.Config) (*SeedSweepResult, error) {
	result := &SeedSweepResult{
		Seeds: make([]int64, 0, cfg.Seeds),
		Val:   make([]float64, 0, cfg.Seeds),
		Test:  make([]float64, 0, cfg.Seeds),
	}
	bar := s.newProgressBar(cfg.Seeds, "seeds")
	for seed := range int64(cfg.Seeds) {
		res, err := s.Runner.Run(ctx, cfg, seed)
		if err != nil {
			return nil, errors.WithMessagef(err, "seed sweep failed at seed %d", seed)
		}
		result.Seeds = append(result.Seeds, seed)
		result.Val = append(result.Val, res.BestVal)
		result.Test = append(result.Test, res.TestAtBest)
		s.logRecord(ctx, tracking.NewRecord(tracking.RecordRun, "seed", seed, "var", res.BestVal, "test", res.TestAtBest))
		if bar != nil {
			_ = bar.Add(1)
		}
		_, _ = fmt.Fprintf(s.out(), "seed %d val %v test %v\n", seed, res.BestVal, res.TestAtBest)
	}
	return result, nil
}

// GridSearch runs, for every combination of cfg.GridDimensions and cfg.GridLossWeights, seeds
// 0..cfg.GridSeeds-1 and takes the mean of the best validation accuracies.
//
// Each cell is logged to the sink as a tracking.RecordGridCell. The first failing run aborts the search.
func (s *Sweeper) GridSearch(ctx gocontext.Context, cfg *config.Config) (*GridResult, error) {
	result := &GridResult{
		Dimensions:  cfg.GridDimensions,
		LossWeights: cfg.GridLossWeights,
		Table:       make([][]float64, len(cfg.GridDimensions)),
	}
	bar := s.newProgressBar(len(cfg.GridDimensions)*len(cfg.GridLossWeights)*cfg.GridSeeds, "grid")
	for i, dim := range cfg.GridDimensions {
		result.Table[i] = make([]float64, len(cfg.GridLossWeights))
		for j, weight := range cfg.GridLossWeights {
			cellCfg := cfg.WithGridCell(dim, weight)
			vals := make([]float64, 0, cfg.GridSeeds)
			for seed := range int64(cfg.GridSeeds) {
				res, err := s.Runner.Run(ctx, cellCfg, seed)
				if err != nil {
					return nil, errors.WithMessagef(err,
						"grid search failed at reduced-dimension=%d loss-weight=%g seed %d", dim, weight, seed)
				}
				vals = append(vals, res.BestVal)
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			result.Table[i][j] = stat.Mean(vals, nil)
			s.logRecord(ctx, tracking.NewRecord(tracking.RecordGridCell,
				"reduced_dimension", dim, "loss_weight", weight, "val_mean", result.Table[i][j]))
			klog.V(1).Infof("grid cell reduced-dimension=%d loss-weight=%g: val mean %.4f", dim, weight, result.Table[i][j])
		}
	}
	return result, nil
}
