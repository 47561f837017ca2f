// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// ssgnn trains GIN or GAT networks on a citation dataset with an auxiliary self-supervised loss
// (regressing the leading singular vectors of the node features), and reports the validation and
// test accuracies over a sweep of seeds, or over a grid of reduced dimensions and loss weights.
package main

import (
	gocontext "context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/gomlx/ssgnn/experiment"
	"github.com/gomlx/ssgnn/internal/config"
	"github.com/gomlx/ssgnn/internal/downloader"
	"github.com/gomlx/ssgnn/tracking"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

const configFlag = "config"

func main() {
	klog.InitFlags(nil)
	cfg := config.Default()
	if path := configFileFromArgs(os.Args[1:]); path != "" {
		must.M(cfg.LoadFile(path))
	}
	_ = flag.String(configFlag, "", "YAML file with the configuration, applied before the other flags.")
	cfg.RegisterFlags(flag.CommandLine)
	_ = flag.CommandLine.Parse(config.JoinListArgs(os.Args[1:]))
	if flag.NArg() > 0 {
		klog.Fatalf("Unexpected positional arguments %q: list values are given as --embedding-dim 1433 16 7 or --embedding-dim=1433,16,7", flag.Args())
	}
	if err := cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration: %+v", err)
	}
	fmt.Println(cfg)

	backend, err := experiment.NewBackend(cfg)
	if err != nil {
		if errors.Is(err, experiment.ErrNoAccelerator) {
			klog.V(1).Infof("%+v", err)
			fmt.Println(experiment.ErrNoAccelerator)
			os.Exit(1)
		}
		klog.Fatalf("Failed to create backend: %+v", err)
	}
	defer backend.Finalize()

	downloader.ShowProgressBar = cfg.Progress
	sink := newSink(cfg)
	defer func() {
		if err := sink.Close(); err != nil {
			klog.Errorf("Failed to close metrics sink: %+v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(gocontext.Background(), os.Interrupt)
	defer stop()
	sweeper := &experiment.Sweeper{
		Runner:       experiment.NewDriver(backend, experiment.NewDatasetSource(cfg.DataDir), sink),
		Sink:         sink,
		Out:          os.Stdout,
		ShowProgress: cfg.Progress,
	}
	if err := sweep(ctx, sweeper, cfg); err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

// sweep runs the grid search or the seed sweep and prints the summary.
func sweep(ctx gocontext.Context, sweeper *experiment.Sweeper, cfg *config.Config) error {
	if cfg.GridSearch {
		result, err := sweeper.GridSearch(ctx, cfg)
		if err != nil {
			return err
		}
		fmt.Println("finish")
		fmt.Println("val mean table")
		fmt.Println(experiment.GridTable(result))
		i, j := result.Best()
		fmt.Printf("best: reduced-dimension=%d loss-weight=%g val mean %.4f\n",
			result.Dimensions[i], result.LossWeights[j], result.Table[i][j])
		return nil
	}
	result, err := sweeper.SeedSweep(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Println("finish")
	if err = experiment.WriteSummary(os.Stdout, result); err != nil {
		return err
	}
	if klog.V(1).Enabled() {
		fmt.Println(experiment.SummaryTable(result))
	}
	return nil
}

// newSink logs records with klog at verbosity 1 and, if --metrics-db is set, stores them in SQLite.
func newSink(cfg *config.Config) tracking.Sink {
	logSink := tracking.NewLogSink(1)
	if cfg.MetricsDB == "" {
		return logSink
	}
	db := must.M1(tracking.OpenSQLite(cfg.MetricsDB))
	klog.Infof("Recording metrics in %q, sweep %s", cfg.MetricsDB, db.SweepID())
	return tracking.Multi(logSink, db)
}

// configFileFromArgs returns the value of the --config flag, if present, so the file can be loaded
// before the other flags are parsed on top of it.
func configFileFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != configFlag {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
