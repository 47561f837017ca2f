// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	gocontext "context"
	"fmt"
	"strings"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/ssgnn/citation"
	"github.com/gomlx/ssgnn/internal/config"
	"github.com/gomlx/ssgnn/selfsup"
	"github.com/gomlx/ssgnn/tracking"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNumNodes    = 36
	testNumFeatures = 6
	testNumClasses  = 3
)

// staticSource serves one synthetic dataset.
type staticSource struct {
	dataset *citation.Dataset
}

func (s staticSource) Dataset(name string) (*citation.Dataset, error) {
	if name != s.dataset.Name {
		return nil, errors.Wrapf(citation.ErrUnknownDataset, "%q", name)
	}
	return s.dataset, nil
}

// syntheticDataset creates nodes whose features and citations depend on their class:
// node i has class i%3, features 2·class and 2·class+1 set, and cites the next node of the same class.
func syntheticDataset(t *testing.T) *citation.Dataset {
	var content, cites strings.Builder
	for node := range testNumNodes {
		class := node % testNumClasses
		features := make([]string, testNumFeatures)
		for f := range features {
			if f/2 == class || (f+node)%5 == 0 {
				features[f] = "1"
			} else {
				features[f] = "0"
			}
		}
		_, _ = fmt.Fprintf(&content, "n%d\t%s\tclass_%d\n", node, strings.Join(features, "\t"), class)
		_, _ = fmt.Fprintf(&cites, "n%d\tn%d\n", (node+testNumClasses)%testNumNodes, node)
	}
	ds, err := citation.Parse("synthetic", strings.NewReader(content.String()), strings.NewReader(cites.String()),
		citation.SplitSizes{TrainPerClass: 3, NumVal: 9, NumTest: 18})
	require.NoError(t, err)
	return ds
}

func testConfig(network string) *config.Config {
	cfg := config.Default()
	cfg.Dataset = "synthetic"
	cfg.EmbeddingDims = []int{testNumFeatures, 8, testNumClasses}
	cfg.ReducedDimension = 4
	cfg.NetworkName = network
	cfg.Epochs = 5
	cfg.GATHeads = 2
	cfg.RequireGPU = false
	return cfg
}

func TestDriverRun(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	source := staticSource{syntheticDataset(t)}
	for _, network := range []string{"gin", "gat"} {
		t.Run(network, func(t *testing.T) {
			sink := &recordingSink{}
			driver := NewDriver(backend, source, sink)
			cfg := testConfig(network)
			result, err := driver.Run(gocontext.Background(), cfg, 1)
			require.NoError(t, err)
			fmt.Printf("%s: %s\n", network, result)
			assert.Equal(t, int64(1), result.Seed)
			assert.GreaterOrEqual(t, result.BestVal, 0.0)
			assert.LessOrEqual(t, result.BestVal, 1.0)
			assert.Less(t, result.BestEpoch, cfg.Epochs)

			require.Len(t, sink.records, cfg.Epochs)
			for epoch, record := range sink.records {
				assert.Equal(t, tracking.RecordEpoch, record.Name)
				assert.Equal(t, epoch, record.Fields["epoch"])
				assert.Contains(t, record.Fields, "val_acc")
				assert.Contains(t, record.Fields, "loss")
				assert.Equal(t, epoch == 0, record.Fields["training"], "only the first epoch trains with dropout")
			}

			// Same seed, same result: the context RNG is the only source of randomness.
			again, err := driver.Run(gocontext.Background(), cfg, 1)
			require.NoError(t, err)
			assert.Equal(t, result.BestVal, again.BestVal)
			assert.Equal(t, result.TestAtBest, again.TestAtBest)
			assert.Equal(t, result.BestEpoch, again.BestEpoch)

			// The SVD target is computed only once per (dataset, k).
			assert.Equal(t, 1, driver.targets.Len())
		})
	}
}

func TestDriverTrainMode(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	source := staticSource{syntheticDataset(t)}
	for _, mode := range []config.TrainMode{config.TrainModeFirstEpoch, config.TrainModeAlways} {
		t.Run(string(mode), func(t *testing.T) {
			sink := &recordingSink{}
			cfg := testConfig("gin")
			cfg.Dropout = 0.5
			cfg.TrainMode = mode
			_, err := NewDriver(backend, source, sink).Run(gocontext.Background(), cfg, 3)
			require.NoError(t, err)
			require.Len(t, sink.records, cfg.Epochs)
			for epoch, record := range sink.records {
				want := epoch == 0 || mode == config.TrainModeAlways
				assert.Equal(t, want, record.Fields["training"], "epoch %d", epoch)
			}
		})
	}
}

func TestDriverRunErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	driver := NewDriver(backend, staticSource{syntheticDataset(t)}, nil)
	ctx := gocontext.Background()

	cfg := testConfig("gin")
	cfg.EmbeddingDims = []int{testNumFeatures + 1, 8, testNumClasses}
	_, err := driver.Run(ctx, cfg, 0)
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg = testConfig("gin")
	cfg.EmbeddingDims = []int{testNumFeatures, 8, testNumClasses + 1}
	_, err = driver.Run(ctx, cfg, 0)
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg = testConfig("mlp")
	_, err = driver.Run(ctx, cfg, 0)
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg = testConfig("gin")
	cfg.Dataset = "pubmed"
	_, err = driver.Run(ctx, cfg, 0)
	require.ErrorIs(t, err, citation.ErrUnknownDataset)

	cfg = testConfig("gin")
	cfg.ReducedDimension = testNumFeatures + 1
	_, err = driver.Run(ctx, cfg, 0)
	require.ErrorIs(t, err, selfsup.ErrInvalidDimension)

	cancelled, cancel := gocontext.WithCancel(ctx)
	cancel()
	_, err = driver.Run(cancelled, testConfig("gin"), 0)
	require.ErrorIs(t, err, gocontext.Canceled)
}

func TestNewBackendRequiresGPU(t *testing.T) {
	cfg := config.Default()
	cfg.Device = ""
	cfg.Backend = "go"
	cfg.RequireGPU = true
	_, err := NewBackend(cfg)
	require.ErrorIs(t, err, ErrNoAccelerator)

	cfg.RequireGPU = false
	backend, err := NewBackend(cfg)
	require.NoError(t, err)
	assert.False(t, IsGPU(backend))
	backend.Finalize()
}

func TestIsGPUConfig(t *testing.T) {
	for config, want := range map[string]bool{
		"xla:cuda":                                true,
		"xla:CUDA":                                true,
		"xla:rocm":                                true,
		"xla:/opt/pjrt/pjrt_c_api_cuda_plugin.so": true,
		"xla:cuda,mem_fraction=0.5":               true,
		"xla:cpu":                                 false,
		"xla:/opt/pjrt/pjrt_c_api_cpu_plugin.so":  false,
		"xla":                                     false,
		"go":                                      false,
		"":                                        false,
		"cuda":                                    false,
		"go:cudalike":                             false,
	} {
		assert.Equal(t, want, IsGPUConfig(config), "IsGPUConfig(%q)", config)
	}
}
