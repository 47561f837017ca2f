// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the hyperparameters of one experiment run and of the sweeps over it.
//
// A Config is built from Default, optionally overlaid by a YAML file (LoadFile) and by
// command-line flags (RegisterFlags), and then checked with Validate before being handed
// to the experiment driver. Once validated it is treated as immutable: sweeps derive
// modified copies with WithGridCell.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned (wrapped) by Validate and LoadFile for bad configurations.
var ErrInvalidConfig = errors.New("invalid configuration")

// NetworkType selects one of the supported self-supervised graph networks.
type NetworkType int

const (
	NetworkInvalid NetworkType = iota

	// NetworkGIN is the Graph Isomorphism Network.
	NetworkGIN

	// NetworkGAT is the Graph Attention Network. It requires self-loops in the graph.
	NetworkGAT
)

var networkNames = map[NetworkType]string{
	NetworkGIN: "gin",
	NetworkGAT: "gat",
}

// ValidNetworks lists the accepted network names.
var ValidNetworks = []string{"gin", "gat"}

// String implements fmt.Stringer.
func (n NetworkType) String() string {
	if name, found := networkNames[n]; found {
		return name
	}
	return fmt.Sprintf("NetworkType(%d)", int(n))
}

// NeedsSelfLoops reports whether the graph must have an i->i edge for every node.
func (n NetworkType) NeedsSelfLoops() bool {
	return n == NetworkGAT
}

// ParseNetwork converts a network name ("gin" or "gat", case-insensitive) to a NetworkType.
func ParseNetwork(name string) (NetworkType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for n, nName := range networkNames {
		if nName == name {
			return n, nil
		}
	}
	return NetworkInvalid, errors.Wrapf(ErrInvalidConfig, "network %q is not one of %v", name, ValidNetworks)
}

// TrainMode selects the epochs whose training step runs in training mode, that is, with dropout.
type TrainMode string

const (
	// TrainModeFirstEpoch runs only the first training step in training mode. The evaluation after
	// it leaves the network in inference mode for all the following epochs.
	TrainModeFirstEpoch TrainMode = "first-epoch"

	// TrainModeAlways runs every training step in training mode.
	TrainModeAlways TrainMode = "always"
)

// Training reports whether the training step of epoch runs in training mode.
func (m TrainMode) Training(epoch int) bool {
	return m == TrainModeAlways || epoch == 0
}

// Config of an experiment. The YAML keys match the command-line flag names.
type Config struct {
	// Dataset name, e.g. "cora" or "citeseer".
	Dataset string `yaml:"dataset"`

	// DataDir is where datasets are downloaded and read from. "~" is expanded.
	DataDir string `yaml:"data"`

	// EmbeddingDims is the sequence of layer widths: input features, hidden layers..., number of classes.
	EmbeddingDims []int `yaml:"embedding-dim"`

	LearningRate float64 `yaml:"lr"`
	WeightDecay  float64 `yaml:"weight-decay"`

	// ReducedDimension is the number of leading singular vectors used as self-supervision target.
	ReducedDimension int `yaml:"reduced-dimension"`

	// LossWeight multiplies the (already 100x scaled) self-supervised L1 loss.
	LossWeight float64 `yaml:"loss-weight"`

	GridSearch bool `yaml:"grid-search"`

	// NetworkName is the user given network; Network holds its resolved value after Validate.
	NetworkName string      `yaml:"net"`
	Network     NetworkType `yaml:"-"`

	// Device is the CUDA device id, exported as CUDA_VISIBLE_DEVICES before the backend is created.
	Device string `yaml:"cuda"`

	// Backend is the GoMLX backend configuration, e.g. "xla:cuda", "xla:cpu" or "go".
	Backend string `yaml:"backend"`

	// RequireGPU makes the program exit if the backend is not a GPU one.
	RequireGPU bool `yaml:"require-gpu"`

	// Epochs of full-batch training per run.
	Epochs int `yaml:"epochs"`

	// TrainMode selects the epochs trained with dropout enabled.
	TrainMode TrainMode `yaml:"train-mode"`

	// EarlyStopping is kept for reference with the published experiments: it is never used to stop training.
	EarlyStopping int `yaml:"early-stopping"`

	// Seeds is the number of seeds (0..Seeds-1) of the seed sweep.
	Seeds int `yaml:"seeds"`

	// GridSeeds is the number of seeds (0..GridSeeds-1) averaged in each grid-search cell.
	GridSeeds int `yaml:"grid-seeds"`

	// GridDimensions and GridLossWeights are the axes of the grid search.
	GridDimensions  []int     `yaml:"grid-dimensions"`
	GridLossWeights []float64 `yaml:"grid-loss-weights"`

	// Dropout is used by GIN after each graph layer.
	Dropout float64 `yaml:"dropout"`

	// GATHeads, GATFeatureDropout and GATAttentionDropout configure the hidden GAT layers.
	GATHeads            int     `yaml:"gat-heads"`
	GATFeatureDropout   float64 `yaml:"gat-feature-dropout"`
	GATAttentionDropout float64 `yaml:"gat-attention-dropout"`

	// MetricsDB is the path to a SQLite file where metric records are stored. Empty disables it.
	MetricsDB string `yaml:"metrics-db"`

	// Progress shows a progress bar over the runs of a sweep.
	Progress bool `yaml:"progress"`
}

// Default returns the configuration used in the published Cora experiments.
func Default() *Config {
	return &Config{
		Dataset:             "cora",
		DataDir:             "~/work/citation",
		EmbeddingDims:       []int{1433, 16, 7},
		LearningRate:        0.008,
		WeightDecay:         8e-5,
		ReducedDimension:    32,
		LossWeight:          0.5,
		NetworkName:         "gin",
		Device:              "0",
		Backend:             "xla:cuda",
		RequireGPU:          true,
		Epochs:              400,
		TrainMode:           TrainModeFirstEpoch,
		EarlyStopping:       10,
		Seeds:               50,
		GridSeeds:           10,
		GridDimensions:      []int{24, 28, 32, 36, 40, 44, 48},
		GridLossWeights:     []float64{0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9},
		Dropout:             0.5,
		GATHeads:            8,
		GATFeatureDropout:   0.6,
		GATAttentionDropout: 0.6,
		Progress:            true,
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	newC := *c
	newC.EmbeddingDims = slices.Clone(c.EmbeddingDims)
	newC.GridDimensions = slices.Clone(c.GridDimensions)
	newC.GridLossWeights = slices.Clone(c.GridLossWeights)
	return &newC
}

// WithGridCell returns a copy of the configuration with the reduced dimension and loss weight overridden.
func (c *Config) WithGridCell(reducedDimension int, lossWeight float64) *Config {
	newC := c.Clone()
	newC.ReducedDimension = reducedDimension
	newC.LossWeight = lossWeight
	return newC
}

// LoadFile overlays the YAML file at path on top of c.
// Keys not present in the file keep their current values.
func (c *Config) LoadFile(path string) error {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return err
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read configuration file %q", path)
	}
	if err = yaml.Unmarshal(contents, c); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "parsing %q: %v", path, err)
	}
	return nil
}

// Validate checks the configuration and resolves Network from NetworkName.
func (c *Config) Validate() error {
	network, err := ParseNetwork(c.NetworkName)
	if err != nil {
		return err
	}
	c.Network = network
	if c.Dataset == "" {
		return errors.Wrap(ErrInvalidConfig, "dataset name is empty")
	}
	if len(c.EmbeddingDims) < 3 {
		return errors.Wrapf(ErrInvalidConfig,
			"embedding-dim needs at least 3 values (input, hidden..., classes), got %v", c.EmbeddingDims)
	}
	for _, dim := range c.EmbeddingDims {
		if dim <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "embedding-dim values must be > 0, got %v", c.EmbeddingDims)
		}
	}
	if c.LearningRate <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "lr must be > 0, got %g", c.LearningRate)
	}
	if c.WeightDecay < 0 {
		return errors.Wrapf(ErrInvalidConfig, "weight-decay must be >= 0, got %g", c.WeightDecay)
	}
	if c.ReducedDimension <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "reduced-dimension must be > 0, got %d", c.ReducedDimension)
	}
	if c.LossWeight < 0 {
		return errors.Wrapf(ErrInvalidConfig, "loss-weight must be >= 0, got %g", c.LossWeight)
	}
	if c.Epochs <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "epochs must be > 0, got %d", c.Epochs)
	}
	if c.TrainMode != TrainModeFirstEpoch && c.TrainMode != TrainModeAlways {
		return errors.Wrapf(ErrInvalidConfig, "train-mode must be %q or %q, got %q",
			TrainModeFirstEpoch, TrainModeAlways, c.TrainMode)
	}
	if c.Seeds <= 0 || c.GridSeeds <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "seeds (%d) and grid-seeds (%d) must be > 0", c.Seeds, c.GridSeeds)
	}
	for _, rate := range []struct {
		name  string
		value float64
	}{
		{"dropout", c.Dropout},
		{"gat-feature-dropout", c.GATFeatureDropout},
		{"gat-attention-dropout", c.GATAttentionDropout},
	} {
		if rate.value < 0 || rate.value >= 1 {
			return errors.Wrapf(ErrInvalidConfig, "%s must be in [0, 1), got %g", rate.name, rate.value)
		}
	}
	if c.Network == NetworkGAT && c.GATHeads <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "gat-heads must be > 0, got %d", c.GATHeads)
	}
	if c.GridSearch {
		if len(c.GridDimensions) == 0 || len(c.GridLossWeights) == 0 {
			return errors.Wrap(ErrInvalidConfig, "grid-search requires grid-dimensions and grid-loss-weights")
		}
		for _, dim := range c.GridDimensions {
			if dim <= 0 {
				return errors.Wrapf(ErrInvalidConfig, "grid-dimensions must be > 0, got %v", c.GridDimensions)
			}
		}
	}
	return nil
}

// NumClasses is the last of the embedding dimensions.
func (c *Config) NumClasses() int {
	return c.EmbeddingDims[len(c.EmbeddingDims)-1]
}

// String returns a one-line description of the run-relevant hyperparameters.
func (c *Config) String() string {
	return fmt.Sprintf("dataset=%s net=%s embedding-dim=%v lr=%g weight-decay=%g reduced-dimension=%d loss-weight=%g epochs=%d",
		c.Dataset, c.NetworkName, c.EmbeddingDims, c.LearningRate, c.WeightDecay, c.ReducedDimension, c.LossWeight, c.Epochs)
}
