// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"flag"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// intList implements flag.Value for a list of integers separated by commas and/or spaces.
type intList struct {
	values *[]int
}

func (l intList) String() string {
	if l.values == nil {
		return ""
	}
	parts := make([]string, 0, len(*l.values))
	for _, v := range *l.values {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ",")
}

func (l intList) Set(s string) error {
	values, err := ParseIntList(s)
	if err != nil {
		return err
	}
	*l.values = values
	return nil
}

// ParseIntList parses "1433,16,7" or "1433 16 7" into a slice of ints.
func ParseIntList(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) == 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "empty list of integers %q", s)
	}
	values := make([]int, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "invalid integer %q in list %q", field, s)
		}
		values = append(values, v)
	}
	return values, nil
}

// listFlags accept their values as separate arguments, as in "--embedding-dim 1433 16 7".
var listFlags = []string{"embedding-dim"}

// JoinListArgs rewrites the integers following a list flag ("--embedding-dim 1433 16 7") into
// a single argument ("--embedding-dim=1433,16,7") the flag package can parse.
// Arguments after "--" are left untouched.
func JoinListArgs(args []string) []string {
	joined := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(joined, args[i:]...)
		}
		name := strings.TrimLeft(arg, "-")
		if !strings.HasPrefix(arg, "-") || !slices.Contains(listFlags, name) {
			joined = append(joined, arg)
			continue
		}
		var values []string
		for i+1 < len(args) && isInt(args[i+1]) {
			values = append(values, args[i+1])
			i++
		}
		if len(values) == 0 {
			joined = append(joined, arg)
			continue
		}
		joined = append(joined, "--"+name+"="+strings.Join(values, ","))
	}
	return joined
}

func isInt(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// RegisterFlags binds the command-line flags to the fields of c, using the current values of c as defaults.
//
// Flags are parsed into c directly, so a YAML file loaded into c before flag.Parse provides defaults
// that explicitly given flags override.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Dataset, "dataset", c.Dataset, "Name of the citation dataset: cora, citeseer or any <name>.content/<name>.cites pair in --data.")
	fs.StringVar(&c.DataDir, "data", c.DataDir, "Directory where datasets are downloaded and read from.")
	fs.Var(intList{&c.EmbeddingDims}, "embedding-dim", "Layer widths: input features, hidden layers..., number of classes. E.g.: \"1433,16,7\".")
	fs.Float64Var(&c.LearningRate, "lr", c.LearningRate, "Adam learning rate.")
	fs.Float64Var(&c.WeightDecay, "weight-decay", c.WeightDecay, "L2 weight decay, added to the gradient as in coupled Adam.")
	fs.IntVar(&c.ReducedDimension, "reduced-dimension", c.ReducedDimension, "Number of leading singular vectors of the features used as self-supervision target.")
	fs.Float64Var(&c.LossWeight, "loss-weight", c.LossWeight, "Weight of the self-supervised loss.")
	fs.BoolVar(&c.GridSearch, "grid-search", c.GridSearch, "Run a grid search over reduced dimensions and loss weights, instead of a seed sweep.")
	fs.StringVar(&c.NetworkName, "net", c.NetworkName, "Network: \"gin\" or \"gat\".")
	fs.StringVar(&c.Device, "cuda", c.Device, "CUDA device id, exported as CUDA_VISIBLE_DEVICES.")
	fs.StringVar(&c.Backend, "backend", c.Backend, "GoMLX backend configuration, e.g. \"xla:cuda\", \"xla:cpu\" or \"go\".")
	fs.BoolVar(&c.RequireGPU, "require-gpu", c.RequireGPU, "Exit if the backend is not a GPU backend.")
	fs.IntVar(&c.Epochs, "epochs", c.Epochs, "Number of full-batch training epochs per run.")
	fs.StringVar((*string)(&c.TrainMode), "train-mode", string(c.TrainMode),
		"Epochs trained with dropout: \"first-epoch\" (later epochs run in inference mode) or \"always\".")
	fs.IntVar(&c.Seeds, "seeds", c.Seeds, "Number of seeds in the seed sweep.")
	fs.IntVar(&c.GridSeeds, "grid-seeds", c.GridSeeds, "Number of seeds averaged per grid-search cell.")
	fs.StringVar(&c.MetricsDB, "metrics-db", c.MetricsDB, "SQLite file where metrics are recorded. Empty disables it.")
	fs.BoolVar(&c.Progress, "progress", c.Progress, "Show a progress bar over the runs.")
}

// ContextParams returns the hyperparameters keyed the way GoMLX context parameters are named,
// so they can be set with context.Context.SetParams and listed along with the other parameters.
func (c *Config) ContextParams() map[string]any {
	return map[string]any{
		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: c.LearningRate,
		"weight_decay":               c.WeightDecay,
		"reduced_dimension":          c.ReducedDimension,
		"loss_weight":                c.LossWeight,
		"network":                    c.NetworkName,
		"dropout":                    c.Dropout,
		"gat_heads":                  c.GATHeads,
		"gat_feature_dropout":        c.GATFeatureDropout,
		"gat_attention_dropout":      c.GATAttentionDropout,
	}
}
