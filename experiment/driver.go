// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package experiment trains and evaluates the self-supervised graph networks.
//
// Driver.Run executes one run (one configuration, one seed): full-batch training for a fixed
// number of epochs, evaluating after every epoch and keeping the test accuracy of the epoch
// with the best validation accuracy. Sweeper repeats runs over seeds (SeedSweep) or over a grid
// of reduced dimensions and loss weights (GridSearch).
package experiment

import (
	gocontext "context"
	"fmt"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/ssgnn/citation"
	"github.com/gomlx/ssgnn/gnn"
	"github.com/gomlx/ssgnn/internal/config"
	"github.com/gomlx/ssgnn/selfsup"
	"github.com/gomlx/ssgnn/tracking"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SelfSupervisedScale multiplies the L1 self-supervised loss, before the configured loss weight.
const SelfSupervisedScale = 100.0

// AdamEpsilon is the epsilon of the Adam optimizer.
const AdamEpsilon = 1e-8

// Result of one run.
type Result struct {
	Seed int64

	// BestVal is the best validation micro-F1 over all epochs, and TestAtBest the test micro-F1 at that epoch.
	BestVal, TestAtBest float64

	// BestEpoch is the first epoch reaching BestVal, or -1 if validation accuracy was always 0.
	BestEpoch int

	Elapsed time.Duration
}

// Runner executes one run of an experiment.
type Runner interface {
	Run(ctx gocontext.Context, cfg *config.Config, seed int64) (Result, error)
}

// DatasetSource provides datasets by name.
type DatasetSource interface {
	Dataset(name string) (*citation.Dataset, error)
}

// CachedDatasetSource loads datasets with citation.Load and keeps them in memory.
// It is not safe for concurrent use.
type CachedDatasetSource struct {
	DataDir string
	Splits  citation.SplitSizes

	datasets map[string]*citation.Dataset
}

var _ DatasetSource = (*CachedDatasetSource)(nil)

// NewDatasetSource returns a CachedDatasetSource reading from dataDir with the standard splits.
func NewDatasetSource(dataDir string) *CachedDatasetSource {
	return &CachedDatasetSource{
		DataDir:  dataDir,
		Splits:   citation.PlanetoidSplits,
		datasets: make(map[string]*citation.Dataset),
	}
}

// Dataset implements DatasetSource.
func (s *CachedDatasetSource) Dataset(name string) (*citation.Dataset, error) {
	if ds, found := s.datasets[name]; found {
		return ds, nil
	}
	ds, err := citation.Load(s.DataDir, name, s.Splits)
	if err != nil {
		return nil, err
	}
	s.datasets[name] = ds
	return ds, nil
}

// Driver runs experiments on a backend, reading datasets from a DatasetSource and reporting
// per-epoch metrics to a tracking.Sink.
type Driver struct {
	backend backends.Backend
	source  DatasetSource
	sink    tracking.Sink
	targets *selfsup.Cache
}

var _ Runner = (*Driver)(nil)

// NewDriver creates a Driver. If sink is nil, metrics are discarded.
func NewDriver(backend backends.Backend, source DatasetSource, sink tracking.Sink) *Driver {
	if sink == nil {
		sink = tracking.Discard
	}
	return &Driver{backend: backend, source: source, sink: sink, targets: selfsup.NewCache()}
}

// Run trains a network from scratch with the given seed and returns the best validation accuracy,
// along with the test accuracy at the same epoch.
//
// It is deterministic for a given configuration, seed and backend.
func (d *Driver) Run(ctx gocontext.Context, cfg *config.Config, seed int64) (result Result, err error) {
	start := time.Now()
	r, err := d.initialize(cfg, seed)
	if err != nil {
		return Result{}, err
	}
	defer r.finalize()

	err = exceptions.TryCatch[error](func() {
		for epoch := range cfg.Epochs {
			if ctxErr := ctx.Err(); ctxErr != nil {
				panic(errors.Wrapf(ctxErr, "run interrupted at epoch %d", epoch))
			}
			training := cfg.TrainMode.Training(epoch)
			loss := r.trainStep(training)
			val, test := r.evaluateStep()
			if r.tracker.Observe(epoch, val, test) {
				klog.V(2).Infof("seed %d epoch %d: new best val=%.4f test=%.4f", seed, epoch, val, test)
			}
			record := tracking.NewRecord(tracking.RecordEpoch, "seed", seed, "epoch", epoch, "loss", loss, "val_acc", val, "training", training)
			if sinkErr := d.sink.Log(ctx, record); sinkErr != nil {
				klog.Errorf("failed to log %s: %+v", record, sinkErr)
			}
		}
	})
	if err != nil {
		return Result{}, errors.WithMessagef(err, "run with seed %d", seed)
	}
	return Result{
		Seed:       seed,
		BestVal:    r.tracker.BestVal,
		TestAtBest: r.tracker.TestAtBest,
		BestEpoch:  r.tracker.BestEpoch,
		Elapsed:    time.Since(start),
	}, nil
}

// run holds the state of one Driver.Run.
type run struct {
	cfg       *config.Config
	dataset   *citation.Dataset
	network   gnn.Network
	optimizer optimizers.Interface
	ctx       *context.Context
	tracker   *BestTracker

	// trainExec runs the training step in training mode (dropout enabled) and inferenceTrainExec in
	// inference mode. evalExec predicts the classes of all nodes.
	trainExec, inferenceTrainExec, evalExec *context.Exec

	// Inputs given to the executors.
	features, sources, targets *tensors.Tensor
	trainIndices, trainLabels  *tensors.Tensor
	selfSupervisedTarget       *tensors.Tensor
}

// initialize validates the configuration, loads the data and creates the model and the executors.
func (d *Driver) initialize(cfg *config.Config, seed int64) (*run, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ds, err := d.source.Dataset(cfg.Dataset)
	if err != nil {
		return nil, err
	}
	if cfg.EmbeddingDims[0] != ds.NumFeatures || cfg.NumClasses() != ds.NumClasses {
		return nil, errors.Wrapf(config.ErrInvalidConfig,
			"embedding-dim %v doesn't match dataset %q with %d features and %d classes",
			cfg.EmbeddingDims, ds.Name, ds.NumFeatures, ds.NumClasses)
	}
	edges, err := gnn.FromAdjacency(ds.Adjacency, ds.NumNodes)
	if err != nil {
		return nil, err
	}
	if cfg.Network.NeedsSelfLoops() {
		edges = edges.WithSelfLoops()
	}
	network, err := gnn.New(cfg.Network, cfg.EmbeddingDims, cfg.ReducedDimension)
	if err != nil {
		return nil, err
	}

	// The masked adjacency (no self-citations, symmetric normalized) is only reported.
	masked := ds.Adjacency.WithoutDiagonal().SymmetricNormalized()
	klog.V(1).Infof("%s: %s, masked adjacency %s", ds.Name, edges, masked)

	target, err := d.targets.Get(selfsup.CacheKey{Dataset: ds.Name, K: cfg.ReducedDimension},
		ds.Features, ds.NumNodes, ds.NumFeatures)
	if err != nil {
		return nil, err
	}

	r := &run{
		cfg:                  cfg,
		dataset:              ds,
		network:              network,
		tracker:              NewBestTracker(),
		features:             tensors.FromFlatDataAndDimensions(ds.Features, ds.NumNodes, ds.NumFeatures),
		selfSupervisedTarget: target.Tensor(),
	}
	r.sources, r.targets = edges.EdgeTensors()
	trainLabels := make([]int32, len(ds.Splits.Train))
	for i, node := range ds.Splits.Train {
		trainLabels[i] = ds.Labels[node]
	}
	r.trainIndices = tensors.FromFlatDataAndDimensions(ds.Splits.Train, len(ds.Splits.Train), 1)
	r.trainLabels = tensors.FromFlatDataAndDimensions(trainLabels, len(trainLabels), 1)

	r.ctx = context.New()
	r.ctx.SetParams(cfg.ContextParams())
	r.ctx.RngStateFromSeed(seed)
	r.optimizer = optimizers.Adam().LearningRate(cfg.LearningRate).Epsilon(AdamEpsilon).Done()
	// The first epoch always trains in training mode, creating the variables that the other
	// executors reuse.
	r.trainExec, err = context.NewExec(d.backend, r.ctx, r.trainGraphFn(true))
	if err != nil {
		r.finalize()
		return nil, errors.WithMessage(err, "creating training executor")
	}
	r.inferenceTrainExec, err = context.NewExec(d.backend, r.ctx.Reuse(), r.trainGraphFn(false))
	if err != nil {
		r.finalize()
		return nil, errors.WithMessage(err, "creating inference mode training executor")
	}
	r.evalExec, err = context.NewExec(d.backend, r.ctx.Reuse(), r.evalGraph)
	if err != nil {
		r.finalize()
		return nil, errors.WithMessage(err, "creating evaluation executor")
	}
	return r, nil
}

// forward builds the network in the "model" scope. Inputs are: features, sources, targets.
func (r *run) forward(ctx *context.Context, inputs []*Node) gnn.Outputs {
	return r.network.Forward(ctx.In("model"), gnn.Inputs{Features: inputs[0], Sources: inputs[1], Targets: inputs[2]})
}

// trainGraphFn returns the graph function of one training step, with dropout enabled if training is true.
func (r *run) trainGraphFn(training bool) func(ctx *context.Context, inputs []*Node) *Node {
	return func(ctx *context.Context, inputs []*Node) *Node {
		return r.trainGraph(ctx, inputs, training)
	}
}

// trainGraph builds one training step and returns the loss.
// Inputs are: features, sources, targets, train indices, train labels and the self-supervised target.
func (r *run) trainGraph(ctx *context.Context, inputs []*Node, training bool) *Node {
	g := inputs[0].Graph()
	ctx.SetTraining(g, training)
	out := r.forward(ctx, inputs)
	trainIndices, trainLabels, ssTarget := inputs[3], inputs[4], inputs[5]

	trainLogits := Gather(out.Logits, trainIndices)
	loss := ReduceAllMean(losses.SparseCategoricalCrossEntropyLogits([]*Node{trainLabels}, []*Node{trainLogits}))
	ssLoss := ReduceAllMean(losses.MeanAbsoluteError([]*Node{ssTarget}, []*Node{out.SelfSupervised}))
	loss = Add(loss, MulScalar(ssLoss, SelfSupervisedScale*r.cfg.LossWeight))
	if r.cfg.WeightDecay > 0 {
		// L2 penalty with gradient weight_decay·w, the coupled weight decay of classic Adam.
		loss = Add(loss, MulScalar(l2Norm(ctx.In("model"), g), r.cfg.WeightDecay/2))
	}
	r.optimizer.UpdateGraph(ctx, g, loss)
	return loss
}

// l2Norm returns the sum of the squares of all trainable variables in the context scope.
func l2Norm(ctx *context.Context, g *Graph) *Node {
	var sum *Node
	for v := range ctx.IterVariablesInScope() {
		if !v.Trainable {
			continue
		}
		sq := ReduceAllSum(Square(v.ValueGraph(g)))
		if sum == nil {
			sum = sq
		} else {
			sum = Add(sum, sq)
		}
	}
	if sum == nil {
		exceptions.Panicf("no trainable variables in scope %q", ctx.Scope())
	}
	return sum
}

// evalGraph returns the predicted class of every node. Inputs are: features, sources, targets.
func (r *run) evalGraph(ctx *context.Context, inputs []*Node) *Node {
	ctx.SetTraining(inputs[0].Graph(), false)
	out := r.forward(ctx, inputs)
	return ArgMax(out.Logits, -1, dtypes.Int32)
}

// trainStep runs one Adam update and returns the loss. It panics on errors.
func (r *run) trainStep(training bool) float64 {
	exec := r.trainExec
	if !training {
		exec = r.inferenceTrainExec
	}
	lossT, err := exec.Exec1(r.features, r.sources, r.targets, r.trainIndices, r.trainLabels, r.selfSupervisedTarget)
	if err != nil {
		panic(errors.WithMessage(err, "training step"))
	}
	defer lossT.FinalizeAll()
	return float64(tensors.ToScalar[float32](lossT))
}

// evaluateStep returns the validation and test micro-F1. It panics on errors.
func (r *run) evaluateStep() (val, test float64) {
	predictionsT, err := r.evalExec.Exec1(r.features, r.sources, r.targets)
	if err != nil {
		panic(errors.WithMessage(err, "evaluation step"))
	}
	defer predictionsT.FinalizeAll()
	predictions := tensors.CopyFlatData[int32](predictionsT)
	splits := r.dataset.Splits
	return MicroF1(r.dataset.Labels, predictions, splits.Val), MicroF1(r.dataset.Labels, predictions, splits.Test)
}

// finalize releases the model variables and the input tensors.
func (r *run) finalize() {
	for _, t := range []*tensors.Tensor{r.features, r.sources, r.targets, r.trainIndices, r.trainLabels, r.selfSupervisedTarget} {
		if t != nil {
			t.FinalizeAll()
		}
	}
	if r.ctx != nil {
		r.ctx.Finalize()
	}
}

// String implements fmt.Stringer.
func (res Result) String() string {
	return fmt.Sprintf("seed %d val %.4f test %.4f (epoch %d, %s)", res.Seed, res.BestVal, res.TestAtBest, res.BestEpoch, res.Elapsed)
}
