// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gnn implements the graph neural networks trained by the experiments: GIN and GAT, each
// with an extra self-supervised head regressing a low dimensional embedding of the node features.
//
// Message passing works on edge lists: node states are gathered at the edge sources and
// scattered (summed) into the edge targets, the same way the GoMLX OGBN-MAG demo does it.
//
// Hyperparameters not part of the network shape (dropout rates, attention heads) are read from
// the context parameters, see ParamDropout and friends.
package gnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/ssgnn/internal/config"
	"github.com/pkg/errors"
)

const (
	// ParamDropout context hyperparameter is the dropout rate applied by GIN after each graph layer.
	// The default is 0.5.
	ParamDropout = "dropout"

	// ParamGATHeads context hyperparameter is the number of attention heads of the hidden GAT layers.
	// The output layer always uses 1 head.
	// The default is 8.
	ParamGATHeads = "gat_heads"

	// ParamGATFeatureDropout context hyperparameter is the dropout rate applied to the inputs of each GAT layer.
	// The default is 0.6.
	ParamGATFeatureDropout = "gat_feature_dropout"

	// ParamGATAttentionDropout context hyperparameter is the dropout rate applied to the attention coefficients.
	// The default is 0.6.
	ParamGATAttentionDropout = "gat_attention_dropout"
)

// Inputs of a network forward pass.
type Inputs struct {
	// Features shaped [numNodes, numFeatures].
	Features *Node

	// Sources and Targets are the edges, shaped [numEdges, 1] with an integer dtype.
	Sources, Targets *Node
}

// NumNodes is the first dimension of the features.
func (in Inputs) NumNodes() int {
	return in.Features.Shape().Dimensions[0]
}

// Outputs of a network forward pass.
type Outputs struct {
	// Logits shaped [numNodes, numClasses].
	Logits *Node

	// SelfSupervised shaped [numNodes, reducedDimension].
	SelfSupervised *Node
}

// Network builds the forward pass of one of the supported graph networks.
// Implementations create their variables under the given context scope.
type Network interface {
	Type() config.NetworkType
	Forward(ctx *context.Context, in Inputs) Outputs
}

// New returns the network of the given type.
//
// dims are the layer widths (input features, hidden layers..., number of classes) and
// reducedDimension is the output dimension of the self-supervised head.
func New(networkType config.NetworkType, dims []int, reducedDimension int) (Network, error) {
	if len(dims) < 3 {
		return nil, errors.Errorf("network needs at least 3 dimensions (input, hidden..., classes), got %v", dims)
	}
	if reducedDimension <= 0 {
		return nil, errors.Errorf("reduced dimension must be > 0, got %d", reducedDimension)
	}
	switch networkType {
	case config.NetworkGIN:
		return &GIN{dims: dims, reducedDimension: reducedDimension}, nil
	case config.NetworkGAT:
		return &GAT{dims: dims, reducedDimension: reducedDimension}, nil
	default:
		return nil, errors.Errorf("unsupported network type %s", networkType)
	}
}

// sumIncoming returns for each node the sum of the values of its incoming edges' sources.
// values is shaped [numNodes, ...] and the result has the same shape.
func sumIncoming(values, sources, targets *Node) *Node {
	messages := Gather(values, sources)
	return Scatter(targets, messages, values.Shape(), false, false)
}

// elu is the exponential linear unit with alpha=1.
func elu(x *Node) *Node {
	zeros := ZerosLike(x)
	return Where(GreaterThan(x, zeros), x, Sub(Exp(Min(x, zeros)), OnesLike(x)))
}

// edgeSoftmax normalizes the edge scores shaped [numEdges, heads] over the incoming edges of each target node.
func edgeSoftmax(scores, targets *Node, numNodes int) *Node {
	g := scores.Graph()
	dtype := scores.DType()
	heads := scores.Shape().Dimensions[1]
	nodesShape := shapes.Make(dtype, numNodes, heads)
	maxScores := ScatterMax(BroadcastToDims(Infinity(g, dtype, -1), numNodes, heads), targets, scores, false, false)
	maxScores = StopGradient(maxScores)
	expScores := Exp(Sub(scores, Gather(maxScores, targets)))
	sums := Scatter(targets, expScores, nodesShape, false, false)
	return Div(expScores, Gather(sums, targets))
}
