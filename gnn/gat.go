// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/ssgnn/internal/config"
)

// GAT is a Graph Attention Network.
//
// Hidden layers use ParamGATHeads heads with ELU activation, and their heads are concatenated.
// The output layer uses a single head and no activation. The self-supervised head reads the
// concatenated output of the last hidden layer.
//
// It expects the graph to include self-loops, otherwise nodes ignore their own state.
type GAT struct {
	dims             []int
	reducedDimension int
}

var _ Network = (*GAT)(nil)

// Type implements Network.
func (n *GAT) Type() config.NetworkType { return config.NetworkGAT }

// Forward implements Network.
func (n *GAT) Forward(ctx *context.Context, in Inputs) Outputs {
	ctx = ctx.In("gat")
	heads := context.GetParamOr(ctx, ParamGATHeads, 8)
	h := in.Features
	hiddenDims := n.dims[1 : len(n.dims)-1]
	for layer, dim := range hiddenDims {
		h = gatLayer(ctx.Inf("layer_%d", layer), h, in, heads, dim)
		h = elu(h)
		h = Reshape(h, in.NumNodes(), heads*dim)
	}
	logits := gatLayer(ctx.Inf("layer_%d", len(hiddenDims)), h, in, 1, n.dims[len(n.dims)-1])
	return Outputs{
		Logits:         Reshape(logits, in.NumNodes(), n.dims[len(n.dims)-1]),
		SelfSupervised: layers.Dense(ctx.In("self_supervised"), h, false, n.reducedDimension),
	}
}

// gatLayer returns the attention weighted sum of the incoming projected features, shaped [numNodes, heads, dim].
func gatLayer(ctx *context.Context, x *Node, in Inputs, heads, dim int) *Node {
	g := x.Graph()
	dtype := x.DType()
	numNodes := in.NumNodes()
	featureDropout := context.GetParamOr(ctx, ParamGATFeatureDropout, 0.6)
	attentionDropout := context.GetParamOr(ctx, ParamGATAttentionDropout, 0.6)

	x = layers.DropoutStatic(ctx, x, featureDropout)
	projected := layers.Dense(ctx.In("projection"), x, false, heads, dim) // [numNodes, heads, dim]

	// Attention score of edge (i->j): LeakyReLU(a_src·Wh_i + a_dst·Wh_j).
	attnSource := ctx.VariableWithShape("attention_source", shapes.Make(dtype, heads, dim)).ValueGraph(g)
	attnTarget := ctx.VariableWithShape("attention_target", shapes.Make(dtype, heads, dim)).ValueGraph(g)
	scoreSource := ReduceSum(Mul(projected, InsertAxes(attnSource, 0)), -1) // [numNodes, heads]
	scoreTarget := ReduceSum(Mul(projected, InsertAxes(attnTarget, 0)), -1)
	scores := Add(Gather(scoreSource, in.Sources), Gather(scoreTarget, in.Targets)) // [numEdges, heads]
	scores = activations.LeakyReluWithAlpha(scores, 0.2)

	attention := edgeSoftmax(scores, in.Targets, numNodes)
	attention = layers.DropoutStatic(ctx, attention, attentionDropout)

	messages := Mul(Gather(projected, in.Sources), InsertAxes(attention, -1)) // [numEdges, heads, dim]
	output := Scatter(in.Targets, messages, projected.Shape(), false, false)
	bias := ctx.VariableWithValue("bias", tensors.FromShape(shapes.Make(dtype, heads, dim))).ValueGraph(g)
	return Add(output, InsertAxes(bias, 0))
}
