// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/ssgnn/internal/config"
)

// GIN is a Graph Isomorphism Network with sum aggregation and a learnable epsilon per layer:
//
//	h' = Dropout(ReLU(Dense((1+ε)·h + Σ_{j→i} h_j)))
//
// The output layer aggregates the same way, without activation or dropout, into the class logits.
// The last hidden state also feeds the self-supervised head.
type GIN struct {
	dims             []int
	reducedDimension int
}

var _ Network = (*GIN)(nil)

// Type implements Network.
func (n *GIN) Type() config.NetworkType { return config.NetworkGIN }

// Forward implements Network.
func (n *GIN) Forward(ctx *context.Context, in Inputs) Outputs {
	ctx = ctx.In("gin")
	dropoutRate := context.GetParamOr(ctx, ParamDropout, 0.5)
	h := in.Features
	hiddenDims := n.dims[1 : len(n.dims)-1]
	for layer, dim := range hiddenDims {
		layerCtx := ctx.Inf("layer_%d", layer)
		h = ginLayer(layerCtx, h, in, dim)
		h = activations.Relu(h)
		h = layers.DropoutStatic(layerCtx, h, dropoutRate)
	}
	return Outputs{
		Logits:         ginLayer(ctx.In("output"), h, in, n.dims[len(n.dims)-1]),
		SelfSupervised: layers.Dense(ctx.In("self_supervised"), h, false, n.reducedDimension),
	}
}

// ginLayer returns Dense((1+ε)·h + Σ_{j→i} h_j) with outputDim units.
func ginLayer(ctx *context.Context, h *Node, in Inputs, outputDim int) *Node {
	eps := ctx.VariableWithValue("eps", float32(0)).ValueGraph(h.Graph())
	eps = ConvertDType(eps, h.DType())
	h = Add(Mul(AddScalar(eps, 1), h), sumIncoming(h, in.Sources, in.Targets))
	return layers.Dense(ctx.In("mlp"), h, true, outputDim)
}
