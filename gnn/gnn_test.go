// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	"fmt"
	"math"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/ssgnn/citation"
	"github.com/gomlx/ssgnn/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ringEdges returns a symmetric ring of numNodes nodes.
func ringEdges(t *testing.T, numNodes int) *EdgeList {
	edges := make([]citation.Edge, numNodes)
	for i := range numNodes {
		edges[i] = citation.Edge{int32(i), int32((i + 1) % numNodes)}
	}
	adj, err := citation.NewAdjacency(numNodes, edges, true)
	require.NoError(t, err)
	g, err := FromAdjacency(adj, numNodes)
	require.NoError(t, err)
	return g
}

func TestEdgeList(t *testing.T) {
	g := ringEdges(t, 5)
	assert.Equal(t, 10, g.NumEdges())
	fmt.Println(g)

	withLoops := g.WithSelfLoops()
	assert.Equal(t, 15, withLoops.NumEdges())
	assert.Equal(t, 10, g.NumEdges(), "original edge list is not modified")
	for i := range 5 {
		assert.Equal(t, int32(i), withLoops.Sources[10+i])
		assert.Equal(t, int32(i), withLoops.Targets[10+i])
	}

	sources, targets := withLoops.EdgeTensors()
	assert.Equal(t, []int{15, 1}, sources.Shape().Dimensions)
	assert.Equal(t, []int{15, 1}, targets.Shape().Dimensions)

	adj, err := citation.NewAdjacency(5, nil, true)
	require.NoError(t, err)
	_, err = FromAdjacency(adj, 6)
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	net, err := New(config.NetworkGAT, []int{4, 6, 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, config.NetworkGAT, net.Type())
	_, err = New(config.NetworkGIN, []int{4, 3}, 2)
	require.Error(t, err)
	_, err = New(config.NetworkGIN, []int{4, 6, 3}, 0)
	require.Error(t, err)
	_, err = New(config.NetworkInvalid, []int{4, 6, 3}, 2)
	require.Error(t, err)
}

func TestNetworkShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const numNodes, numFeatures, numClasses, reducedDim = 5, 4, 3, 2
	features := make([]float32, numNodes*numFeatures)
	for i := range features {
		features[i] = float32(i%7) / 7
	}
	featuresT := tensors.FromFlatDataAndDimensions(features, numNodes, numFeatures)

	for _, tc := range []struct {
		network config.NetworkType
		dims    []int
	}{
		{config.NetworkGIN, []int{numFeatures, 6, numClasses}},
		{config.NetworkGIN, []int{numFeatures, 8, 6, numClasses}},
		{config.NetworkGAT, []int{numFeatures, 6, numClasses}},
		{config.NetworkGAT, []int{numFeatures, 4, 5, numClasses}},
	} {
		t.Run(fmt.Sprintf("%s-%v", tc.network, tc.dims), func(t *testing.T) {
			g := ringEdges(t, numNodes)
			if tc.network.NeedsSelfLoops() {
				g = g.WithSelfLoops()
			}
			sources, targets := g.EdgeTensors()
			net, err := New(tc.network, tc.dims, reducedDim)
			require.NoError(t, err)

			ctx := context.New()
			ctx.SetParams(map[string]any{ParamGATHeads: 2})
			ctx.RngStateFromSeed(42)
			exec, err := context.NewExec(backend, ctx, func(ctx *context.Context, inputs []*Node) []*Node {
				ctx.SetTraining(inputs[0].Graph(), true)
				out := net.Forward(ctx, Inputs{Features: inputs[0], Sources: inputs[1], Targets: inputs[2]})
				return []*Node{out.Logits, out.SelfSupervised}
			})
			require.NoError(t, err)
			logits, ss, err := exec.Exec2(featuresT, sources, targets)
			require.NoError(t, err)
			assert.Equal(t, []int{numNodes, numClasses}, logits.Shape().Dimensions)
			assert.Equal(t, []int{numNodes, reducedDim}, ss.Shape().Dimensions)
			for _, v := range tensors.CopyFlatData[float32](logits) {
				assert.False(t, math.IsNaN(float64(v)), "logits must not be NaN")
			}
			if tc.network == config.NetworkGIN {
				// The output layer aggregates neighbors like the hidden layers.
				assert.NotNil(t, ctx.GetVariableByScopeAndName("/gin/output", "eps"))
				assert.NotNil(t, ctx.GetVariableByScopeAndName("/gin/layer_0", "eps"))
			}
		})
	}
}

func TestEdgeSoftmax(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	// 3 nodes: node 0 receives 2 edges, node 1 receives 1 edge and node 2 none.
	scores := tensors.FromValue([][]float32{{1, 0}, {3, 0}, {-2, 5}})
	targets := tensors.FromValue([][]int32{{0}, {0}, {1}})
	attention, err := ExecOnce(backend, func(scores, targets *Node) *Node {
		return edgeSoftmax(scores, targets, 3)
	}, scores, targets)
	require.NoError(t, err)
	got := attention.Value().([][]float32)
	e1, e3 := math.Exp(1), math.Exp(3)
	assert.InDelta(t, e1/(e1+e3), got[0][0], 1e-5)
	assert.InDelta(t, e3/(e1+e3), got[1][0], 1e-5)
	assert.InDelta(t, 0.5, got[0][1], 1e-5)
	assert.InDelta(t, 0.5, got[1][1], 1e-5)
	assert.InDelta(t, 1.0, got[2][0], 1e-5)
	assert.InDelta(t, 1.0, got[2][1], 1e-5)
}

func TestSumIncoming(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	values := tensors.FromValue([][]float32{{1}, {10}, {100}})
	sources := tensors.FromValue([][]int32{{0}, {1}, {2}, {0}})
	targets := tensors.FromValue([][]int32{{1}, {2}, {0}, {2}})
	sum, err := ExecOnce(backend, sumIncoming, values, sources, targets)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{100}, {1}, {11}}, sum.Value())
}
