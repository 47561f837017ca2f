// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gnn

import (
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/ssgnn/citation"
	"github.com/pkg/errors"
)

// EdgeList holds the directed edges used for message passing: messages flow from Sources[i] to Targets[i].
type EdgeList struct {
	NumNodes         int
	Sources, Targets []int32
}

// FromAdjacency creates an edge list with one edge row -> col for each nonzero of the adjacency.
//
// numFeatureRows is the number of rows of the node features matrix, and it must match the
// number of nodes of the adjacency.
func FromAdjacency(adj *citation.Adjacency, numFeatureRows int) (*EdgeList, error) {
	if adj.NumNodes != numFeatureRows {
		return nil, errors.Errorf("adjacency has %d nodes, but the features matrix has %d rows", adj.NumNodes, numFeatureRows)
	}
	return &EdgeList{
		NumNodes: adj.NumNodes,
		Sources:  slices.Clone(adj.Rows),
		Targets:  slices.Clone(adj.Cols),
	}, nil
}

// NumEdges returns the number of directed edges.
func (g *EdgeList) NumEdges() int {
	return len(g.Sources)
}

// WithSelfLoops returns a copy of the edge list with one extra edge i -> i appended for every node.
// Existing self-loops are kept, so those nodes end up with two.
func (g *EdgeList) WithSelfLoops() *EdgeList {
	newG := &EdgeList{
		NumNodes: g.NumNodes,
		Sources:  make([]int32, 0, g.NumEdges()+g.NumNodes),
		Targets:  make([]int32, 0, g.NumEdges()+g.NumNodes),
	}
	newG.Sources = append(newG.Sources, g.Sources...)
	newG.Targets = append(newG.Targets, g.Targets...)
	for node := range int32(g.NumNodes) {
		newG.Sources = append(newG.Sources, node)
		newG.Targets = append(newG.Targets, node)
	}
	return newG
}

// EdgeTensors returns the sources and targets as tensors shaped [numEdges, 1], the layout
// expected by Gather and Scatter.
func (g *EdgeList) EdgeTensors() (sources, targets *tensors.Tensor) {
	sources = tensors.FromFlatDataAndDimensions(g.Sources, g.NumEdges(), 1)
	targets = tensors.FromFlatDataAndDimensions(g.Targets, g.NumEdges(), 1)
	return
}

// String implements fmt.Stringer.
func (g *EdgeList) String() string {
	return fmt.Sprintf("EdgeList(%s nodes, %s edges)", humanize.Comma(int64(g.NumNodes)), humanize.Comma(int64(g.NumEdges())))
}
