// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package citation

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
)

// Adjacency is a sparse square matrix in coordinate (COO) format.
//
// Entries are sorted by (row, col) and there are no duplicate coordinates.
type Adjacency struct {
	NumNodes int
	Rows     []int32
	Cols     []int32
	Values   []float32
}

// Edge is a pair of node indices, from source to target.
type Edge [2]int32

// NewAdjacency builds the adjacency matrix of numNodes nodes with a 1 for every given edge.
// If symmetric is true, every edge (i, j) also sets (j, i).
// Repeated edges are merged into a single entry of value 1.
func NewAdjacency(numNodes int, edges []Edge, symmetric bool) (*Adjacency, error) {
	keys := make([]int64, 0, 2*len(edges))
	for _, e := range edges {
		for _, node := range e {
			if node < 0 || int(node) >= numNodes {
				return nil, errors.Wrapf(ErrDataset, "edge %v out of range for %d nodes", e, numNodes)
			}
		}
		keys = append(keys, int64(e[0])*int64(numNodes)+int64(e[1]))
		if symmetric {
			keys = append(keys, int64(e[1])*int64(numNodes)+int64(e[0]))
		}
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	a := &Adjacency{
		NumNodes: numNodes,
		Rows:     make([]int32, len(keys)),
		Cols:     make([]int32, len(keys)),
		Values:   make([]float32, len(keys)),
	}
	for i, key := range keys {
		a.Rows[i] = int32(key / int64(numNodes))
		a.Cols[i] = int32(key % int64(numNodes))
		a.Values[i] = 1
	}
	return a, nil
}

// NNZ returns the number of stored entries.
func (a *Adjacency) NNZ() int {
	return len(a.Values)
}

// Degrees returns the sum of the values of each row.
func (a *Adjacency) Degrees() []float32 {
	degrees := make([]float32, a.NumNodes)
	for i, row := range a.Rows {
		degrees[row] += a.Values[i]
	}
	return degrees
}

// IsSymmetric reports whether (i, j, v) is stored if and only if (j, i, v) is.
func (a *Adjacency) IsSymmetric() bool {
	entries := make(map[[2]int32]float32, a.NNZ())
	for i := range a.Rows {
		entries[[2]int32{a.Rows[i], a.Cols[i]}] = a.Values[i]
	}
	for i := range a.Rows {
		v, found := entries[[2]int32{a.Cols[i], a.Rows[i]}]
		if !found || v != a.Values[i] {
			return false
		}
	}
	return true
}

// WithoutDiagonal returns a copy of a with the (i, i) entries removed.
func (a *Adjacency) WithoutDiagonal() *Adjacency {
	newA := &Adjacency{NumNodes: a.NumNodes}
	for i := range a.Rows {
		if a.Rows[i] == a.Cols[i] {
			continue
		}
		newA.Rows = append(newA.Rows, a.Rows[i])
		newA.Cols = append(newA.Cols, a.Cols[i])
		newA.Values = append(newA.Values, a.Values[i])
	}
	return newA
}

// SymmetricNormalized returns D^-1/2 A D^-1/2, where D is the diagonal matrix of the row degrees.
// Entries of zero-degree rows stay zero.
func (a *Adjacency) SymmetricNormalized() *Adjacency {
	invSqrt := a.Degrees()
	for i, d := range invSqrt {
		if d > 0 {
			invSqrt[i] = float32(1 / math.Sqrt(float64(d)))
		} else {
			invSqrt[i] = 0
		}
	}
	newA := &Adjacency{
		NumNodes: a.NumNodes,
		Rows:     slices.Clone(a.Rows),
		Cols:     slices.Clone(a.Cols),
		Values:   make([]float32, len(a.Values)),
	}
	for i, v := range a.Values {
		newA.Values[i] = invSqrt[a.Rows[i]] * v * invSqrt[a.Cols[i]]
	}
	return newA
}

// String implements fmt.Stringer.
func (a *Adjacency) String() string {
	return fmt.Sprintf("Adjacency(%d nodes, %d nonzeros)", a.NumNodes, a.NNZ())
}
