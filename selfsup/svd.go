// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package selfsup computes the self-supervision target of the networks: the leading left
// singular vectors of the node feature matrix.
//
// Given features X (shaped [numNodes, numFeatures]) with thin SVD X = U·S·Vᵀ, the target for
// reduced dimension k is U[:, :k]. The networks learn to regress it from the graph, with an
// L1 loss.
package selfsup

import (
	"fmt"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// ErrInvalidDimension is returned (wrapped) when the reduced dimension is not in [1, min(numNodes, numFeatures)].
var ErrInvalidDimension = errors.New("invalid reduced dimension")

// Target holds the first K columns of U, row-major shaped [NumNodes, K].
type Target struct {
	NumNodes, K int
	Values      []float32

	// SingularValues are the K largest singular values, in decreasing order.
	SingularValues []float64
}

// Compute the target of dimension k for the row-major features matrix shaped [numNodes, numFeatures].
func Compute(features []float32, numNodes, numFeatures, k int) (*Target, error) {
	if len(features) != numNodes*numFeatures {
		return nil, errors.Errorf("features have %d values, but shape [%d, %d] needs %d",
			len(features), numNodes, numFeatures, numNodes*numFeatures)
	}
	if k <= 0 || k > numNodes || k > numFeatures {
		return nil, errors.Wrapf(ErrInvalidDimension, "k=%d must be in [1, %d] for features shaped [%d, %d]",
			k, min(numNodes, numFeatures), numNodes, numFeatures)
	}
	start := time.Now()
	data := make([]float64, len(features))
	for i, v := range features {
		data[i] = float64(v)
	}
	x := mat.NewDense(numNodes, numFeatures, data)
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, errors.Errorf("SVD of features shaped [%d, %d] failed to converge", numNodes, numFeatures)
	}
	var u mat.Dense
	svd.UTo(&u)
	target := &Target{
		NumNodes:       numNodes,
		K:              k,
		Values:         make([]float32, numNodes*k),
		SingularValues: svd.Values(nil)[:k],
	}
	for row := range numNodes {
		for col := range k {
			target.Values[row*k+col] = float32(u.At(row, col))
		}
	}
	klog.V(1).Infof("SVD target k=%d of features [%d, %d] computed in %s", k, numNodes, numFeatures, time.Since(start))
	return target, nil
}

// Tensor returns the target as a tensor shaped [NumNodes, K].
func (t *Target) Tensor() *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(t.Values, t.NumNodes, t.K)
}

// String implements fmt.Stringer.
func (t *Target) String() string {
	return fmt.Sprintf("selfsup.Target[%d, %d]", t.NumNodes, t.K)
}

// CacheKey identifies a target: the dataset it was computed from and its reduced dimension.
type CacheKey struct {
	Dataset string
	K       int
}

// Cache memoizes targets, so sweeps over seeds compute each SVD only once.
// It is not safe for concurrent use.
type Cache struct {
	targets map[CacheKey]*Target
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{targets: make(map[CacheKey]*Target)}
}

// Get returns the cached target for key, computing it with Compute if missing.
func (c *Cache) Get(key CacheKey, features []float32, numNodes, numFeatures int) (*Target, error) {
	if target, found := c.targets[key]; found {
		return target, nil
	}
	target, err := Compute(features, numNodes, numFeatures, key.K)
	if err != nil {
		return nil, errors.WithMessagef(err, "self-supervision target for dataset %q", key.Dataset)
	}
	c.targets[key] = target
	return target, nil
}

// Len returns the number of cached targets.
func (c *Cache) Len() int {
	return len(c.targets)
}
