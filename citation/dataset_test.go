// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package citation

import (
	"fmt"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSynthetic writes a dataset of numNodes nodes in a ring, with 3 classes and 4 features.
func writeSynthetic(t *testing.T, dataDir, name string, numNodes int) {
	dir := path.Join(dataDir, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	classes := []string{"Theory", "Neural_Networks", "Genetic_Algorithms"}
	var content, cites strings.Builder
	for node := range numNodes {
		features := make([]string, 4)
		for f := range features {
			if (node+f)%3 == 0 {
				features[f] = "1"
			} else {
				features[f] = "0"
			}
		}
		_, _ = fmt.Fprintf(&content, "p%d\t%s\t%s\n", node, strings.Join(features, "\t"), classes[node%3])
		_, _ = fmt.Fprintf(&cites, "p%d\tp%d\n", (node+1)%numNodes, node)
	}
	// Duplicated citation, citation in the reverse direction and citation to a missing paper.
	cites.WriteString("p1\tp0\np0\tp1\nmissing\tp0\n")
	require.NoError(t, os.WriteFile(path.Join(dir, name+".content"), []byte(content.String()), 0644))
	require.NoError(t, os.WriteFile(path.Join(dir, name+".cites"), []byte(cites.String()), 0644))
}

var smallSplits = SplitSizes{TrainPerClass: 2, NumVal: 5, NumTest: 10}

func TestLoad(t *testing.T) {
	dataDir := t.TempDir()
	writeSynthetic(t, dataDir, "ring", 30)
	ds, err := Load(dataDir, "ring", smallSplits)
	require.NoError(t, err)
	fmt.Println(ds)

	assert.Equal(t, 30, ds.NumNodes)
	assert.Equal(t, 4, ds.NumFeatures)
	assert.Equal(t, 3, ds.NumClasses)
	assert.Equal(t, []string{"Genetic_Algorithms", "Neural_Networks", "Theory"}, ds.ClassNames)
	assert.Equal(t, int32(2), ds.Labels[0]) // Theory
	assert.Equal(t, int32(1), ds.Labels[1]) // Neural_Networks
	assert.Len(t, ds.Features, 30*4)

	// Ring of 30 nodes, symmetric: 60 entries, duplicates merged and missing papers dropped.
	assert.Equal(t, 60, ds.Adjacency.NNZ())
	assert.True(t, ds.Adjacency.IsSymmetric())

	// Rows are normalized.
	for node := range ds.NumNodes {
		var sum float32
		for _, v := range ds.Features[node*4 : (node+1)*4] {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "row %d", node)
	}

	// Splits: first 2 of each class in order, then 5 validation and 10 test.
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5}, ds.Splits.Train)
	assert.Equal(t, []int32{6, 7, 8, 9, 10}, ds.Splits.Val)
	assert.Len(t, ds.Splits.Test, 10)
	assert.Equal(t, int32(11), ds.Splits.Test[0])
	require.NoError(t, ds.Splits.Validate(ds.NumNodes))
}

func TestLoadErrors(t *testing.T) {
	dataDir := t.TempDir()
	_, err := Load(dataDir, "not-there", smallSplits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownDataset))
	assert.Contains(t, err.Error(), "[citeseer cora]", "downloadable datasets are listed sorted")

	// Too few nodes for the splits.
	writeSynthetic(t, dataDir, "tiny", 12)
	_, err = Load(dataDir, "tiny", smallSplits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataset))

	// Inconsistent number of attributes.
	_, err = Parse("bad", strings.NewReader("a 1 0 x\nb 1 y\n"), strings.NewReader(""), smallSplits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataset))

	// Malformed citation line.
	_, err = Parse("bad", strings.NewReader("a 1 0 x\nb 0 1 y\n"), strings.NewReader("a b c\n"), smallSplits)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataset))
}

func TestSplitsValidate(t *testing.T) {
	require.NoError(t, Splits{Train: []int32{0}, Val: []int32{1}, Test: []int32{2}}.Validate(3))
	for name, splits := range map[string]Splits{
		"overlap":      {Train: []int32{0, 1}, Val: []int32{1}, Test: []int32{2}},
		"duplicate":    {Train: []int32{0, 0}, Val: []int32{1}, Test: []int32{2}},
		"out of range": {Train: []int32{0}, Val: []int32{1}, Test: []int32{3}},
		"empty":        {Train: []int32{0}, Val: []int32{1}},
	} {
		err := splits.Validate(3)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrDataset), name)
	}
}

func TestZeroFeatureRow(t *testing.T) {
	content := "a 0 0 x\nb 1 1 y\n"
	ds, err := Parse("zero", strings.NewReader(content), strings.NewReader("a b\n"),
		SplitSizes{TrainPerClass: 1, NumVal: 0, NumTest: 0})
	// Validation and test splits are empty.
	require.Error(t, err)

	ds = &Dataset{Name: "zero"}
	labels, err := ds.parseContent(strings.NewReader(content))
	require.NoError(t, err)
	ds.setLabels(labels)
	ds.normalizeFeatures()
	assert.Equal(t, []float32{0, 0, 0.5, 0.5}, ds.Features)
}
