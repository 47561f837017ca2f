// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package citation loads citation-graph node classification datasets (Cora, Citeseer and
// any other dataset in the same format).
//
// A dataset named <name> is a directory <dataDir>/<name> with two files:
//
//   - <name>.content: one line per paper, "<paper_id> <word_attributes>+ <class_label>",
//     with binary word attributes.
//   - <name>.cites: one line per citation, "<cited_paper_id> <citing_paper_id>".
//
// Citations are treated as undirected edges. Citations to papers not listed in the
// content file are dropped.
package citation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrDataset is returned (wrapped) for malformed or inconsistent dataset files.
	ErrDataset = errors.New("invalid dataset")

	// ErrUnknownDataset is returned (wrapped) when a dataset is not on disk and there is no known URL for it.
	ErrUnknownDataset = errors.New("unknown dataset")
)

// SplitSizes configures how nodes are split into train, validation and test sets.
type SplitSizes struct {
	TrainPerClass int
	NumVal        int
	NumTest       int
}

// PlanetoidSplits is the standard semi-supervised split: 20 nodes per class for training,
// 500 for validation and 1000 for test.
var PlanetoidSplits = SplitSizes{TrainPerClass: 20, NumVal: 500, NumTest: 1000}

// Splits holds the node indices of each partition.
type Splits struct {
	Train, Val, Test []int32
}

// Validate checks that the splits are pairwise disjoint subsets of [0, numNodes) without duplicates.
func (s Splits) Validate(numNodes int) error {
	seen := make([]string, numNodes)
	for _, part := range []struct {
		name    string
		indices []int32
	}{{"train", s.Train}, {"validation", s.Val}, {"test", s.Test}} {
		if len(part.indices) == 0 {
			return errors.Wrapf(ErrDataset, "%s split is empty", part.name)
		}
		for _, idx := range part.indices {
			if idx < 0 || int(idx) >= numNodes {
				return errors.Wrapf(ErrDataset, "%s split has node %d out of range [0, %d)", part.name, idx, numNodes)
			}
			if seen[idx] != "" {
				return errors.Wrapf(ErrDataset, "node %d is in both %s and %s splits", idx, seen[idx], part.name)
			}
			seen[idx] = part.name
		}
	}
	return nil
}

// Dataset is a citation graph loaded in memory.
type Dataset struct {
	Name                              string
	NumNodes, NumFeatures, NumClasses int

	// Features is the row-major [NumNodes, NumFeatures] matrix, with each row normalized to sum 1.
	// Rows with no attributes stay zero.
	Features []float32

	// Labels holds the class index of each node, an index into ClassNames.
	Labels []int32

	// ClassNames sorted alphabetically.
	ClassNames []string

	// PaperIDs in the order they appear in the content file, which is the node order.
	PaperIDs []string

	// Adjacency is the raw symmetric adjacency of the citation graph.
	Adjacency *Adjacency

	Splits Splits
}

// String implements fmt.Stringer.
func (ds *Dataset) String() string {
	return fmt.Sprintf("%s: %s nodes, %s features, %d classes, %s edges (train=%d, val=%d, test=%d)",
		ds.Name, humanize.Comma(int64(ds.NumNodes)), humanize.Comma(int64(ds.NumFeatures)), ds.NumClasses,
		humanize.Comma(int64(ds.Adjacency.NNZ())), len(ds.Splits.Train), len(ds.Splits.Val), len(ds.Splits.Test))
}

// Load reads the dataset name from dataDir, downloading it first if it is missing and it is one
// of the KnownDatasets.
func Load(dataDir, name string, sizes SplitSizes) (*Dataset, error) {
	dataDir, err := fsutil.ReplaceTildeInDir(dataDir)
	if err != nil {
		return nil, err
	}
	contentPath := path.Join(dataDir, name, name+".content")
	citesPath := path.Join(dataDir, name, name+".cites")
	found, err := fsutil.FileExists(contentPath)
	if err != nil {
		return nil, err
	}
	if !found {
		if err = Download(dataDir, name); err != nil {
			return nil, err
		}
	}

	contentFile, err := os.Open(contentPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", contentPath)
	}
	defer func() { _ = contentFile.Close() }()
	citesFile, err := os.Open(citesPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", citesPath)
	}
	defer func() { _ = citesFile.Close() }()
	ds, err := Parse(name, contentFile, citesFile, sizes)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading dataset from %q", path.Join(dataDir, name))
	}
	return ds, nil
}

// Parse reads a dataset from its content and cites files.
func Parse(name string, content, cites io.Reader, sizes SplitSizes) (*Dataset, error) {
	ds := &Dataset{Name: name}
	labelNames, err := ds.parseContent(content)
	if err != nil {
		return nil, err
	}
	if err = ds.parseCites(cites); err != nil {
		return nil, err
	}
	ds.setLabels(labelNames)
	ds.normalizeFeatures()
	ds.Splits, err = NewSplits(ds.Labels, ds.NumClasses, sizes)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("loaded %s", ds)
	return ds, nil
}

// parseContent reads features and paper ids, and returns the class name of each node.
func (ds *Dataset) parseContent(r io.Reader) (labelNames []string, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, errors.Wrapf(ErrDataset, "%s.content line %d: expected paper id, attributes and label, got %d fields",
				ds.Name, lineNum, len(fields))
		}
		numFeatures := len(fields) - 2
		if ds.NumFeatures == 0 {
			ds.NumFeatures = numFeatures
		} else if numFeatures != ds.NumFeatures {
			return nil, errors.Wrapf(ErrDataset, "%s.content line %d: %d attributes, previous lines had %d",
				ds.Name, lineNum, numFeatures, ds.NumFeatures)
		}
		for _, field := range fields[1 : len(fields)-1] {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, errors.Wrapf(ErrDataset, "%s.content line %d: invalid attribute %q", ds.Name, lineNum, field)
			}
			ds.Features = append(ds.Features, float32(v))
		}
		ds.PaperIDs = append(ds.PaperIDs, fields[0])
		labelNames = append(labelNames, fields[len(fields)-1])
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s.content", ds.Name)
	}
	ds.NumNodes = len(ds.PaperIDs)
	if ds.NumNodes == 0 {
		return nil, errors.Wrapf(ErrDataset, "%s.content has no nodes", ds.Name)
	}
	return labelNames, nil
}

// parseCites builds the symmetric adjacency. It must be called after parseContent.
func (ds *Dataset) parseCites(r io.Reader) error {
	idToNode := make(map[string]int32, ds.NumNodes)
	for i, id := range ds.PaperIDs {
		if _, found := idToNode[id]; found {
			return errors.Wrapf(ErrDataset, "%s.content has paper id %q more than once", ds.Name, id)
		}
		idToNode[id] = int32(i)
	}
	var edges []Edge
	var dropped int
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return errors.Wrapf(ErrDataset, "%s.cites line %d: expected 2 paper ids, got %d fields", ds.Name, lineNum, len(fields))
		}
		cited, found0 := idToNode[fields[0]]
		citing, found1 := idToNode[fields[1]]
		if !found0 || !found1 {
			dropped++
			continue
		}
		edges = append(edges, Edge{citing, cited})
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "reading %s.cites", ds.Name)
	}
	if dropped > 0 {
		klog.V(1).Infof("%s: dropped %d citations to papers without content", ds.Name, dropped)
	}
	var err error
	ds.Adjacency, err = NewAdjacency(ds.NumNodes, edges, true)
	return err
}

// setLabels assigns class indices following the alphabetical order of the class names.
func (ds *Dataset) setLabels(labelNames []string) {
	ds.ClassNames = slices.Clone(labelNames)
	slices.Sort(ds.ClassNames)
	ds.ClassNames = slices.Compact(ds.ClassNames)
	ds.NumClasses = len(ds.ClassNames)
	ds.Labels = make([]int32, len(labelNames))
	for i, labelName := range labelNames {
		idx, _ := slices.BinarySearch(ds.ClassNames, labelName)
		ds.Labels[i] = int32(idx)
	}
}

func (ds *Dataset) normalizeFeatures() {
	for node := range ds.NumNodes {
		row := ds.Features[node*ds.NumFeatures : (node+1)*ds.NumFeatures]
		var sum float32
		for _, v := range row {
			sum += v
		}
		if sum == 0 {
			continue
		}
		for i := range row {
			row[i] /= sum
		}
	}
}

// NewSplits walks the nodes in order, assigning the first sizes.TrainPerClass nodes of each class
// to the training split. From the remaining nodes, again in order, the next sizes.NumVal go to
// validation and the next sizes.NumTest to test.
//
// It returns an error if there are not enough nodes.
func NewSplits(labels []int32, numClasses int, sizes SplitSizes) (Splits, error) {
	var splits Splits
	perClass := make([]int, numClasses)
	var rest []int32
	for node, label := range labels {
		if perClass[label] < sizes.TrainPerClass {
			perClass[label]++
			splits.Train = append(splits.Train, int32(node))
		} else {
			rest = append(rest, int32(node))
		}
	}
	for class, count := range perClass {
		if count < sizes.TrainPerClass {
			return Splits{}, errors.Wrapf(ErrDataset, "class %d has only %d nodes, %d needed for training",
				class, count, sizes.TrainPerClass)
		}
	}
	if len(rest) < sizes.NumVal+sizes.NumTest {
		return Splits{}, errors.Wrapf(ErrDataset, "only %d nodes left after the training split, %d needed for validation and test",
			len(rest), sizes.NumVal+sizes.NumTest)
	}
	splits.Val = rest[:sizes.NumVal]
	splits.Test = rest[sizes.NumVal : sizes.NumVal+sizes.NumTest]
	if err := splits.Validate(len(labels)); err != nil {
		return Splits{}, err
	}
	return splits, nil
}
