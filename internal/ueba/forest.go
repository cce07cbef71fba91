package ueba

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
)

const eulerGamma = 0.5772156649015329

// forest is a self-contained isolation forest. Scores land in [0, 1];
// higher means more isolated.
type forest struct {
	TreeCount   int           `json:"tree_count"`
	Trees       []*forestNode `json:"trees"`
	SampleSize  int           `json:"sample_size"`
	HeightLimit int           `json:"height_limit"`
	Dimensions  int           `json:"dimensions"`
}

// forestNode is one node of an isolation tree. Leaves have no children and
// carry the size of the subsample they isolate.
type forestNode struct {
	SplitDim int         `json:"dim"`
	SplitVal float64     `json:"val"`
	Left     *forestNode `json:"left,omitempty"`
	Right    *forestNode `json:"right,omitempty"`
	Size     int         `json:"size"`
}

func (n *forestNode) leaf() bool { return n.Left == nil && n.Right == nil }

// newForest sizes an untrained forest. Non-positive arguments fall back to
// 100 trees over subsamples of 256.
func newForest(trees, sampleSize int) *forest {
	if trees <= 0 {
		trees = 100
	}
	if sampleSize <= 0 {
		sampleSize = 256
	}
	return &forest{TreeCount: trees, SampleSize: sampleSize}
}

// Train fits the forest to the data set, replacing any prior trees. The
// height limit follows the subsample size, so trees stay shallow even on
// large inputs.
func (f *forest) Train(rng *rand.Rand, data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("empty training set")
	}
	dims := len(data[0])
	if dims == 0 {
		return fmt.Errorf("zero-width training rows")
	}

	sample := f.SampleSize
	if sample > len(data) {
		sample = len(data)
	}
	f.Dimensions = dims
	f.HeightLimit = int(math.Ceil(math.Log2(float64(sample))))
	if f.HeightLimit < 1 {
		f.HeightLimit = 1
	}

	f.Trees = make([]*forestNode, f.TreeCount)
	for i := range f.Trees {
		perm := rng.Perm(len(data))[:sample]
		subset := make([][]float64, sample)
		for j, k := range perm {
			subset[j] = data[k]
		}
		f.Trees[i] = buildTree(rng, subset, 0, f.HeightLimit)
	}
	return nil
}

func buildTree(rng *rand.Rand, data [][]float64, depth, limit int) *forestNode {
	if len(data) <= 1 || depth >= limit {
		return &forestNode{Size: len(data)}
	}

	dim := rng.Intn(len(data[0]))
	lo, hi := data[0][dim], data[0][dim]
	for _, row := range data[1:] {
		if row[dim] < lo {
			lo = row[dim]
		}
		if row[dim] > hi {
			hi = row[dim]
		}
	}
	if lo == hi {
		return &forestNode{Size: len(data)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range data {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &forestNode{Size: len(data)}
	}

	return &forestNode{
		SplitDim: dim,
		SplitVal: split,
		Left:     buildTree(rng, left, depth+1, limit),
		Right:    buildTree(rng, right, depth+1, limit),
	}
}

// Score returns the anomaly score for the point, or 0 when the forest is
// untrained or the point has the wrong width.
func (f *forest) Score(point []float64) float64 {
	if len(f.Trees) == 0 || len(point) != f.Dimensions {
		return 0
	}
	total := 0.0
	for _, tree := range f.Trees {
		total += pathLength(tree, point, 0)
	}
	avg := total / float64(len(f.Trees))
	c := cFactor(f.SampleSize)
	if c == 0 {
		return 0
	}
	return math.Pow(2, -avg/c)
}

func pathLength(node *forestNode, point []float64, depth int) float64 {
	if node.leaf() {
		return float64(depth) + cFactor(node.Size)
	}
	if point[node.SplitDim] < node.SplitVal {
		return pathLength(node.Left, point, depth+1)
	}
	return pathLength(node.Right, point, depth+1)
}

// cFactor is the average unsuccessful-search path length of a binary search
// tree holding n points.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// SaveJSON persists the trained forest, creating parent directories as
// needed.
func (f *forest) SaveJSON(path string) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}

// loadForest reads a persisted forest and validates it is usable. Missing
// files surface the underlying fs error so callers can branch on it.
func loadForest(path string) (*forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f forest
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(f.Trees) == 0 || f.Dimensions <= 0 || f.SampleSize <= 0 {
		return nil, fmt.Errorf("model at %s is incomplete", path)
	}
	return &f, nil
}
