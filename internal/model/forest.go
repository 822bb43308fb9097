package model

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const eulerGamma = 0.5772156649015329

// IsolationForest scores samples with an exported isolation forest.
// Shorter average isolation paths give lower (more anomalous) scores.
type IsolationForest struct {
	NFeatures  int             `json:"n_features"`
	MaxSamples int             `json:"max_samples"`
	Offset     float64         `json:"offset"`
	Trees      []IsolationTree `json:"trees"`
}

// IsolationTree is a flat array of nodes; index 0 is the root.
type IsolationTree struct {
	Nodes []TreeNode `json:"nodes"`
}

// TreeNode is a split node, or a leaf when Left is -1.
// Samples with x[Feature] <= Threshold go left.
type TreeNode struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	NSamples  int     `json:"n_samples"`
}

func (n *TreeNode) isLeaf() bool {
	return n.Left < 0
}

func (f *IsolationForest) validate() error {
	if f.NFeatures <= 0 {
		return fmt.Errorf("model n_features must be positive, got %d", f.NFeatures)
	}
	if f.MaxSamples < 2 {
		return fmt.Errorf("model max_samples must be at least 2, got %d", f.MaxSamples)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("model has no trees")
	}
	for ti, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ti)
		}
		for ni, n := range tree.Nodes {
			if n.isLeaf() {
				continue
			}
			if n.Feature < 0 || n.Feature >= f.NFeatures {
				return fmt.Errorf("tree %d node %d splits on feature %d outside [0,%d)", ti, ni, n.Feature, f.NFeatures)
			}
			if n.Left <= ni || n.Left >= len(tree.Nodes) || n.Right <= ni || n.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children %d/%d", ti, ni, n.Left, n.Right)
			}
		}
	}
	return nil
}

// AnomalyScore returns -2^(-E[h(x)] / c(max_samples)).
func (f *IsolationForest) AnomalyScore(values []float64) (float64, error) {
	if len(values) != f.NFeatures {
		return 0, fmt.Errorf("%w: model expects %d features, got %d", domain.ErrSchemaMismatch, f.NFeatures, len(values))
	}

	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(values)
	}
	mean := total / float64(len(f.Trees))

	return -math.Pow(2, -mean/averagePathLength(f.MaxSamples)), nil
}

// Classify returns -1 when the score falls below the fitted offset.
func (f *IsolationForest) Classify(values []float64) (int, error) {
	score, err := f.AnomalyScore(values)
	if err != nil {
		return 0, err
	}
	if score-f.Offset < 0 {
		return domain.OutlierLabel, nil
	}
	return 1, nil
}

// pathLength walks to a leaf and adds the expected remaining depth of the
// unbuilt subtree. Children always have larger indices than their parent
// (checked on load), so the walk terminates.
func (t *IsolationTree) pathLength(values []float64) float64 {
	depth := 0
	i := 0
	for {
		n := &t.Nodes[i]
		if n.isLeaf() {
			return float64(depth) + averagePathLength(n.NSamples)
		}
		if values[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// averagePathLength is c(n), the average path length of an unsuccessful
// search in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

var _ domain.AnomalyScorer = (*IsolationForest)(nil)
