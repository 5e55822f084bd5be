package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/nshruti113/vnc-security-monitor/internal/models"
)

const (
	DefaultTrees      = 200
	DefaultSampleSize = 256
	eulerGamma        = 0.5772156649
)

// IsolationForest isolates points with random axis-aligned splits. Points
// that need fewer splits on average are more anomalous.
type IsolationForest struct {
	Trees       []*iNode `json:"trees"`
	NumTrees    int      `json:"num_trees"`
	SampleSize  int      `json:"sample_size"`
	HeightLimit int      `json:"height_limit"`
	Offset      float64  `json:"offset"`
	Features    int      `json:"features"`
}

type iNode struct {
	Size     int     `json:"size,omitempty"`
	Dim      int     `json:"dim,omitempty"`
	SplitVal float64 `json:"split,omitempty"`
	Left     *iNode  `json:"left,omitempty"`
	Right    *iNode  `json:"right,omitempty"`
}

func (n *iNode) leaf() bool { return n.Left == nil && n.Right == nil }

func NewIsolationForest(numTrees int) *IsolationForest {
	if numTrees <= 0 {
		numTrees = DefaultTrees
	}
	return &IsolationForest{NumTrees: numTrees}
}

// Fit grows the trees on sub-samples of X and calibrates the decision offset
// so that roughly a contamination fraction of X scores below zero.
func (f *IsolationForest) Fit(X [][]float64, contamination float64, seed uint64) error {
	n := len(X)
	if n == 0 {
		return fmt.Errorf("%w: no training data provided", models.ErrInput)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))

	f.Features = len(X[0])
	f.SampleSize = min(DefaultSampleSize, n)
	f.HeightLimit = int(math.Ceil(math.Log2(float64(max(f.SampleSize, 2)))))
	f.Trees = make([]*iNode, f.NumTrees)

	for i := 0; i < f.NumTrees; i++ {
		idxs := rng.Perm(n)[:f.SampleSize]
		sample := make([][]float64, f.SampleSize)
		for j, idx := range idxs {
			sample[j] = X[idx]
		}
		f.Trees[i] = buildTree(rng, sample, 0, f.HeightLimit)
	}

	scores := make([]float64, n)
	for i, x := range X {
		scores[i] = f.ScoreSample(x)
	}
	sort.Float64s(scores)
	f.Offset = percentileSorted(scores, 100*contamination)

	return nil
}

func buildTree(rng *rand.Rand, X [][]float64, depth, heightLimit int) *iNode {
	if len(X) <= 1 || depth >= heightLimit {
		return &iNode{Size: len(X)}
	}

	// only split on columns that vary inside this node
	d := len(X[0])
	splittable := make([]int, 0, d)
	lows := make([]float64, d)
	highs := make([]float64, d)
	for dim := 0; dim < d; dim++ {
		lo, hi := X[0][dim], X[0][dim]
		for _, row := range X[1:] {
			v := row[dim]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		lows[dim], highs[dim] = lo, hi
		if lo < hi {
			splittable = append(splittable, dim)
		}
	}
	if len(splittable) == 0 {
		return &iNode{Size: len(X)}
	}

	dim := splittable[rng.IntN(len(splittable))]
	split := lows[dim] + rng.Float64()*(highs[dim]-lows[dim])

	left := make([][]float64, 0, len(X))
	right := make([][]float64, 0, len(X))
	for _, row := range X {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &iNode{Size: len(X)}
	}

	return &iNode{
		Dim:      dim,
		SplitVal: split,
		Left:     buildTree(rng, left, depth+1, heightLimit),
		Right:    buildTree(rng, right, depth+1, heightLimit),
	}
}

// validate checks the structure of a decoded forest: every split must name a
// column inside the fitted width and every inner node needs both children.
func (f *IsolationForest) validate() error {
	if f.Features <= 0 || f.SampleSize <= 0 || len(f.Trees) == 0 {
		return fmt.Errorf("%w: forest has no fitted trees", models.ErrSchema)
	}
	for i, root := range f.Trees {
		if err := validateNode(root, f.Features, 0, f.HeightLimit); err != nil {
			return fmt.Errorf("%w: tree %d: %v", models.ErrSchema, i, err)
		}
	}
	return nil
}

func validateNode(n *iNode, features, depth, heightLimit int) error {
	switch {
	case n == nil:
		return errors.New("missing node")
	case depth > heightLimit:
		return fmt.Errorf("depth %d exceeds height limit %d", depth, heightLimit)
	case n.leaf():
		if n.Size < 0 {
			return fmt.Errorf("negative leaf size %d", n.Size)
		}
		return nil
	case n.Left == nil || n.Right == nil:
		return errors.New("split with a single child")
	case n.Dim < 0 || n.Dim >= features:
		return fmt.Errorf("split column %d outside [0, %d)", n.Dim, features)
	case math.IsNaN(n.SplitVal):
		return errors.New("split value is NaN")
	}
	if err := validateNode(n.Left, features, depth+1, heightLimit); err != nil {
		return err
	}
	return validateNode(n.Right, features, depth+1, heightLimit)
}

// averagePathLength is c(n), the mean unsuccessful-search depth of a BST
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2.0*(math.Log(float64(n-1))+eulerGamma) - 2.0*float64(n-1)/float64(n)
}

func pathLength(node *iNode, x []float64, depth int) float64 {
	if node.leaf() {
		return float64(depth) + averagePathLength(node.Size)
	}
	if x[node.Dim] < node.SplitVal {
		return pathLength(node.Left, x, depth+1)
	}
	return pathLength(node.Right, x, depth+1)
}

// ScoreSample returns -2^(-E[h(x)]/c(ψ)); lower is more anomalous
func (f *IsolationForest) ScoreSample(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, t := range f.Trees {
		sum += pathLength(t, x, 0)
	}
	avg := sum / float64(len(f.Trees))
	c := averagePathLength(f.SampleSize)
	if c <= 0 {
		c = 1
	}
	return -math.Pow(2, -avg/c)
}

// Decision is the offset-shifted score: higher is more normal, negative
// values are outliers.
func (f *IsolationForest) Decision(x []float64) float64 {
	return f.ScoreSample(x) - f.Offset
}
