package regression

import (
	"math/rand"
	"sort"
)

// Forest is a bagged ensemble of CART regression trees. Every tree is grown
// on a bootstrap sample and considers all features at each split.
type Forest struct {
	Trees    int
	MaxDepth int
	MinLeaf  int
}

// Name returns the registry name
func (m *Forest) Name() string { return "forest" }

// Fit grows Trees trees; tree t samples with its own generator seeded seed+t.
func (m *Forest) Fit(x [][]float64, y []float64, seed int64) (Fitted, error) {
	n, d, err := checkShape(x, y)
	if err != nil {
		return nil, err
	}

	trees := max(m.Trees, 1)
	minLeaf := max(m.MinLeaf, 1)

	fit := &forestFit{features: d, trees: make([][]treeNode, trees)}
	for t := range fit.trees {
		rng := rand.New(rand.NewSource(seed + int64(t)))
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.Intn(n)
		}

		b := &treeBuilder{x: x, y: y, maxDepth: m.MaxDepth, minLeaf: minLeaf}
		b.grow(sample, 0)
		fit.trees[t] = b.nodes
	}
	return fit, nil
}

type treeNode struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      int
	right     int
}

type treeBuilder struct {
	x        [][]float64
	y        []float64
	maxDepth int
	minLeaf  int
	nodes    []treeNode
}

// grow appends the subtree over rows idx and returns its root position.
func (b *treeBuilder) grow(idx []int, depth int) int {
	var sum float64
	for _, i := range idx {
		sum += b.y[i]
	}
	id := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{leaf: true, value: sum / float64(len(idx))})

	if len(idx) < 2*b.minLeaf || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return id
	}
	feature, threshold, ok := b.bestSplit(idx, sum)
	if !ok {
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id] = treeNode{feature: feature, threshold: threshold, left: l, right: r}
	return id
}

// bestSplit finds the threshold maximizing the reduction of squared error.
// Reports false when no split improves on the parent.
func (b *treeBuilder) bestSplit(idx []int, total float64) (int, float64, bool) {
	n := len(idx)
	parent := total * total / float64(n)
	best := parent + 1e-12
	bestFeature, bestThreshold, found := -1, 0.0, false

	sorted := make([]int, n)
	for f := range b.x[idx[0]] {
		copy(sorted, idx)
		sort.Slice(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })

		var leftSum float64
		for k := 1; k < n; k++ {
			leftSum += b.y[sorted[k-1]]
			if k < b.minLeaf || n-k < b.minLeaf {
				continue
			}
			lo, hi := b.x[sorted[k-1]][f], b.x[sorted[k]][f]
			if lo == hi {
				continue
			}
			rightSum := total - leftSum
			score := leftSum*leftSum/float64(k) + rightSum*rightSum/float64(n-k)
			if score > best {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				best = score
				bestFeature, bestThreshold, found = f, threshold, true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

type forestFit struct {
	features int
	trees    [][]treeNode
}

func (f *forestFit) Predict(x [][]float64) ([]float64, error) {
	if err := checkWidth(x, f.features); err != nil {
		return nil, err
	}

	pred := make([]float64, len(x))
	for i, row := range x {
		var sum float64
		for _, nodes := range f.trees {
			sum += walk(nodes, row)
		}
		pred[i] = sum / float64(len(f.trees))
	}
	return pred, nil
}

func walk(nodes []treeNode, row []float64) float64 {
	n := nodes[0]
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = nodes[n.left]
		} else {
			n = nodes[n.right]
		}
	}
	return n.value
}
