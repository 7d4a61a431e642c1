package model

import (
	"math"
	"math/rand/v2"
	"sort"
)

// node is one tree node. Leaves have Left == Right == -1.
type node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

func (n node) leaf() bool { return n.Left < 0 }

// Tree is a CART regression tree stored as a flat node array; index 0 is
// the root.
type Tree struct {
	Nodes []node `json:"nodes"`
}

func (t *Tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.leaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeBuilder struct {
	x        [][]float64
	y        []float64
	maxDepth int
	minLeaf  int
	mtry     int
	rng      *rand.Rand
	tree     *Tree
}

func (b *treeBuilder) build(idx []int, depth int) int {
	mean := meanOf(b.y, idx)
	self := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, node{Left: -1, Right: -1, Value: mean})

	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf || sse(b.y, idx, mean) == 0 {
		return self
	}

	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.tree.Nodes[self] = node{Feature: feature, Threshold: threshold, Left: l, Right: r, Value: mean}
	return self
}

// bestSplit searches a random subset of features for the threshold that
// minimizes the summed squared error of the two children.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	numFeatures := len(b.x[idx[0]])
	candidates := b.rng.Perm(numFeatures)[:b.mtry]

	bestFeature, bestThreshold := -1, 0.0
	bestErr := math.Inf(1)

	sorted := make([]int, len(idx))
	for _, f := range candidates {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })

		// Prefix sums make each candidate threshold O(1).
		var totalSum, totalSq float64
		for _, i := range sorted {
			totalSum += b.y[i]
			totalSq += b.y[i] * b.y[i]
		}

		var leftSum, leftSq float64
		for k := 0; k < len(sorted)-1; k++ {
			yi := b.y[sorted[k]]
			leftSum += yi
			leftSq += yi * yi

			lo, hi := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if lo == hi {
				continue
			}
			nl, nr := float64(k+1), float64(len(sorted)-k-1)
			if int(nl) < b.minLeaf || int(nr) < b.minLeaf {
				continue
			}
			rightSum, rightSq := totalSum-leftSum, totalSq-leftSq
			errL := leftSq - leftSum*leftSum/nl
			errR := rightSq - rightSum*rightSum/nr
			if e := errL + errR; e < bestErr {
				bestErr = e
				bestFeature = f
				bestThreshold = (lo + hi) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func meanOf(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var s float64
	for _, i := range idx {
		s += y[i]
	}
	return s / float64(len(idx))
}

func sse(y []float64, idx []int, mean float64) float64 {
	var s float64
	for _, i := range idx {
		d := y[i] - mean
		s += d * d
	}
	return s
}
