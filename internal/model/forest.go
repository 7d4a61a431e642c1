// Package model implements the learned scorer: a random-forest regressor
// mapping feature vectors to teacher scores, retrained from the full
// sample set on every trigger and persisted as a versioned artifact.
package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

var (
	// ErrInsufficientSamples is returned when fewer than the minimum number
	// of samples are available for training.
	ErrInsufficientSamples = errors.New("insufficient training samples")

	// ErrInconsistentFeatures is returned when training vectors differ in
	// length or contain non-finite values.
	ErrInconsistentFeatures = errors.New("inconsistent feature vectors")

	// ErrIncompatibleModel is returned when a model cannot serve a vector
	// or an artifact was written by an incompatible format version.
	ErrIncompatibleModel = errors.New("incompatible model")
)

// Config controls forest training. FeatureFraction is the share of
// features considered at each split.
type Config struct {
	Trees           int     `yaml:"trees"`
	MaxDepth        int     `yaml:"max_depth"`
	MinLeaf         int     `yaml:"min_leaf"`
	Seed            uint64  `yaml:"seed"`
	FeatureFraction float64 `yaml:"feature_fraction"`
}

// DefaultConfig returns sensible defaults for small sample sets.
func DefaultConfig() Config {
	return Config{
		Trees:           30,
		MaxDepth:        6,
		MinLeaf:         1,
		Seed:            42,
		FeatureFraction: 0.5,
	}
}

// Forest is a bagged ensemble of regression trees.
type Forest struct {
	NumFeatures int    `json:"num_features"`
	Trees       []Tree `json:"trees"`
}

// Validate checks the training preconditions: at least minSamples rows,
// one label per row, every vector of the same length and finite.
func Validate(x [][]float64, y []float64, minSamples int) error {
	if len(x) < minSamples || len(x) == 0 {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, len(x), minSamples)
	}
	if len(x) != len(y) {
		return fmt.Errorf("%w: %d vectors, %d labels", ErrInconsistentFeatures, len(x), len(y))
	}
	width := len(x[0])
	if width == 0 {
		return fmt.Errorf("%w: empty feature vector", ErrInconsistentFeatures)
	}
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("%w: sample %d has %d features, want %d", ErrInconsistentFeatures, i, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: sample %d has a non-finite feature", ErrInconsistentFeatures, i)
			}
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return fmt.Errorf("%w: sample %d has a non-finite label", ErrInconsistentFeatures, i)
		}
	}
	return nil
}

// Fit trains a forest on the full sample set. Training is deterministic for
// a given Config.Seed.
func Fit(x [][]float64, y []float64, cfg Config) (*Forest, error) {
	if err := Validate(x, y, 1); err != nil {
		return nil, err
	}
	if cfg.Trees <= 0 {
		cfg.Trees = DefaultConfig().Trees
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}
	if cfg.MinLeaf <= 0 {
		cfg.MinLeaf = 1
	}

	width := len(x[0])
	mtry := int(math.Ceil(float64(width) * cfg.FeatureFraction))
	if mtry < 1 || mtry > width {
		mtry = width
	}

	f := &Forest{NumFeatures: width, Trees: make([]Tree, cfg.Trees)}
	for t := range cfg.Trees {
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(t)+1))

		bag := make([]int, len(x))
		for i := range bag {
			bag[i] = rng.IntN(len(x))
		}

		b := &treeBuilder{
			x:        x,
			y:        y,
			maxDepth: cfg.MaxDepth,
			minLeaf:  cfg.MinLeaf,
			mtry:     mtry,
			rng:      rng,
			tree:     &f.Trees[t],
		}
		b.build(bag, 0)
	}
	return f, nil
}

// Predict averages the trees' predictions.
func (f *Forest) Predict(x []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("%w: forest has no trees", ErrIncompatibleModel)
	}
	if len(x) != f.NumFeatures {
		return 0, fmt.Errorf("%w: got %d features, model expects %d", ErrIncompatibleModel, len(x), f.NumFeatures)
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

// MeanAbsoluteError evaluates the forest on a labeled set.
func (f *Forest) MeanAbsoluteError(x [][]float64, y []float64) (float64, error) {
	if len(x) == 0 {
		return 0, nil
	}
	var total float64
	for i := range x {
		p, err := f.Predict(x[i])
		if err != nil {
			return 0, err
		}
		total += math.Abs(p - y[i])
	}
	return total / float64(len(x)), nil
}

// check verifies the structural integrity of a decoded forest so a damaged
// artifact cannot index out of range at predict time.
func (f *Forest) check() error {
	if f.NumFeatures <= 0 || len(f.Trees) == 0 {
		return fmt.Errorf("empty forest")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ti)
		}
		for ni, n := range t.Nodes {
			if n.leaf() {
				if n.Right >= 0 {
					return fmt.Errorf("tree %d node %d: half leaf", ti, ni)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= f.NumFeatures {
				return fmt.Errorf("tree %d node %d: feature %d out of range", ti, ni, n.Feature)
			}
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d: child out of range", ti, ni)
			}
		}
	}
	return nil
}
