package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var defaultWeights = []float64{0.25, 0.15, 0.25, 0.15, 0.10, 0.05, 0.05}

func TestRuleScorer_AllOnes(t *testing.T) {
	r := NewRuleScorer(defaultWeights)
	assert.InDelta(t, 10.0, r.Score([]float64{1, 1, 1, 1, 1, 1, 1}), 1e-9)
}

func TestRuleScorer_AllZeros(t *testing.T) {
	r := NewRuleScorer(defaultWeights)
	assert.Zero(t, r.Score(make([]float64, 7)))
}

func TestRuleScorer_Weighted(t *testing.T) {
	r := NewRuleScorer(defaultWeights)
	// Only structural similarity and value similarity are satisfied.
	got := r.Score([]float64{1, 0, 1, 0, 0, 0, 0})
	assert.InDelta(t, 5.0, got, 1e-9)
}

func TestRuleScorer_ExtraFeaturesShareRemainder(t *testing.T) {
	r := NewRuleScorer([]float64{0.4, 0.4})
	// 0.2 of weight mass is left for two extra features, 0.1 each.
	got := r.Score([]float64{0, 0, 1, 1})
	assert.InDelta(t, 2.0, got, 1e-9)
}

func TestRuleScorer_ExtraFeaturesWithFullTable(t *testing.T) {
	r := NewRuleScorer(defaultWeights)
	got := r.Score([]float64{1, 1, 1, 1, 1, 1, 1, 1})
	assert.InDelta(t, 10.0, got, 1e-9)
}

func TestRuleScorer_ShortVector(t *testing.T) {
	r := NewRuleScorer(defaultWeights)
	assert.InDelta(t, 2.5, r.Score([]float64{1}), 1e-9)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-3))
	assert.Equal(t, 10.0, Clamp(12))
	assert.Equal(t, 4.2, Clamp(4.2))
	assert.Equal(t, 0.0, Clamp(math.NaN()))
}
