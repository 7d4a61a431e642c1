// Package scoring holds the deterministic parts of grading: the rule-based
// scorer over a feature vector and the weight schedule that fuses the
// rule, model and cloud scores into a final grade.
package scoring

import "math"

// MaxScore is the top of the grading scale.
const MaxScore = 10.0

// RuleScorer combines a feature vector with static weights. It needs no
// training data and is always available.
type RuleScorer struct {
	weights []float64
}

// NewRuleScorer creates a scorer over the given weight table, in feature
// vector order.
func NewRuleScorer(weights []float64) *RuleScorer {
	w := make([]float64, len(weights))
	copy(w, weights)
	return &RuleScorer{weights: w}
}

// Score returns 10 × Σ(feature × weight), clamped to [0,10]. Features
// beyond the weight table share the weight mass the table leaves unused.
func (r *RuleScorer) Score(features []float64) float64 {
	var configured float64
	for _, w := range r.weights {
		configured += w
	}

	extraWeight := 0.0
	if extra := len(features) - len(r.weights); extra > 0 {
		extraWeight = math.Max(0, 1-configured) / float64(extra)
	}

	var sum float64
	for i, f := range features {
		w := extraWeight
		if i < len(r.weights) {
			w = r.weights[i]
		}
		sum += f * w
	}
	return Clamp(MaxScore * sum)
}

// Clamp bounds a score to [0,10]. NaN maps to 0.
func Clamp(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(MaxScore, score))
}
