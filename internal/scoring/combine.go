package scoring

import "math"

// Per-source confidence used to derive the confidence of a fused score.
const (
	RuleConfidence          = 0.5
	CloudConfidence         = 0.8
	FallbackModelConfidence = 0.1
)

const weightTolerance = 1e-3

// WeightSet is the relative contribution of each scoring source. It is
// derived from the sample count on every call, never stored.
type WeightSet struct {
	Rule  float64 `json:"rule"`
	Model float64 `json:"model"`
	Cloud float64 `json:"cloud"`
}

// Sum returns the total weight.
func (w WeightSet) Sum() float64 { return w.Rule + w.Model + w.Cloud }

// normalize rescales the set to sum to 1 when it drifts past tolerance.
func (w WeightSet) normalize() WeightSet {
	s := w.Sum()
	if s <= 0 {
		return WeightSet{Rule: 1}
	}
	if math.Abs(s-1) <= weightTolerance {
		return w
	}
	return WeightSet{Rule: w.Rule / s, Model: w.Model / s, Cloud: w.Cloud / s}
}

// Schedule returns the weights for n accumulated samples with all three
// sources present. The learned model gains weight as samples accumulate
// and the cloud judge loses it.
func Schedule(n, minSamples int) WeightSet {
	var model, cloud float64
	switch {
	case n < minSamples:
		model, cloud = 0.1, 0.6
	case n < 10:
		model, cloud = 0.3, 0.5
	case n < 20:
		model, cloud = 0.5, 0.3
	case n < 50:
		model, cloud = 0.7, 0.2
	default:
		model, cloud = 0.8, 0.1
	}
	return WeightSet{Rule: 1 - model - cloud, Model: model, Cloud: cloud}.normalize()
}

// Weights returns the schedule for n samples, redistributing the cloud
// weight proportionally onto rule and model when no cloud score exists.
func Weights(n, minSamples int, hasCloud bool) WeightSet {
	w := Schedule(n, minSamples)
	if hasCloud {
		return w
	}
	pair := w.Rule + w.Model
	if pair <= 0 {
		return WeightSet{Rule: 1}
	}
	return WeightSet{Rule: w.Rule / pair, Model: w.Model / pair}
}

// Combination is a fused score with the weights that produced it.
type Combination struct {
	FinalScore float64   `json:"final_score"`
	Weights    WeightSet `json:"weights"`
}

// Combiner fuses the three scoring sources.
type Combiner struct {
	MinSamples int
}

// Combine fuses the scores for the given sample count. A nil cloudScore
// omits the cloud source.
func (c Combiner) Combine(n int, ruleScore, modelScore float64, cloudScore *float64) Combination {
	w := Weights(n, c.MinSamples, cloudScore != nil)
	final := w.Rule*ruleScore + w.Model*modelScore
	if cloudScore != nil {
		final += w.Cloud * *cloudScore
	}
	return Combination{FinalScore: Clamp(final), Weights: w}
}

// Confidence blends per-source confidences with the fused weights.
func Confidence(w WeightSet, modelConfidence float64) float64 {
	c := w.Rule*RuleConfidence + w.Model*modelConfidence + w.Cloud*CloudConfidence
	return math.Max(0, math.Min(1, c))
}
