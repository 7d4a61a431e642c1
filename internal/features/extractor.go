// Package features turns a (student response, reference response, test
// case) triple into a fixed-length numeric vector describing how closely
// the two responses agree.
package features

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed weights.yaml
var defaultTableYAML []byte

type tableEntry struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

type table struct {
	Features []tableEntry `yaml:"features"`
}

var defaultTable = mustLoadTable(defaultTableYAML)

func mustLoadTable(data []byte) table {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		panic(fmt.Sprintf("features: parse weights.yaml: %v", err))
	}
	for _, e := range t.Features {
		if _, ok := builtin[e.Name]; !ok {
			panic(fmt.Sprintf("features: weights.yaml names unknown feature %q", e.Name))
		}
	}
	return t
}

// DefaultFeatures returns the built-in features with their default weights,
// in vector order.
func DefaultFeatures() []Feature {
	out := make([]Feature, len(defaultTable.Features))
	for i, e := range defaultTable.Features {
		out[i] = Feature{Name: e.Name, Weight: e.Weight, Fn: builtin[e.Name]}
	}
	return out
}

// Extractor computes feature vectors. It is safe for concurrent use once
// constructed.
type Extractor struct {
	features []Feature
	maxDepth int
	log      *zap.SugaredLogger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxDepth sets the flattening depth cap.
func WithMaxDepth(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxDepth = n
		}
	}
}

// WithWeights overrides the weights of named built-in features. Unknown
// names are ignored.
func WithWeights(weights map[string]float64) Option {
	return func(e *Extractor) {
		for i := range e.features {
			if w, ok := weights[e.features[i].Name]; ok {
				e.features[i].Weight = w
			}
		}
	}
}

// WithFeature appends a custom feature after the built-in ones.
func WithFeature(f Feature) Option {
	return func(e *Extractor) { e.features = append(e.features, f) }
}

// WithLogger sets the logger used to report failing features.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Extractor) {
		if log != nil {
			e.log = log
		}
	}
}

// NewExtractor builds an extractor over the default feature table.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		features: DefaultFeatures(),
		maxDepth: DefaultMaxDepth,
		log:      zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Len returns the vector length this extractor produces.
func (e *Extractor) Len() int { return len(e.features) }

// Names returns the feature names in vector order.
func (e *Extractor) Names() []string {
	out := make([]string, len(e.features))
	for i, f := range e.features {
		out[i] = f.Name
	}
	return out
}

// Weights returns the rule-scorer weights in vector order.
func (e *Extractor) Weights() []float64 {
	out := make([]float64, len(e.features))
	for i, f := range e.features {
		out[i] = f.Weight
	}
	return out
}

// Extract computes the feature vector for a response pair. Either response
// may be JSON text (string, []byte, json.RawMessage) or decoded data. If
// either fails to parse, the zero vector is returned.
func (e *Extractor) Extract(student, reference any, tc TestCase) Vector {
	vec := make(Vector, len(e.features))

	stu, err := Parse(student)
	if err != nil {
		e.log.Debugw("student response unparseable, using zero features", "error", err)
		return vec
	}
	ref, err := Parse(reference)
	if err != nil {
		e.log.Debugw("reference response unparseable, using zero features", "error", err)
		return vec
	}

	in := &Input{
		Student:       stu,
		Reference:     ref,
		StudentFlat:   Flatten(stu, e.maxDepth),
		ReferenceFlat: Flatten(ref, e.maxDepth),
		TestCase:      tc,
	}

	for i, f := range e.features {
		vec[i] = e.run(f, in)
	}
	return vec
}

func (e *Extractor) run(f Feature, in *Input) (v float64) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warnw("feature panicked, contributing 0", "feature", f.Name, "panic", r)
			v = 0
		}
	}()
	return clamp01(f.Fn(in))
}

// Parse decodes JSON text inputs and passes decoded values through.
func Parse(v any) (any, error) {
	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(t)
	case []byte:
		data = t
	case json.RawMessage:
		data = t
	default:
		return v, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return out, nil
}

// ParseObject is Parse restricted to JSON objects.
func ParseObject(v any) (map[string]any, error) {
	parsed, err := Parse(v)
	if err != nil {
		return nil, err
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is %s, not an object", typeName(parsed))
	}
	return obj, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
