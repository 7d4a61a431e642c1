package features

import (
	"math"
	"reflect"
)

// builtin maps the names in weights.yaml to their implementations.
var builtin = map[string]Func{
	"structural_similarity": structuralSimilarity,
	"type_match":            typeMatch,
	"value_similarity":      valueSimilarity,
	"completeness":          completeness,
	"array_length_match":    arrayLengthMatch,
	"extra_fields_penalty":  extraFieldsPenalty,
	"status_code_match":     statusCodeMatch,
}

// structuralSimilarity is the fraction of reference leaf paths the student
// response also has.
func structuralSimilarity(in *Input) float64 {
	ref, stu := in.ReferenceFlat, in.StudentFlat
	if ref.Len() == 0 {
		return emptyReference(stu)
	}
	return float64(countPresent(ref.Keys, stu)) / float64(ref.Len())
}

// typeMatch is the fraction of common paths whose value types agree.
func typeMatch(in *Input) float64 {
	common := commonKeys(in.ReferenceFlat, in.StudentFlat)
	if len(common) == 0 {
		return 0
	}
	matched := 0
	for _, k := range common {
		if typeName(in.ReferenceFlat.Values[k]) == typeName(in.StudentFlat.Values[k]) {
			matched++
		}
	}
	return float64(matched) / float64(len(common))
}

// valueSimilarity averages a per-path closeness score over common paths.
func valueSimilarity(in *Input) float64 {
	common := commonKeys(in.ReferenceFlat, in.StudentFlat)
	if len(common) == 0 {
		return 0
	}
	var total float64
	for _, k := range common {
		total += valueScore(in.ReferenceFlat.Values[k], in.StudentFlat.Values[k])
	}
	return total / float64(len(common))
}

func valueScore(a, b any) float64 {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		if fa == 0 && fb == 0 {
			return 1
		}
		denom := math.Max(math.Abs(fa), math.Abs(fb))
		return math.Max(0, 1-math.Abs(fa-fb)/denom)
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok && av == bv {
			return 1
		}
		return 0
	case bool:
		if bv, ok := b.(bool); ok && av == bv {
			return 1
		}
		return 0
	}
	if reflect.DeepEqual(a, b) {
		return 1
	}
	return 0
}

// completeness is the fraction of required paths present in the student
// response. The required set is the test case's required fields when
// given, else every reference leaf path.
func completeness(in *Input) float64 {
	required := in.TestCase.RequiredFields
	if len(required) == 0 {
		required = in.ReferenceFlat.Keys
	}
	if len(required) == 0 {
		return emptyReference(in.StudentFlat)
	}
	return float64(countPresent(required, in.StudentFlat)) / float64(len(required))
}

// arrayLengthMatch compares the lengths of arrays found at the same path in
// both responses. Zero when the reference holds no array the student
// matched.
func arrayLengthMatch(in *Input) float64 {
	var total float64
	matched := 0
	for _, k := range in.ReferenceFlat.Keys {
		refArr, ok := in.ReferenceFlat.Values[k].([]any)
		if !ok {
			continue
		}
		stuArr, ok := in.StudentFlat.Values[k].([]any)
		if !ok {
			continue
		}
		matched++
		la, lb := float64(len(refArr)), float64(len(stuArr))
		total += math.Max(0, 1-math.Abs(la-lb)/math.Max(la, 1))
	}
	if matched == 0 {
		return 0
	}
	return total / float64(matched)
}

// extraFieldsPenalty penalizes student paths the reference does not have.
func extraFieldsPenalty(in *Input) float64 {
	stu := in.StudentFlat
	if stu.Len() == 0 {
		return 1
	}
	extra := 0
	for _, k := range stu.Keys {
		if !in.ReferenceFlat.Has(k) {
			extra++
		}
	}
	return math.Max(0, 1-float64(extra)/float64(stu.Len()))
}

// statusCodeMatch is 1 when no status was expected or the actual status
// equals it.
func statusCodeMatch(in *Input) float64 {
	if in.TestCase.ExpectedStatus == 0 {
		return 1
	}
	if in.TestCase.ActualStatus == in.TestCase.ExpectedStatus {
		return 1
	}
	return 0
}

func emptyReference(stu *Flat) float64 {
	if stu.Len() == 0 {
		return 1
	}
	return 0
}

func countPresent(keys []string, f *Flat) int {
	n := 0
	for _, k := range keys {
		if f.Has(k) {
			n++
		}
	}
	return n
}

func commonKeys(ref, stu *Flat) []string {
	var out []string
	for _, k := range ref.Keys {
		if stu.Has(k) {
			out = append(out, k)
		}
	}
	return out
}
