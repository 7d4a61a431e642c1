package features

// Vector is an ordered feature vector, one value per configured feature.
type Vector []float64

// TestCase describes the API call a response pair belongs to.
type TestCase struct {
	Endpoint       string   `json:"endpoint" yaml:"endpoint"`
	Method         string   `json:"method" yaml:"method"`
	Name           string   `json:"name" yaml:"name"`
	ExpectedStatus int      `json:"expected_status,omitempty" yaml:"expected_status,omitempty"`
	ActualStatus   int      `json:"actual_status,omitempty" yaml:"actual_status,omitempty"`
	RequiredFields []string `json:"required_fields,omitempty" yaml:"required_fields,omitempty"`
}

// Info returns the identifying subset stored alongside training samples.
func (tc TestCase) Info() TestCaseInfo {
	return TestCaseInfo{Endpoint: tc.Endpoint, Method: tc.Method, Name: tc.Name}
}

// TestCaseInfo identifies the test case a sample was labeled for.
type TestCaseInfo struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	Name     string `json:"name"`
}

// Input is what every feature function sees: both responses parsed and
// flattened once per extraction.
type Input struct {
	Student   any
	Reference any

	StudentFlat   *Flat
	ReferenceFlat *Flat

	TestCase TestCase
}

// Func computes one feature. Results outside [0,1] are clamped by the
// extractor; a panic contributes 0.
type Func func(in *Input) float64

// Feature is a named feature function with its rule-scorer weight.
type Feature struct {
	Name   string
	Weight float64
	Fn     Func
}
