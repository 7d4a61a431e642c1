package judge

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/abhisek/gradeblend/internal/features"
	"github.com/abhisek/gradeblend/internal/llm"
)

// VerdictSchema is the reply format requested from providers and checked
// when parsing. It carries no score bounds; parseReply clamps the score.
var VerdictSchema = &llm.Schema{
	Name:        "judge-verdict",
	Description: "Grade of a student API response against the reference response",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score": map[string]any{
				"type":        "number",
				"description": "Overall grade from 0 to 10",
			},
			"explanation": map[string]any{
				"type":        "string",
				"description": "One or two sentences justifying the grade",
			},
		},
		"required":             []any{"score", "explanation"},
		"additionalProperties": false,
	},
}

const systemPrompt = `You are a strict but fair grader of API responses. A student implemented an API endpoint and you compare their response with the reference implementation's response.

Grade on a 0-10 scale using this rubric:
- Structure (30%): same nesting and key layout as the reference.
- Field completeness (25%): every required field is present.
- Type correctness (20%): each field has the same JSON type as the reference.
- Value plausibility (15%): values are sensible for the request, exact match not required for IDs or timestamps.
- Extraneous content (10%): no unexpected fields or noise.

Reply with JSON only: {"score": <number 0-10>, "explanation": "<one or two sentences>"}`

var userTemplate = template.Must(template.New("judge").Parse(`Test case: {{.Name}}
Request: {{.Method}} {{.Endpoint}}
{{- if .ExpectedStatus}}
Expected status: {{.ExpectedStatus}}
{{- end}}
{{- if .ActualStatus}}
Actual status: {{.ActualStatus}}
{{- end}}
{{- if .RequiredFields}}
Required fields:{{range .RequiredFields}} {{.}}{{end}}
{{- end}}

Reference response:
{{.Reference}}

Student response:
{{.Student}}
`))

type promptData struct {
	features.TestCase
	Reference string
	Student   string
}

func buildPrompt(student, reference any, tc features.TestCase) (string, error) {
	s, err := prettyJSON(student)
	if err != nil {
		return "", fmt.Errorf("student response: %w", err)
	}
	r, err := prettyJSON(reference)
	if err != nil {
		return "", fmt.Errorf("reference response: %w", err)
	}

	var buf bytes.Buffer
	if err := userTemplate.Execute(&buf, promptData{TestCase: tc, Reference: r, Student: s}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// prettyJSON renders a response for the prompt. Text that is not JSON is
// passed through unchanged so the judge can still see it.
func prettyJSON(v any) (string, error) {
	parsed, err := features.Parse(v)
	if err != nil {
		if text, ok := rawText(v); ok {
			return text, nil
		}
		return "", err
	}
	b, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CacheKey identifies a verdict by the student response and the test case
// it answers. The reference response is not part of the key.
func CacheKey(student any, tc features.TestCase) (string, error) {
	parsed, err := features.Parse(student)
	if err != nil {
		// Unparseable text is keyed by its raw form.
		text, _ := rawText(student)
		parsed = text
	}
	key := struct {
		Student  any    `json:"student"`
		Endpoint string `json:"endpoint"`
		Method   string `json:"method"`
		Name     string `json:"name"`
	}{parsed, tc.Endpoint, tc.Method, tc.Name}

	// Map keys are marshaled in sorted order, which makes this canonical.
	b, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func rawText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case json.RawMessage:
		return string(t), true
	}
	return "", false
}
