package judge

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/abhisek/gradeblend/internal/llm"
)

// NeutralScore is used when a reply carries no recognizable score.
const NeutralScore = 5.0

const maxExplanation = 500

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

	scorePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"?score"?\s*[:=]\s*(-?\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*/\s*10\b`),
		regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s+out\s+of\s+10\b`),
	}
)

type verdict struct {
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// parseReply extracts a score in [0,10] and an explanation from a judge
// reply: strict JSON first, then a score pattern in free text, then the
// neutral score.
func parseReply(reply string) (float64, string) {
	text := strings.TrimSpace(reply)

	for _, candidate := range jsonCandidates(text) {
		if llm.ValidateJSON(VerdictSchema, []byte(candidate)) != nil {
			continue
		}
		var v verdict
		if err := json.Unmarshal([]byte(candidate), &v); err != nil {
			continue
		}
		return clampScore(v.Score), v.Explanation
	}

	for _, re := range scorePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		score, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return clampScore(score), truncate(text, maxExplanation)
	}

	return NeutralScore, "unparseable judge reply"
}

// jsonCandidates returns the substrings of text that may hold the verdict
// object, in order of preference.
func jsonCandidates(text string) []string {
	out := []string{text}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		out = append(out, m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		out = append(out, text[start:end+1])
	}
	return out
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 10:
		return 10
	}
	return v
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
