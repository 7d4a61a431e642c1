package judge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abhisek/gradeblend/internal/features"
	"github.com/abhisek/gradeblend/internal/llm"
)

var usersCase = features.TestCase{Endpoint: "/users/1", Method: "GET", Name: "get user"}

const (
	studentJSON   = `{"id":1,"name":"Ada"}`
	referenceJSON = `{"id":1,"name":"Ada","email":"ada@example.com"}`
)

func verdictResponse(score float64, explanation string) llm.MockResponse {
	b, _ := json.Marshal(map[string]any{"score": score, "explanation": explanation})
	return llm.MockResponse{
		Content: b,
		Usage:   llm.Usage{InputTokens: 300, OutputTokens: 40, TotalTokens: 340},
	}
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

func newTestJudge(t *testing.T, dir string, provider llm.Provider, cfg Config, clock *fixedClock) *Judge {
	t.Helper()
	j, err := New(provider, dir, cfg, WithClock(clock.now), WithLogger(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)
	return j
}

func testClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func TestGetScore_CallsProviderAndRecordsUsage(t *testing.T) {
	mock := llm.NewMockProvider(verdictResponse(7.5, "missing email"))
	j := newTestJudge(t, t.TempDir(), mock, DefaultConfig(), testClock())

	res := j.GetScore(context.Background(), studentJSON, referenceJSON, usersCase)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 7.5, res.Score)
	assert.Equal(t, "missing email", res.Explanation)
	assert.False(t, res.FromCache)

	require.Equal(t, 1, mock.CallCount())
	req := mock.Calls[0]
	assert.Contains(t, req.System, "Structure (30%)")
	assert.Contains(t, req.System, "Extraneous content (10%)")
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "GET /users/1")
	assert.Contains(t, req.Messages[0].Content, `"email": "ada@example.com"`)
	assert.Same(t, VerdictSchema, req.Schema)

	u := j.Usage()
	assert.Equal(t, "2026-03-14", u.Date)
	assert.Equal(t, 1, u.Count)
	assert.Equal(t, 340, u.Tokens)
	assert.Equal(t, 19, u.Remaining)
}

func TestGetScore_CacheHitSkipsProvider(t *testing.T) {
	mock := llm.NewMockProvider(verdictResponse(8, "good"))
	j := newTestJudge(t, t.TempDir(), mock, DefaultConfig(), testClock())
	ctx := context.Background()

	first := j.GetScore(ctx, studentJSON, referenceJSON, usersCase)
	require.True(t, first.Success)

	// Same student response with different formatting and a different
	// reference still hits the cache.
	second := j.GetScore(ctx, `{ "name": "Ada", "id": 1 }`, `{"other":true}`, usersCase)
	require.True(t, second.Success)
	assert.True(t, second.FromCache)
	assert.Equal(t, 8.0, second.Score)
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, 1, j.Usage().Count, "cache hits do not consume quota")
}

func TestGetScore_CacheDisabled(t *testing.T) {
	mock := llm.NewMockProvider(verdictResponse(8, "good"), verdictResponse(6, "meh"))
	cfg := DefaultConfig()
	cfg.CacheEnabled = false
	j := newTestJudge(t, t.TempDir(), mock, cfg, testClock())
	ctx := context.Background()

	j.GetScore(ctx, studentJSON, referenceJSON, usersCase)
	res := j.GetScore(ctx, studentJSON, referenceJSON, usersCase)

	assert.False(t, res.FromCache)
	assert.Equal(t, 6.0, res.Score)
	assert.Equal(t, 2, mock.CallCount())
	assert.Equal(t, 0, j.CacheSize())
}

func TestGetScore_QuotaExhausted(t *testing.T) {
	dir := t.TempDir()
	clock := testClock()
	mock := llm.NewMockProvider(verdictResponse(9, "a"), verdictResponse(4, "b"))
	cfg := DefaultConfig()
	cfg.DailyLimit = 2
	j := newTestJudge(t, dir, mock, cfg, clock)
	ctx := context.Background()

	require.True(t, j.GetScore(ctx, `{"id":1}`, referenceJSON, usersCase).Success)
	require.True(t, j.GetScore(ctx, `{"id":2}`, referenceJSON, usersCase).Success)
	cacheBefore, err := os.ReadFile(filepath.Join(dir, cacheFile))
	require.NoError(t, err)

	res := j.GetScore(ctx, `{"id":3}`, referenceJSON, usersCase)
	assert.False(t, res.Success)
	assert.True(t, res.LimitExceeded)
	assert.Equal(t, ErrLimitExceeded.Error(), res.Error)
	assert.Equal(t, 2, mock.CallCount(), "no network call once the quota is used up")

	cacheAfter, err := os.ReadFile(filepath.Join(dir, cacheFile))
	require.NoError(t, err)
	assert.Equal(t, cacheBefore, cacheAfter)
	assert.Equal(t, 2, j.Usage().Count)

	// A cached response is also refused once the quota is exhausted.
	again := j.GetScore(ctx, `{"id":1}`, referenceJSON, usersCase)
	assert.True(t, again.LimitExceeded)

	// The quota resets on the next UTC day.
	clock.t = clock.t.Add(24 * time.Hour)
	next := j.GetScore(ctx, `{"id":1}`, referenceJSON, usersCase)
	require.True(t, next.Success)
	assert.True(t, next.FromCache)
}

func TestGetScore_ProviderErrorIsReported(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("connection refused")}})
	dir := t.TempDir()
	j := newTestJudge(t, dir, mock, DefaultConfig(), testClock())

	res := j.GetScore(context.Background(), studentJSON, referenceJSON, usersCase)

	assert.False(t, res.Success)
	assert.False(t, res.LimitExceeded)
	assert.Contains(t, res.Error, "connection refused")
	assert.Equal(t, 0, j.Usage().Count)
	assert.Equal(t, 0, j.CacheSize())
	assert.NoFileExists(t, filepath.Join(dir, cacheFile))
}

func TestNewCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "judge")
	newTestJudge(t, dir, nil, DefaultConfig(), testClock())
	assert.DirExists(t, dir)
}

func TestGetScore_NotConfigured(t *testing.T) {
	j := newTestJudge(t, t.TempDir(), nil, DefaultConfig(), testClock())

	assert.False(t, j.Configured())
	res := j.GetScore(context.Background(), studentJSON, referenceJSON, usersCase)
	assert.False(t, res.Success)
	assert.Equal(t, ErrNotConfigured.Error(), res.Error)
}

func TestGetScore_UnparseableReplyIsNeutral(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(`I cannot grade this.`)})
	j := newTestJudge(t, t.TempDir(), mock, DefaultConfig(), testClock())

	res := j.GetScore(context.Background(), studentJSON, referenceJSON, usersCase)

	require.True(t, res.Success)
	assert.Equal(t, NeutralScore, res.Score)
	assert.Contains(t, res.Explanation, "unparseable")
}

func TestPersistenceAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	clock := testClock()
	mock := llm.NewMockProvider(verdictResponse(6, "ok"))
	j := newTestJudge(t, dir, mock, DefaultConfig(), clock)
	require.True(t, j.GetScore(context.Background(), studentJSON, referenceJSON, usersCase).Success)

	reopened := newTestJudge(t, dir, llm.NewMockProvider(), DefaultConfig(), clock)
	assert.Equal(t, 1, reopened.CacheSize())
	assert.Equal(t, 1, reopened.Usage().Count)

	res := reopened.GetScore(context.Background(), studentJSON, referenceJSON, usersCase)
	assert.True(t, res.FromCache)
	assert.Equal(t, 6.0, res.Score)
}

func TestCorruptFilesAreQuarantined(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, cacheFile), []byte("{broken"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, usageFile), []byte(""), 0o644))

	j := newTestJudge(t, dir, llm.NewMockProvider(verdictResponse(5, "x")), DefaultConfig(), testClock())
	assert.Equal(t, 0, j.CacheSize())
	assert.Equal(t, 0, j.Usage().Count)

	matches, err := filepath.Glob(filepath.Join(dir, "*.corrupt-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	res := j.GetScore(context.Background(), studentJSON, referenceJSON, usersCase)
	assert.True(t, res.Success)
}

func TestClearCache(t *testing.T) {
	dir := t.TempDir()
	mock := llm.NewMockProvider(verdictResponse(8, "a"), verdictResponse(3, "b"))
	j := newTestJudge(t, dir, mock, DefaultConfig(), testClock())
	ctx := context.Background()

	j.GetScore(ctx, studentJSON, referenceJSON, usersCase)
	n, err := j.ClearCache()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, filepath.Join(dir, cacheFile))

	res := j.GetScore(ctx, studentJSON, referenceJSON, usersCase)
	assert.False(t, res.FromCache)
	assert.Equal(t, 3.0, res.Score)
	assert.Equal(t, 2, j.Usage().Count, "clearing the cache keeps usage")
}

func TestHistory(t *testing.T) {
	clock := testClock()
	mock := llm.NewMockProvider(verdictResponse(8, "a"), verdictResponse(3, "b"))
	j := newTestJudge(t, t.TempDir(), mock, DefaultConfig(), clock)
	ctx := context.Background()

	j.GetScore(ctx, `{"a":1}`, referenceJSON, usersCase)
	clock.t = clock.t.Add(48 * time.Hour)
	j.GetScore(ctx, `{"a":2}`, referenceJSON, usersCase)

	h := j.History()
	require.Len(t, h, 2)
	assert.Equal(t, "2026-03-14", h[0].Date)
	assert.Equal(t, "2026-03-16", h[1].Date)
	assert.Equal(t, 1, h[1].Count)
}

func TestCacheKey(t *testing.T) {
	a, err := CacheKey(`{"b":2,"a":1}`, usersCase)
	require.NoError(t, err)
	b, err := CacheKey(map[string]any{"a": 1, "b": 2}, usersCase)
	require.NoError(t, err)
	assert.Equal(t, a, b, "key ignores key order and input form")
	assert.Len(t, a, 64)

	other := usersCase
	other.Method = "POST"
	c, err := CacheKey(`{"a":1,"b":2}`, other)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	withStatus := usersCase
	withStatus.ActualStatus = 500
	d, err := CacheKey(`{"a":1,"b":2}`, withStatus)
	require.NoError(t, err)
	assert.Equal(t, a, d, "only endpoint, method and name identify the test case")

	_, err = CacheKey(`not json`, usersCase)
	assert.NoError(t, err)
}

func TestGetScore_FreeTextWhenStructuredOutputOff(t *testing.T) {
	mock := llm.NewMockProvider(llm.MockResponse{Content: json.RawMessage(`Mostly right. Score: 7/10`)})
	cfg := DefaultConfig()
	cfg.StructuredOutput = false
	j := newTestJudge(t, t.TempDir(), mock, cfg, testClock())

	res := j.GetScore(context.Background(), studentJSON, referenceJSON, usersCase)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 7.0, res.Score)
	require.Equal(t, 1, mock.CallCount())
	assert.Nil(t, mock.Calls[0].Schema)
}

func newOpenAIJudge(t *testing.T, dir string, handler http.HandlerFunc) *Judge {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{APIKey: "test-key", Model: "gpt-4o-mini", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)
	return newTestJudge(t, dir, p, DefaultConfig(), testClock())
}

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-judge",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 200, "completion_tokens": 20, "total_tokens": 220},
	}
}

func TestGetScore_RequestsStructuredReply(t *testing.T) {
	var body map[string]any
	j := newOpenAIJudge(t, t.TempDir(), func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion(`{"score": 8.5, "explanation": "email missing"}`))
	})

	res := j.GetScore(context.Background(), studentJSON, referenceJSON, usersCase)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 8.5, res.Score)
	assert.Equal(t, "email missing", res.Explanation)

	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok, "response_format sent")
	assert.Equal(t, "json_schema", format["type"])
	schema, ok := format["json_schema"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, VerdictSchema.Name, schema["name"])
	assert.Equal(t, true, schema["strict"])
}

func TestGetScore_MalformedStructuredReplyIsNotCounted(t *testing.T) {
	dir := t.TempDir()
	j := newOpenAIJudge(t, dir, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatCompletion(`{"grade": "B"}`))
	})

	res := j.GetScore(context.Background(), studentJSON, referenceJSON, usersCase)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "judge call failed")
	assert.Equal(t, 0, j.Usage().Count)
	assert.Equal(t, 0, j.CacheSize())
	assert.NoFileExists(t, filepath.Join(dir, cacheFile))
}

// gatedProvider blocks every call until open is closed.
type gatedProvider struct {
	started chan struct{}
	open    chan struct{}
}

func (g *gatedProvider) Generate(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	g.started <- struct{}{}
	select {
	case <-g.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &llm.Response{
		Content: json.RawMessage(`{"score": 6, "explanation": "ok"}`),
		Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5},
		Model:   "gated",
	}, nil
}

func (g *gatedProvider) ModelID() string { return "gated" }

func TestGetScore_InFlightCallHoldsQuotaNotLock(t *testing.T) {
	gate := &gatedProvider{started: make(chan struct{}, 1), open: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.DailyLimit = 1
	j := newTestJudge(t, t.TempDir(), gate, cfg, testClock())

	done := make(chan Result, 1)
	go func() {
		done <- j.GetScore(context.Background(), studentJSON, referenceJSON, usersCase)
	}()
	<-gate.started

	// The judge stays usable while the call is in flight.
	assert.Equal(t, 0, j.Usage().Count)
	assert.Equal(t, 0, j.CacheSize())

	second := j.GetScore(context.Background(), `{"id":2}`, referenceJSON, usersCase)
	assert.True(t, second.LimitExceeded, "in-flight call holds the only slot")

	close(gate.open)
	first := <-done
	require.True(t, first.Success, first.Error)
	assert.Equal(t, 1, j.Usage().Count)
	assert.Equal(t, 1, j.CacheSize())
}

func TestGetScore_FailedCallReleasesQuotaSlot(t *testing.T) {
	mock := llm.NewMockProvider(
		llm.MockResponse{Err: &llm.ErrProviderUnavailable{Err: errors.New("timeout")}},
		verdictResponse(4, "fine"),
	)
	cfg := DefaultConfig()
	cfg.DailyLimit = 1
	j := newTestJudge(t, t.TempDir(), mock, cfg, testClock())
	ctx := context.Background()

	assert.False(t, j.GetScore(ctx, studentJSON, referenceJSON, usersCase).Success)
	res := j.GetScore(ctx, studentJSON, referenceJSON, usersCase)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 4.0, res.Score)
}
