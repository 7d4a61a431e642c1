// Package judge asks an external LLM to grade a student response against a
// reference. Calls are bounded by a daily quota, answered from a persistent
// cache when the same response was already judged, and accounted per day.
package judge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/gradeblend/internal/features"
	"github.com/abhisek/gradeblend/internal/llm"
	"github.com/abhisek/gradeblend/internal/persist"
)

// Purpose labels judge calls in the LLM event log.
const Purpose = "cloud-judge"

const (
	cacheFile = "judge_cache.json"
	usageFile = "judge_usage.json"
	dayLayout = "2006-01-02"
)

var (
	// ErrLimitExceeded is reported when the day's call quota is used up.
	ErrLimitExceeded = errors.New("daily judge limit exceeded")

	// ErrNotConfigured is reported when no provider is available.
	ErrNotConfigured = errors.New("judge provider not configured")
)

// Config holds judge settings.
type Config struct {
	DailyLimit   int
	CacheEnabled bool
	Timeout      time.Duration
	MaxTokens    int
	Temperature  float64

	// StructuredOutput asks the provider for a reply matching VerdictSchema.
	StructuredOutput bool
}

// DefaultConfig returns the default judge settings.
func DefaultConfig() Config {
	return Config{
		DailyLimit:   20,
		CacheEnabled: true,
		Timeout:      30 * time.Second,
		MaxTokens:    512,
		Temperature:  0,

		StructuredOutput: true,
	}
}

// Result is the outcome of a judge request. Failures are reported in the
// result rather than as errors so callers can drop the cloud source and
// carry on.
type Result struct {
	Success       bool    `json:"success"`
	Score         float64 `json:"score,omitempty"`
	Explanation   string  `json:"explanation,omitempty"`
	FromCache     bool    `json:"from_cache,omitempty"`
	Error         string  `json:"error,omitempty"`
	LimitExceeded bool    `json:"limit_exceeded,omitempty"`
}

// CacheEntry is a stored verdict.
type CacheEntry struct {
	Score       float64   `json:"score"`
	Explanation string    `json:"explanation"`
	Timestamp   time.Time `json:"timestamp"`
}

// DailyUsage counts the remote calls made on one UTC day.
type DailyUsage struct {
	Count  int     `json:"count"`
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// UsageReport is the usage of one day against the configured limit.
type UsageReport struct {
	Date      string  `json:"date"`
	Count     int     `json:"count"`
	Tokens    int     `json:"tokens"`
	Cost      float64 `json:"cost"`
	Limit     int     `json:"limit"`
	Remaining int     `json:"remaining"`
}

// Judge is the cloud judge adapter. It is safe for concurrent use.
type Judge struct {
	mu sync.Mutex

	provider llm.Provider
	cfg      Config
	log      *zap.SugaredLogger
	now      func() time.Time

	cachePath string
	usagePath string
	cache     map[string]CacheEntry
	usage     map[string]DailyUsage
	inflight  map[string]int
}

// Option configures a Judge.
type Option func(*Judge)

// WithClock overrides the time source used for day keys and timestamps.
func WithClock(now func() time.Time) Option {
	return func(j *Judge) { j.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(j *Judge) {
		if log != nil {
			j.log = log
		}
	}
}

// New creates a judge that keeps its cache and usage files in dataDir.
// A nil provider yields a judge whose requests fail with ErrNotConfigured;
// its usage and cache can still be inspected and cleared.
func New(provider llm.Provider, dataDir string, cfg Config, opts ...Option) (*Judge, error) {
	j := &Judge{
		provider:  provider,
		cfg:       cfg,
		log:       zap.NewNop().Sugar(),
		now:       time.Now,
		cachePath: filepath.Join(dataDir, cacheFile),
		usagePath: filepath.Join(dataDir, usageFile),
		cache:     make(map[string]CacheEntry),
		usage:     make(map[string]DailyUsage),
		inflight:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(j)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("judge data dir: %w", err)
	}
	ok, err := j.load(j.cachePath, &j.cache)
	if err != nil {
		return nil, err
	}
	if !ok || j.cache == nil {
		j.cache = make(map[string]CacheEntry)
	}
	ok, err = j.load(j.usagePath, &j.usage)
	if err != nil {
		return nil, err
	}
	if !ok || j.usage == nil {
		j.usage = make(map[string]DailyUsage)
	}
	return j, nil
}

// load reads one of the judge files and reports whether v holds usable
// data. A corrupt file is moved aside.
func (j *Judge) load(path string, v any) (bool, error) {
	_, err := persist.ReadJSON(path, v)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, persist.ErrCorrupt) {
		return false, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	moved, qerr := persist.Quarantine(path)
	if qerr != nil {
		return false, fmt.Errorf("quarantine %s: %w", filepath.Base(path), qerr)
	}
	j.log.Warnw("judge file corrupt, starting empty", "path", path, "moved_to", moved, "error", err)
	return false, nil
}

// Configured reports whether a provider is attached.
func (j *Judge) Configured() bool {
	return j.provider != nil
}

// GetScore grades student against reference. The daily quota is checked
// first; a cached verdict for the same student response and test case is
// returned without a remote call. A quota slot is held while the remote
// call is in flight, without holding the judge lock.
func (j *Judge) GetScore(ctx context.Context, student, reference any, tc features.TestCase) Result {
	if j.provider == nil {
		return Result{Error: ErrNotConfigured.Error()}
	}

	key, err := CacheKey(student, tc)
	if err != nil {
		return Result{Error: err.Error()}
	}

	day, cached, res := j.reserve(key)
	if cached || res.Error != "" {
		return res
	}

	resp, err := j.call(ctx, student, reference, tc)
	if err != nil {
		j.release(day)
		j.log.Warnw("judge call failed", "endpoint", tc.Endpoint, "error", err)
		return Result{Error: err.Error()}
	}

	score, explanation := parseReply(string(resp.Content))
	calls := j.record(day, key, resp, score, explanation)

	j.log.Debugw("judge verdict", "endpoint", tc.Endpoint, "score", score, "calls_today", calls)
	return Result{Success: true, Score: score, Explanation: explanation}
}

// reserve checks the quota and the cache. On a miss it takes a quota slot
// for day that record or release must give back.
func (j *Judge) reserve(key string) (day string, cached bool, res Result) {
	j.mu.Lock()
	defer j.mu.Unlock()

	day = j.day()
	if j.usage[day].Count+j.inflight[day] >= j.cfg.DailyLimit {
		return day, false, Result{Error: ErrLimitExceeded.Error(), LimitExceeded: true}
	}
	if j.cfg.CacheEnabled {
		if e, ok := j.cache[key]; ok {
			return day, true, Result{Success: true, Score: e.Score, Explanation: e.Explanation, FromCache: true}
		}
	}
	j.inflight[day]++
	return day, false, Result{}
}

func (j *Judge) release(day string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.releaseLocked(day)
}

func (j *Judge) releaseLocked(day string) {
	if j.inflight[day] <= 1 {
		delete(j.inflight, day)
		return
	}
	j.inflight[day]--
}

func (j *Judge) call(ctx context.Context, student, reference any, tc features.TestCase) (*llm.Response, error) {
	prompt, err := buildPrompt(student, reference, tc)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	callCtx := llm.WithPurpose(ctx, Purpose)
	if j.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, j.cfg.Timeout)
		defer cancel()
	}

	req := llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   j.cfg.MaxTokens,
		Temperature: j.cfg.Temperature,
	}
	if j.cfg.StructuredOutput {
		req.Schema = VerdictSchema
	}
	resp, err := j.provider.Generate(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}
	return resp, nil
}

// record accounts a completed call against its reserved slot, caches the
// verdict and returns the day's call count.
func (j *Judge) record(day, key string, resp *llm.Response, score float64, explanation string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.releaseLocked(day)

	model := resp.Model
	if model == "" {
		model = j.provider.ModelID()
	}
	tokens := resp.Usage.TotalTokens
	if tokens == 0 {
		tokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	}
	u := j.usage[day]
	u.Count++
	u.Tokens += tokens
	u.Cost += llm.EstimateCost(model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	j.usage[day] = u
	if err := persist.WriteJSON(j.usagePath, j.usage); err != nil {
		j.log.Warnw("persist judge usage", "error", err)
	}

	if j.cfg.CacheEnabled {
		j.cache[key] = CacheEntry{Score: score, Explanation: explanation, Timestamp: j.now().UTC()}
		if err := persist.WriteJSON(j.cachePath, j.cache); err != nil {
			j.log.Warnw("persist judge cache", "error", err)
		}
	}
	return u.Count
}

// Usage reports today's usage.
func (j *Judge) Usage() UsageReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.report(j.day())
}

// History reports every recorded day, oldest first.
func (j *Judge) History() []UsageReport {
	j.mu.Lock()
	defer j.mu.Unlock()

	days := make([]string, 0, len(j.usage))
	for d := range j.usage {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make([]UsageReport, len(days))
	for i, d := range days {
		out[i] = j.report(d)
	}
	return out
}

func (j *Judge) report(day string) UsageReport {
	u := j.usage[day]
	remaining := j.cfg.DailyLimit - u.Count
	if remaining < 0 {
		remaining = 0
	}
	return UsageReport{
		Date:      day,
		Count:     u.Count,
		Tokens:    u.Tokens,
		Cost:      u.Cost,
		Limit:     j.cfg.DailyLimit,
		Remaining: remaining,
	}
}

// CacheSize returns the number of cached verdicts.
func (j *Judge) CacheSize() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.cache)
}

// ClearCache drops every cached verdict and returns how many were removed.
func (j *Judge) ClearCache() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := len(j.cache)
	j.cache = make(map[string]CacheEntry)
	if err := persist.Remove(j.cachePath); err != nil {
		return 0, fmt.Errorf("clear judge cache: %w", err)
	}
	j.log.Infow("judge cache cleared", "entries", n)
	return n, nil
}

func (j *Judge) day() string {
	return j.now().UTC().Format(dayLayout)
}
