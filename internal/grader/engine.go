// Package grader is the grading engine. It owns the sample store and the
// trained model, scores response pairs by blending the rule scorer, the
// model and an optional cloud judge score, and learns from teacher
// corrections.
package grader

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/gradeblend/internal/features"
	"github.com/abhisek/gradeblend/internal/judge"
	"github.com/abhisek/gradeblend/internal/model"
	"github.com/abhisek/gradeblend/internal/samples"
	"github.com/abhisek/gradeblend/internal/scoring"
	"github.com/abhisek/gradeblend/internal/store"
)

// Files kept in the data directory.
const (
	SamplesFile = "samples.json"
	ModelFile   = "model.json"
)

// MinScoreDiff is the disagreement between the teacher and the engine
// above which a correction is stored once the bootstrap phase is over.
const MinScoreDiff = 0.5

// Config configures an Engine.
type Config struct {
	DataDir        string
	MinSamples     int
	MaxDepth       int
	FeatureWeights map[string]float64
	Model          model.Config
}

// DefaultConfig returns the engine defaults for dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:    dataDir,
		MinSamples: 3,
		MaxDepth:   features.DefaultMaxDepth,
		Model:      model.DefaultConfig(),
	}
}

// Engine is the single owner of the grading state. Scoring takes a shared
// lock; learning, training and reset take it exclusively.
type Engine struct {
	mu sync.RWMutex

	cfg       Config
	extractor *features.Extractor
	rule      *scoring.RuleScorer
	combiner  scoring.Combiner
	samples   *samples.Store
	regressor *model.Regressor

	judge  *judge.Judge
	events store.EventRepo
	log    *zap.SugaredLogger
}

// Option configures an Engine.
type Option func(*Engine)

// WithJudge attaches the cloud judge used by Grade.
func WithJudge(j *judge.Judge) Option {
	return func(e *Engine) { e.judge = j }
}

// WithEventRepo records training runs in the audit log.
func WithEventRepo(r store.EventRepo) Option {
	return func(e *Engine) { e.events = r }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New opens the engine state in cfg.DataDir. Missing files start empty;
// corrupt ones are set aside and the engine starts without them.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.MinSamples < 1 {
		return nil, fmt.Errorf("min samples must be at least 1, got %d", cfg.MinSamples)
	}
	e := &Engine{
		cfg:      cfg,
		combiner: scoring.Combiner{MinSamples: cfg.MinSamples},
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	e.extractor = features.NewExtractor(
		features.WithMaxDepth(cfg.MaxDepth),
		features.WithWeights(cfg.FeatureWeights),
		features.WithLogger(e.log),
	)
	e.rule = scoring.NewRuleScorer(e.extractor.Weights())

	st, err := samples.Open(filepath.Join(cfg.DataDir, SamplesFile), e.log)
	if err != nil {
		return nil, err
	}
	e.samples = st

	e.regressor = model.NewRegressor(filepath.Join(cfg.DataDir, ModelFile), cfg.Model, e.log)
	loaded := e.regressor.Load()

	// The metrics must not claim a model that failed to load.
	if m := st.Metrics(); m.HasModel && !loaded {
		m.HasModel = false
		if err := st.SetMetrics(m); err != nil {
			e.log.Warnw("cannot update metrics after model loss", "error", err)
		}
	}

	e.log.Debugw("engine ready", "data_dir", cfg.DataDir, "samples", st.Len(), "has_model", loaded)
	return e, nil
}

// ScoreOptions carries optional inputs to ScoreResponse.
type ScoreOptions struct {
	// CloudScore is a judge score obtained by the caller. Nil omits the
	// cloud source.
	CloudScore *float64
}

// ScoreDetails breaks a score down by source.
type ScoreDetails struct {
	RuleScore       float64           `json:"rule_score"`
	ModelScore      float64           `json:"model_score"`
	CloudScore      *float64          `json:"cloud_score"`
	Weights         scoring.WeightSet `json:"weights"`
	FeatureNames    []string          `json:"feature_names"`
	ModelConfidence float64           `json:"model_confidence"`
	Judge           *judge.Result     `json:"judge,omitempty"`
}

// ScoreResult is the blended score of a response pair.
type ScoreResult struct {
	Score         float64      `json:"score"`
	Confidence    float64      `json:"confidence"`
	FeatureValues []float64    `json:"feature_values"`
	Details       ScoreDetails `json:"details"`
}

// ScoreResponse scores student against reference. It never fails:
// unparseable responses score from a zero feature vector and a missing or
// unusable model falls back to the rule score.
func (e *Engine) ScoreResponse(student, reference any, tc features.TestCase, opts ScoreOptions) ScoreResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.score(student, reference, tc, opts.CloudScore)
}

func (e *Engine) score(student, reference any, tc features.TestCase, cloud *float64) ScoreResult {
	vec := e.extractor.Extract(student, reference, tc)
	ruleScore := e.rule.Score(vec)
	modelScore, modelConf := e.predict(vec, ruleScore)

	if cloud != nil {
		if math.IsNaN(*cloud) || math.IsInf(*cloud, 0) {
			cloud = nil
		} else {
			c := scoring.Clamp(*cloud)
			cloud = &c
		}
	}

	comb := e.combiner.Combine(e.samples.Len(), ruleScore, modelScore, cloud)

	return ScoreResult{
		Score:         comb.FinalScore,
		Confidence:    scoring.Confidence(comb.Weights, modelConf),
		FeatureValues: vec,
		Details: ScoreDetails{
			RuleScore:       ruleScore,
			ModelScore:      modelScore,
			CloudScore:      cloud,
			Weights:         comb.Weights,
			FeatureNames:    e.extractor.Names(),
			ModelConfidence: modelConf,
		},
	}
}

// predict returns the model score and its confidence, or the rule score
// with the fallback confidence when no usable model exists.
func (e *Engine) predict(vec features.Vector, ruleScore float64) (float64, float64) {
	if !e.regressor.HasModel() {
		return ruleScore, scoring.FallbackModelConfidence
	}
	p, err := e.regressor.Predict(vec)
	if err != nil || math.IsNaN(p) {
		e.log.Debugw("model prediction unavailable, using rule score", "error", err)
		return ruleScore, scoring.FallbackModelConfidence
	}
	conf := e.samples.Metrics().ConfidenceScore
	if conf <= 0 {
		conf = scoring.FallbackModelConfidence
	}
	return scoring.Clamp(p), conf
}

// Grade scores a pair with a live judge call. Judge failures are logged
// and the cloud source is left out.
func (e *Engine) Grade(ctx context.Context, student, reference any, tc features.TestCase) ScoreResult {
	var cloud *float64
	var verdict *judge.Result

	if e.judge != nil && e.judge.Configured() {
		res := e.judge.GetScore(ctx, student, reference, tc)
		verdict = &res
		if res.Success {
			s := res.Score
			cloud = &s
		} else {
			e.log.Warnw("judge unavailable, scoring without it",
				"endpoint", tc.Endpoint, "error", res.Error, "limit_exceeded", res.LimitExceeded)
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := e.score(student, reference, tc, cloud)
	out.Details.Judge = verdict
	return out
}

// LearnResult reports what Learn did with a teacher correction.
type LearnResult struct {
	Added          bool    `json:"added"`
	ScoreDiff      float64 `json:"score_diff"`
	CurrentSamples int     `json:"current_samples"`
	SufficientData bool    `json:"sufficient_data"`
	AutoScore      float64 `json:"auto_score"`
	Trained        bool    `json:"trained"`
	Reason         string  `json:"reason,omitempty"`
}

// Learn records a teacher score for a response pair. The pair is stored
// when the engine's own score is at least MinScoreDiff away from the
// teacher's, or unconditionally while fewer than MinSamples samples exist.
// Storing a sample retrains the model once enough samples exist. Invalid
// input is reported in the result, never as an error.
func (e *Engine) Learn(student, reference any, teacherScore float64, tc features.TestCase) LearnResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.samples.Len()
	res := LearnResult{CurrentSamples: n, SufficientData: n >= e.cfg.MinSamples}

	if _, err := features.ParseObject(student); err != nil {
		res.Reason = fmt.Sprintf("invalid student response: %v", err)
		return res
	}
	if _, err := features.ParseObject(reference); err != nil {
		res.Reason = fmt.Sprintf("invalid reference response: %v", err)
		return res
	}
	if math.IsNaN(teacherScore) || teacherScore < 0 || teacherScore > scoring.MaxScore {
		res.Reason = fmt.Sprintf("teacher score %v outside [0, %v]", teacherScore, scoring.MaxScore)
		return res
	}

	auto := e.score(student, reference, tc, nil)
	res.AutoScore = auto.Score
	res.ScoreDiff = math.Abs(teacherScore - auto.Score)

	if res.ScoreDiff < MinScoreDiff && n >= e.cfg.MinSamples {
		res.Reason = "engine score already agrees with teacher"
		return res
	}

	smp := samples.New(auto.FeatureValues, teacherScore, tc.Info())
	if err := e.samples.Append(smp); err != nil {
		e.log.Warnw("cannot store sample", "error", err)
		res.Reason = fmt.Sprintf("store sample: %v", err)
		return res
	}
	res.Added = true
	res.CurrentSamples = e.samples.Len()
	res.SufficientData = res.CurrentSamples >= e.cfg.MinSamples

	e.log.Infow("sample accepted",
		"id", smp.ID, "teacher_score", teacherScore, "auto_score", auto.Score,
		"score_diff", res.ScoreDiff, "samples", res.CurrentSamples)

	if res.SufficientData {
		res.Trained = e.train()
	}
	return res
}

// TrainModel refits the model from every stored sample. It reports false
// when there are too few or inconsistent samples; the previous model then
// stays in place.
func (e *Engine) TrainModel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.train()
}

func (e *Engine) train() bool {
	x, y := e.samples.Matrix()
	result, err := e.regressor.Train(x, y, e.cfg.MinSamples)
	if err != nil {
		e.log.Warnw("training skipped", "samples", len(x), "error", err)
		e.recordTraining(store.TrainingEventData{Samples: len(x), ErrorMessage: err.Error()})
		return false
	}

	trainedAt := result.TrainedAt
	m := samples.Metrics{
		HasModel:         true,
		LastTrainingTime: &trainedAt,
		TrainingSamples:  result.TrainingSamples,
		AverageError:     result.AverageError,
		ConfidenceScore:  result.ConfidenceScore,
		TrainingTimeMs:   result.TrainingTimeMs,
	}
	if err := e.samples.SetMetrics(m); err != nil {
		e.log.Warnw("cannot persist model metrics", "error", err)
	}

	e.log.Infow("model trained",
		"samples", result.TrainingSamples, "average_error", result.AverageError,
		"confidence", result.ConfidenceScore, "ms", result.TrainingTimeMs)
	e.recordTraining(store.TrainingEventData{
		Samples:      result.TrainingSamples,
		AverageError: result.AverageError,
		Confidence:   result.ConfidenceScore,
		DurationMs:   result.TrainingTimeMs,
		Success:      true,
	})
	return true
}

func (e *Engine) recordTraining(data store.TrainingEventData) {
	if e.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.events.AppendTrainingEvent(ctx, data); err != nil {
		e.log.Warnw("failed to record training event", "error", err)
	}
}

// Reset deletes every sample and the trained model.
func (e *Engine) Reset() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ok := true
	if err := e.samples.Reset(); err != nil {
		e.log.Warnw("cannot delete samples", "error", err)
		ok = false
	}
	if err := e.regressor.Reset(); err != nil {
		e.log.Warnw("cannot delete model", "error", err)
		ok = false
	}
	e.log.Infow("engine reset", "ok", ok)
	return ok
}

// GetMetrics returns the sample count and the metrics of the current model.
func (e *Engine) GetMetrics() samples.Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m := e.samples.Metrics()
	m.HasModel = e.regressor.HasModel()
	return m
}

// FeatureNames returns the feature names in vector order.
func (e *Engine) FeatureNames() []string {
	return e.extractor.Names()
}

// Samples returns a copy of the stored samples.
func (e *Engine) Samples() []samples.Sample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.samples.All()
}
