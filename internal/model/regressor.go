package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/abhisek/gradeblend/internal/persist"
)

// minConfidence is the floor of a trained model's confidence score.
const minConfidence = 0.3

// TrainResult holds the metrics derived from a successful training run.
type TrainResult struct {
	TrainedAt       time.Time
	TrainingSamples int
	AverageError    float64
	ConfidenceScore float64
	TrainingTimeMs  int64
}

// Regressor owns the trained forest and its artifact file. It is not safe
// for concurrent use; the engine serializes access.
type Regressor struct {
	path   string
	cfg    Config
	log    *zap.SugaredLogger
	forest *Forest
}

// NewRegressor creates a regressor persisting to path. Call Load to pick up
// an existing artifact.
func NewRegressor(path string, cfg Config, log *zap.SugaredLogger) *Regressor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Regressor{path: path, cfg: cfg, log: log}
}

// Load reads the artifact from disk. A missing file leaves the model
// absent. An unreadable or incompatible artifact is deleted and the model
// is treated as absent so the next training starts fresh.
func (r *Regressor) Load() bool {
	r.forest = nil

	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.log.Warnw("cannot read model artifact", "path", r.path, "error", err)
		}
		return false
	}

	a, err := decodeArtifact(data)
	if err != nil {
		r.log.Warnw("discarding unusable model artifact", "path", r.path, "error", err)
		if rmErr := persist.Remove(r.path); rmErr != nil {
			r.log.Warnw("cannot delete model artifact", "path", r.path, "error", rmErr)
		}
		return false
	}

	r.forest = a.Forest
	return true
}

// HasModel reports whether a trained model is loaded.
func (r *Regressor) HasModel() bool { return r.forest != nil }

// Train refits the forest from the full sample set, evaluates it on that
// set and persists it. On any failure the current model is left untouched.
func (r *Regressor) Train(x [][]float64, y []float64, minSamples int) (TrainResult, error) {
	if err := Validate(x, y, minSamples); err != nil {
		return TrainResult{}, err
	}

	start := time.Now()
	f, err := Fit(x, y, r.cfg)
	if err != nil {
		return TrainResult{}, fmt.Errorf("fit forest: %w", err)
	}
	mae, err := f.MeanAbsoluteError(x, y)
	if err != nil {
		return TrainResult{}, fmt.Errorf("evaluate forest: %w", err)
	}
	trainedAt := time.Now().UTC()

	if err := persist.WriteJSON(r.path, encodeArtifact(f, trainedAt)); err != nil {
		return TrainResult{}, fmt.Errorf("save model: %w", err)
	}
	r.forest = f

	return TrainResult{
		TrainedAt:       trainedAt,
		TrainingSamples: len(x),
		AverageError:    mae,
		ConfidenceScore: math.Max(minConfidence, 1-mae/10),
		TrainingTimeMs:  time.Since(start).Milliseconds(),
	}, nil
}

// Predict scores a feature vector. It fails when no model is loaded or the
// vector does not fit the model.
func (r *Regressor) Predict(x []float64) (float64, error) {
	if r.forest == nil {
		return 0, fmt.Errorf("%w: no trained model", ErrIncompatibleModel)
	}
	return r.forest.Predict(x)
}

// Reset drops the in-memory model and deletes its artifact.
func (r *Regressor) Reset() error {
	r.forest = nil
	return persist.Remove(r.path)
}
