// Package samples holds the teacher-labeled training samples and the
// metrics of the model trained from them, persisted together as one
// document.
package samples

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abhisek/gradeblend/internal/features"
	"github.com/abhisek/gradeblend/internal/persist"
)

// Sample is one teacher-labeled observation. Samples are immutable once
// stored; corrections arrive as new samples.
type Sample struct {
	ID           string                `json:"id"`
	Features     []float64             `json:"features"`
	TeacherScore float64               `json:"teacher_score"`
	Timestamp    time.Time             `json:"timestamp"`
	TestCase     features.TestCaseInfo `json:"test_case"`
}

// New creates a sample with a fresh ID and the current time.
func New(vec features.Vector, teacherScore float64, tc features.TestCaseInfo) Sample {
	f := make([]float64, len(vec))
	copy(f, vec)
	return Sample{
		ID:           uuid.NewString(),
		Features:     f,
		TeacherScore: teacherScore,
		Timestamp:    time.Now().UTC(),
		TestCase:     tc,
	}
}

// Metrics describes the trained model. HasModel implies the model was
// trained from at least the minimum number of samples.
type Metrics struct {
	HasModel         bool       `json:"has_model"`
	SampleCount      int        `json:"sample_count"`
	LastTrainingTime *time.Time `json:"last_training_time,omitempty"`
	TrainingSamples  int        `json:"training_samples"`
	AverageError     float64    `json:"average_error"`
	ConfidenceScore  float64    `json:"confidence_score"`
	TrainingTimeMs   int64      `json:"training_time_ms"`
}

type document struct {
	Samples []Sample  `json:"samples"`
	Metrics Metrics   `json:"metrics"`
	Updated time.Time `json:"updated"`
}

// Store is the append-only sample list. It is not safe for concurrent use;
// the engine serializes access.
type Store struct {
	path    string
	log     *zap.SugaredLogger
	samples []Sample
	metrics Metrics
}

// Open loads the store from path. A missing file yields an empty store; a
// corrupt one is moved aside and the store starts empty.
func Open(path string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{path: path, log: log}

	var doc document
	_, err := persist.ReadJSON(path, &doc)
	switch {
	case err == nil:
		s.samples = doc.Samples
		s.metrics = doc.Metrics
	case errors.Is(err, persist.ErrCorrupt):
		dest, qErr := persist.Quarantine(path)
		if qErr != nil {
			return nil, fmt.Errorf("recover sample file: %w", qErr)
		}
		log.Warnw("sample file corrupt, starting empty", "path", path, "moved_to", dest, "error", err)
	default:
		return nil, fmt.Errorf("load samples: %w", err)
	}

	s.metrics.SampleCount = len(s.samples)
	return s, nil
}

// Len returns the number of stored samples.
func (s *Store) Len() int { return len(s.samples) }

// All returns a copy of the samples in insertion order.
func (s *Store) All() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Matrix returns the feature vectors and labels for training.
func (s *Store) Matrix() ([][]float64, []float64) {
	x := make([][]float64, len(s.samples))
	y := make([]float64, len(s.samples))
	for i, smp := range s.samples {
		x[i] = smp.Features
		y[i] = smp.TeacherScore
	}
	return x, y
}

// Append stores a sample and persists the document. If persisting fails
// the sample is not kept.
func (s *Store) Append(smp Sample) error {
	s.samples = append(s.samples, smp)
	s.metrics.SampleCount = len(s.samples)
	if err := s.save(); err != nil {
		s.samples = s.samples[:len(s.samples)-1]
		s.metrics.SampleCount = len(s.samples)
		return err
	}
	return nil
}

// Metrics returns the current model metrics.
func (s *Store) Metrics() Metrics {
	m := s.metrics
	m.SampleCount = len(s.samples)
	return m
}

// SetMetrics replaces the model metrics and persists the document.
func (s *Store) SetMetrics(m Metrics) error {
	prev := s.metrics
	m.SampleCount = len(s.samples)
	s.metrics = m
	if err := s.save(); err != nil {
		s.metrics = prev
		return err
	}
	return nil
}

// Reset removes every sample and the metrics, deleting the file.
func (s *Store) Reset() error {
	s.samples = nil
	s.metrics = Metrics{}
	return persist.Remove(s.path)
}

func (s *Store) save() error {
	doc := document{
		Samples: s.samples,
		Metrics: s.metrics,
		Updated: time.Now().UTC(),
	}
	if doc.Samples == nil {
		doc.Samples = []Sample{}
	}
	if err := persist.WriteJSON(s.path, doc); err != nil {
		return fmt.Errorf("save samples: %w", err)
	}
	return nil
}
