package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearSet builds samples whose label is 10 × the mean of the features.
func linearSet(n, width int) ([][]float64, []float64) {
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range n {
		row := make([]float64, width)
		var s float64
		for j := range row {
			row[j] = float64((i*7+j*3)%11) / 10
			s += row[j]
		}
		x[i] = row
		y[i] = 10 * s / float64(width)
	}
	return x, y
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		x    [][]float64
		y    []float64
		min  int
		want error
	}{
		{"too few", [][]float64{{1}}, []float64{1}, 3, ErrInsufficientSamples},
		{"empty", nil, nil, 0, ErrInsufficientSamples},
		{"ragged", [][]float64{{1, 2}, {1}, {1, 2}}, []float64{1, 2, 3}, 3, ErrInconsistentFeatures},
		{"nan feature", [][]float64{{1}, {math.NaN()}, {1}}, []float64{1, 2, 3}, 3, ErrInconsistentFeatures},
		{"label mismatch", [][]float64{{1}, {2}, {3}}, []float64{1, 2}, 3, ErrInconsistentFeatures},
		{"ok", [][]float64{{1}, {2}, {3}}, []float64{1, 2, 3}, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.x, tt.y, tt.min)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestFit_LearnsTrainingSet(t *testing.T) {
	x, y := linearSet(60, 7)
	f, err := Fit(x, y, DefaultConfig())
	require.NoError(t, err)

	mae, err := f.MeanAbsoluteError(x, y)
	require.NoError(t, err)
	assert.Less(t, mae, 1.5)
}

func TestFit_Deterministic(t *testing.T) {
	x, y := linearSet(20, 7)
	a, err := Fit(x, y, DefaultConfig())
	require.NoError(t, err)
	b, err := Fit(x, y, DefaultConfig())
	require.NoError(t, err)

	for i := range x {
		pa, _ := a.Predict(x[i])
		pb, _ := b.Predict(x[i])
		assert.Equal(t, pa, pb)
	}
}

func TestFit_ConstantLabels(t *testing.T) {
	x := [][]float64{{0.1, 0.2}, {0.5, 0.9}, {1, 0}}
	y := []float64{6, 6, 6}
	f, err := Fit(x, y, DefaultConfig())
	require.NoError(t, err)

	p, err := f.Predict([]float64{0.3, 0.3})
	require.NoError(t, err)
	assert.InDelta(t, 6.0, p, 1e-9)
}

func TestPredict_WrongWidth(t *testing.T) {
	x, y := linearSet(5, 3)
	f, err := Fit(x, y, DefaultConfig())
	require.NoError(t, err)

	_, err = f.Predict([]float64{1, 2})
	assert.True(t, errors.Is(err, ErrIncompatibleModel))
}

func TestPredict_StaysWithinLabelRange(t *testing.T) {
	x, y := linearSet(30, 7)
	f, err := Fit(x, y, DefaultConfig())
	require.NoError(t, err)

	for _, probe := range [][]float64{make([]float64, 7), {1, 1, 1, 1, 1, 1, 1}} {
		p, err := f.Predict(probe)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 10.0)
	}
}

func TestCheck_RejectsDamagedForest(t *testing.T) {
	f := &Forest{NumFeatures: 2, Trees: []Tree{{Nodes: []node{{Feature: 5, Left: 1, Right: 2}}}}}
	assert.Error(t, f.check())

	f = &Forest{NumFeatures: 2, Trees: []Tree{{Nodes: []node{{Feature: 0, Left: 1, Right: 9}, {Left: -1, Right: -1}}}}}
	assert.Error(t, f.check())

	assert.Error(t, (&Forest{}).check())
}
