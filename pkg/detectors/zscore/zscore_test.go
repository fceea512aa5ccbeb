package zscore

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/txguard/pkg/detectors"
)

var _ detectors.Detector = (*Baseline)(nil)

func TestPredictNeedsTwoObservations(t *testing.T) {
	b := New(0)
	_, err := b.PredictOne([]float64{1})
	assert.ErrorIs(t, err, detectors.ErrNotTrained)

	require.NoError(t, b.Observe([]float64{1}))
	_, err = b.PredictOne([]float64{1})
	assert.ErrorIs(t, err, detectors.ErrNotTrained)

	require.NoError(t, b.Observe([]float64{3}))
	score, err := b.PredictOne([]float64{2})
	require.NoError(t, err)
	assert.InDelta(t, 0, score, 1e-12)
}

func TestObserveMatchesFit(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, 300)
	for i := range data {
		data[i] = []float64{rng.NormFloat64()*3 + 10, rng.Float64()}
	}

	streamed := New(0)
	for _, row := range data {
		require.NoError(t, streamed.Observe(row))
	}
	batch := New(0)
	require.NoError(t, batch.Fit(data))

	probe := []float64{19, 0.5}
	a, err := streamed.PredictOne(probe)
	require.NoError(t, err)
	b, err := batch.PredictOne(probe)
	require.NoError(t, err)
	assert.InDelta(t, a, b, 1e-9)
	assert.Equal(t, 300, streamed.Count())
}

func TestScoreIsMonotonicInDistance(t *testing.T) {
	b := New(0)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		require.NoError(t, b.Observe([]float64{rng.NormFloat64()}))
	}

	prev := -1.0
	for _, x := range []float64{0, 1, 2, 3, 5, 8} {
		s, err := b.PredictOne([]float64{x})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.Less(t, s, 1.0)
		assert.Greater(t, s, prev)
		prev = s
	}
}

func TestDimensionMismatch(t *testing.T) {
	b := New(0)
	require.NoError(t, b.Observe([]float64{1, 2}))
	assert.ErrorIs(t, b.Observe([]float64{1}), detectors.ErrDimension)
	assert.ErrorIs(t, b.Fit([][]float64{{1, 2}, {3}}), detectors.ErrDimension)
	assert.ErrorIs(t, b.Fit(nil), detectors.ErrNoData)
}

func TestReset(t *testing.T) {
	b := New(1)
	require.NoError(t, b.Observe([]float64{1}))
	require.NoError(t, b.Observe([]float64{2}))
	b.Reset()
	assert.Zero(t, b.Count())
	require.NoError(t, b.Observe([]float64{1, 2, 3}), "dimension is re-learned after reset")
}
