// Package zscore implements a streaming statistical baseline detector.
//
// Baseline keeps per-feature running mean and variance (Welford's update) and
// scores a sample by its largest absolute z-score. It needs no training
// pass, which makes it the cold-start fallback of the scorer.
package zscore

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hed1ad/txguard/pkg/detectors"
)

// DefaultScale divides the largest z before it is mapped through the normal CDF.
const DefaultScale = 2.5

// Baseline is safe for concurrent use.
type Baseline struct {
	mu    sync.RWMutex
	scale float64

	n    int
	mean []float64
	m2   []float64
}

// New creates an empty baseline. A non-positive scale selects DefaultScale.
func New(scale float64) *Baseline {
	if !(scale > 0) {
		scale = DefaultScale
	}
	return &Baseline{scale: scale}
}

// Observe folds one sample into the running moments.
func (b *Baseline) Observe(sample []float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.n == 0 {
		b.mean = make([]float64, len(sample))
		b.m2 = make([]float64, len(sample))
	} else if len(sample) != len(b.mean) {
		return fmt.Errorf("%w: got %d, want %d", detectors.ErrDimension, len(sample), len(b.mean))
	}

	b.n++
	for i, x := range sample {
		delta := x - b.mean[i]
		b.mean[i] += delta / float64(b.n)
		b.m2[i] += delta * (x - b.mean[i])
	}
	return nil
}

// Fit replaces the running moments with the moments of data.
func (b *Baseline) Fit(data [][]float64) error {
	if len(data) == 0 {
		return detectors.ErrNoData
	}
	dim := len(data[0])
	col := make([]float64, len(data))
	mean := make([]float64, dim)
	m2 := make([]float64, dim)

	for j := 0; j < dim; j++ {
		for i, row := range data {
			if len(row) != dim {
				return fmt.Errorf("%w: row %d has %d features, want %d", detectors.ErrDimension, i, len(row), dim)
			}
			col[i] = row[j]
		}
		mu, variance := stat.MeanVariance(col, nil)
		mean[j] = mu
		if len(data) > 1 {
			m2[j] = variance * float64(len(data)-1)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.n, b.mean, b.m2 = len(data), mean, m2
	return nil
}

// Count returns the number of observations folded in.
func (b *Baseline) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.n
}

// Reset forgets every observation.
func (b *Baseline) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n, b.mean, b.m2 = 0, nil, nil
}

// Predict returns scores for the given samples.
func (b *Baseline) Predict(data [][]float64) ([]float64, error) {
	return detectors.PredictAll(b, data)
}

// PredictOne maps the largest absolute z-score to 2*Phi(z/scale)-1, which
// is monotonic and lies in [0, 1). Features with zero variance are skipped.
func (b *Baseline) PredictOne(sample []float64) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.n < 2 {
		return 0, fmt.Errorf("%w: %d observations", detectors.ErrNotTrained, b.n)
	}
	if len(sample) != len(b.mean) {
		return 0, fmt.Errorf("%w: got %d, want %d", detectors.ErrDimension, len(sample), len(b.mean))
	}

	var zmax float64
	for i, x := range sample {
		variance := b.m2[i] / float64(b.n-1)
		if variance <= 0 {
			continue
		}
		z := math.Abs(x-b.mean[i]) / math.Sqrt(variance)
		zmax = max(zmax, z)
	}
	return 2*distuv.UnitNormal.CDF(zmax/b.scale) - 1, nil
}
