// Package iforest scores feature vectors by how quickly random axis-aligned
// splits isolate them.
package iforest

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/txguard/pkg/detectors"
)

// eulerGamma is the Euler-Mascheroni constant.
const eulerGamma = 0.5772156649

// exactHarmonic is the largest n for which harmonic numbers are summed exactly.
const exactHarmonic = 64

// IsolationForest is an ensemble of isolation trees fitted on a subsample.
// It is safe for concurrent Predict calls.
type IsolationForest struct {
	mu sync.RWMutex

	nTrees        int
	sampleSize    int
	contamination float64
	rng           *rand.Rand

	m       model
	trained bool
}

// model is the fitted state. Fields are exported for gob.
type model struct {
	Trees         []tree
	Dim           int
	SampleSize    int
	AvgPathLength float64
	Threshold     float64
}

// tree stores nodes in a flat slice; index 0 is the root.
type tree struct {
	Nodes []node
}

// node is an internal split when Left >= 0, otherwise a leaf holding Size samples.
type node struct {
	Feature int
	Split   float64
	Left    int
	Right   int
	Size    int
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the ensemble size. Values below one are raised to one.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize caps the rows drawn per tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies used to derive Threshold.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed fixes the source used for subsampling and splits.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.rng = rand.New(rand.NewSource(seed))
	}
}

// New returns an untrained forest: 100 trees, 256-row subsamples, 10%
// contamination and seed 42 unless overridden.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.1,
		rng:           rand.New(rand.NewSource(42)),
	}

	for _, opt := range opts {
		opt(f)
	}
	f.nTrees = max(f.nTrees, 1)
	f.sampleSize = max(f.sampleSize, 2)

	return f
}

// Factory returns a detectors.Factory building forests with the given options.
// The seed passed by the caller overrides any WithSeed option.
func Factory(opts ...Option) detectors.Factory {
	return func(seed int64) detectors.Detector {
		return New(append(slices.Clone(opts), WithSeed(seed))...)
	}
}

// Fit trains the forest. Trees are built outside the lock, so a forest that
// is already trained keeps serving predictions until the new model is swapped
// in. Fit itself must not run concurrently on the same forest.
func (f *IsolationForest) Fit(data [][]float64) error {
	if len(data) == 0 {
		return detectors.ErrNoData
	}
	dim := len(data[0])
	if dim == 0 {
		return fmt.Errorf("%w: samples have no features", detectors.ErrDimension)
	}
	for i, row := range data {
		if len(row) != dim {
			return fmt.Errorf("%w: row %d has %d features, want %d", detectors.ErrDimension, i, len(row), dim)
		}
	}

	f.mu.Lock()
	rng := f.rng
	nTrees, sampleSize := f.nTrees, min(f.sampleSize, len(data))
	f.mu.Unlock()

	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize))))

	m := model{
		Trees:         make([]tree, nTrees),
		Dim:           dim,
		SampleSize:    sampleSize,
		AvgPathLength: averagePathLength(sampleSize),
	}

	sample := make([][]float64, sampleSize)
	for i := range m.Trees {
		// Sample without replacement
		for j, idx := range rng.Perm(len(data))[:sampleSize] {
			sample[j] = data[idx]
		}
		b := builder{rng: rng, dim: dim, maxDepth: maxDepth}
		b.build(sample, 0)
		m.Trees[i] = tree{Nodes: b.nodes}
	}

	if f.contamination > 0 {
		scores := make([]float64, len(data))
		for i, row := range data {
			scores[i] = m.score(row)
		}
		m.Threshold = quantile(scores, min(max(1-f.contamination, 0), 1))
	}

	f.mu.Lock()
	f.m = m
	f.trained = true
	f.mu.Unlock()

	return nil
}

type builder struct {
	rng      *rand.Rand
	dim      int
	maxDepth int
	nodes    []node
}

// build appends the subtree for data and returns its index.
func (b *builder) build(data [][]float64, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1, Size: len(data)})

	// Terminal conditions
	if depth >= b.maxDepth || len(data) <= 1 {
		return idx
	}

	feature := b.rng.Intn(b.dim)
	lo, hi := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		lo = min(lo, row[feature])
		hi = max(hi, row[feature])
	}
	if lo == hi {
		return idx
	}

	split := lo + b.rng.Float64()*(hi-lo)

	// Partition in place: left holds values below the split.
	i := 0
	for j, row := range data {
		if row[feature] < split {
			data[i], data[j] = data[j], data[i]
			i++
		}
	}

	left := b.build(data[:i], depth+1)
	right := b.build(data[i:], depth+1)
	b.nodes[idx] = node{Feature: feature, Split: split, Left: left, Right: right, Size: len(data)}
	return idx
}

// Predict returns anomaly scores in [0, 1] for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	return detectors.PredictAll(f, data)
}

// PredictOne returns the anomaly score 2^(-E[h(x)]/c(n)) for a single sample.
func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, detectors.ErrNotTrained
	}
	if len(sample) != f.m.Dim {
		return 0, fmt.Errorf("%w: got %d, want %d", detectors.ErrDimension, len(sample), f.m.Dim)
	}
	return f.m.score(sample), nil
}

func (m *model) score(sample []float64) float64 {
	if m.AvgPathLength == 0 {
		return 0.5
	}
	var total float64
	for i := range m.Trees {
		total += m.Trees[i].pathLength(sample)
	}
	avg := total / float64(len(m.Trees))
	return math.Pow(2, -avg/m.AvgPathLength)
}

// pathLength walks sample to a leaf and adds the expected remaining depth.
func (t *tree) pathLength(sample []float64) float64 {
	depth := 0
	n := &t.Nodes[0]
	for n.Left >= 0 {
		if sample[n.Feature] < n.Split {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.Size)
}

// averagePathLength returns c(n), the average path length of an
// unsuccessful search in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n
	return 2*harmonic(n-1) - 2*float64(n-1)/float64(n)
}

func harmonic(n int) float64 {
	if n <= exactHarmonic {
		var h float64
		for k := 1; k <= n; k++ {
			h += 1 / float64(k)
		}
		return h
	}
	return math.Log(float64(n)) + eulerGamma + 1/(2*float64(n))
}

// Trained reports whether Fit or Load has completed.
func (f *IsolationForest) Trained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trained
}

// Threshold returns the training-score quantile implied by the contamination.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.m.Threshold
}

// Save gob-encodes the fitted trees.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotTrained
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&f.m); err != nil {
		return nil, fmt.Errorf("encode forest: %w", err)
	}
	return buf.Bytes(), nil
}

// Load replaces the forest with one produced by Save.
func (f *IsolationForest) Load(data []byte) error {
	var m model
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return fmt.Errorf("decode forest: %w", err)
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("decode forest: %w", detectors.ErrNoData)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.m = m
	f.nTrees = len(m.Trees)
	f.sampleSize = m.SampleSize
	f.trained = true
	return nil
}

// quantile returns the empirical q-quantile of xs without reordering it.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}
