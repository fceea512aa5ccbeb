// Package scorer owns the outlier model of the pipeline: it scores feature
// vectors, falls back to a running statistical baseline while no model is
// fitted, and retrains in the background on a fixed cadence.
package scorer

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hed1ad/txguard/pkg/config"
	"github.com/hed1ad/txguard/pkg/detectors"
	"github.com/hed1ad/txguard/pkg/detectors/iforest"
	"github.com/hed1ad/txguard/pkg/detectors/zscore"
)

// State is the model lifecycle phase reported to snapshot readers.
type State string

const (
	// StateCold scores with the statistical fallback; no model is fitted.
	StateCold State = "cold"
	// StateWarm scores with a fitted model.
	StateWarm State = "warm"
	// StateRetraining scores with the previous model while a new one is fit.
	StateRetraining State = "retraining"
)

// SampleSource returns a fresh copy of the recent window's feature vectors.
type SampleSource func() [][]float64

// Stats describes the model state at a point in time.
type Stats struct {
	State           State   `json:"state"`
	Generation      uint64  `json:"generation"`
	Retrains        uint64  `json:"retrains"`
	SkippedRetrains uint64  `json:"skipped_retrains"`
	Discarded       uint64  `json:"discarded_retrains"`
	Failed          uint64  `json:"failed_retrains"`
	Insufficient    uint64  `json:"insufficient_data"`
	Fallbacks       uint64  `json:"fallback_scores"`
	SinceRetrain    int     `json:"observed_since_retrain"`
	TrainedOn       int     `json:"trained_on"`
	Cutoff          float64 `json:"cutoff"`
}

// thresholder is implemented by models that derive a contamination cutoff.
type thresholder interface {
	Threshold() float64
}

type job struct {
	generation uint64
	ordinal    uint64
	samples    int
	done       chan struct{}

	model detectors.Detector
	err   error
}

// Scorer is safe for concurrent use. Score never blocks on training.
type Scorer struct {
	mu sync.Mutex
	wg sync.WaitGroup

	factory     detectors.Factory
	seed        int64
	every       int
	minSamples  int
	gain        float64
	synchronous bool
	log         zerolog.Logger

	fallback *zscore.Baseline

	current    detectors.Detector
	generation uint64
	ordinal    uint64
	observed   int
	inflight   *job
	stats      Stats
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithModelFactory replaces the default isolation forest.
func WithModelFactory(f detectors.Factory) Option {
	return func(s *Scorer) {
		s.factory = f
	}
}

// WithLogger sets the logger used for retrain lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scorer) {
		s.log = l.With().Str("component", "scorer").Logger()
	}
}

// New creates a cold scorer from the detection parameters of cfg.
func New(cfg config.Config, opts ...Option) *Scorer {
	s := &Scorer{
		factory: iforest.Factory(
			iforest.WithTrees(cfg.NumTrees),
			iforest.WithSampleSize(cfg.SampleSize),
		),
		seed:        cfg.Seed,
		every:       max(cfg.RetrainEveryN, 1),
		minSamples:  cfg.EffectiveMinTrainSamples(),
		gain:        cfg.ScoreGain,
		synchronous: cfg.SynchronousHandoff,
		log:         zerolog.Nop(),
		fallback:    zscore.New(zscore.DefaultScale),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stats.State = StateCold
	return s
}

// Normalize maps a raw model score to [0, 1]. It depends only on the raw
// value, so repeated calls against an unchanged model agree.
func (s *Scorer) Normalize(raw float64) float64 {
	return clamp01(0.5 + (raw-0.5)*s.gain)
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

// Score returns the anomaly score of vec in [0, 1]. Model faults degrade to
// the fallback score; the call never fails.
func (s *Scorer) Score(vec []float64) float64 {
	s.mu.Lock()
	model := s.current
	s.mu.Unlock()

	if model != nil {
		raw, err := model.PredictOne(vec)
		if err == nil && !math.IsNaN(raw) && !math.IsInf(raw, 0) {
			return s.Normalize(raw)
		}
		s.log.Debug().Err(err).Float64("raw", raw).Msg("model score unusable, using fallback")
	}

	score, err := s.fallbackScore(vec)
	s.mu.Lock()
	s.stats.Fallbacks++
	s.mu.Unlock()
	if err != nil {
		return 0
	}
	return score
}

func (s *Scorer) fallbackScore(vec []float64) (float64, error) {
	score, err := s.fallback.PredictOne(vec)
	if errors.Is(err, detectors.ErrNotTrained) {
		return 0, &InsufficientDataError{Have: s.fallback.Count(), Need: 2}
	}
	if err != nil || math.IsNaN(score) {
		return 0, err
	}
	return clamp01(score), nil
}

// ObserveAndMaybeRetrain folds newly scored vectors into the fallback
// statistics and starts a retrain once retrain_every_n vectors have been
// observed since the last trigger. recent is only called when a retrain
// actually starts. A trigger that finds a retrain in flight is coalesced.
func (s *Scorer) ObserveAndMaybeRetrain(observed [][]float64, recent SampleSource) {
	for _, vec := range observed {
		if err := s.fallback.Observe(vec); err != nil {
			s.log.Warn().Err(err).Msg("fallback baseline rejected sample")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.observed += len(observed)
	if s.observed < s.every {
		return
	}
	s.observed = 0

	if s.inflight != nil {
		s.stats.SkippedRetrains++
		warn := &StaleModelWarning{InFlight: s.inflight.ordinal}
		s.log.Warn().Err(warn).Uint64("generation", s.generation).Msg("retrain coalesced")
		return
	}

	samples := recent()
	if len(samples) < s.minSamples {
		s.stats.Insufficient++
		err := &InsufficientDataError{Have: len(samples), Need: s.minSamples}
		s.log.Debug().Err(err).Msg("retrain skipped, keeping current model")
		return
	}

	s.ordinal++
	j := &job{
		generation: s.generation,
		ordinal:    s.ordinal,
		samples:    len(samples),
		done:       make(chan struct{}),
	}
	s.inflight = j

	s.log.Debug().
		Uint64("generation", j.generation).
		Uint64("retrain", j.ordinal).
		Int("samples", j.samples).
		Msg("retrain started")

	s.wg.Add(1)
	go s.train(j, samples, s.seed+int64(j.ordinal))
}

func (s *Scorer) train(j *job, samples [][]float64, seed int64) {
	defer s.wg.Done()

	model := s.factory(seed)
	err := model.Fit(samples)

	s.mu.Lock()
	defer s.mu.Unlock()

	j.model, j.err = model, err
	close(j.done)

	if j.generation != s.generation {
		s.stats.Discarded++
		s.log.Debug().Uint64("generation", j.generation).Msg("retrain result discarded after reset")
		return
	}
	if !s.synchronous {
		s.install(j)
	}
}

// install publishes a finished job. Caller holds s.mu.
func (s *Scorer) install(j *job) {
	if s.inflight == j {
		s.inflight = nil
	}
	if j.err != nil {
		s.stats.Failed++
		s.log.Warn().Err(j.err).Uint64("retrain", j.ordinal).Msg("retrain failed, keeping current model")
		return
	}

	s.current = j.model
	s.stats.Retrains++
	s.stats.TrainedOn = j.samples
	s.stats.Cutoff = 0
	if t, ok := j.model.(thresholder); ok {
		s.stats.Cutoff = s.Normalize(t.Threshold())
	}
	s.log.Debug().
		Uint64("retrain", j.ordinal).
		Int("samples", j.samples).
		Msg("model installed")
}

// Wait blocks until the in-flight retrain, if any, has finished and its
// model is installed. With synchronous handoff this is the only point where
// a new model replaces the old one.
func (s *Scorer) Wait(ctx context.Context) error {
	s.mu.Lock()
	j := s.inflight
	s.mu.Unlock()
	if j == nil {
		return nil
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == j && j.generation == s.generation {
		s.install(j)
	}
	return nil
}

// Reset drops the model and the fallback statistics and returns to cold.
// A retrain still running is left to finish and its result is discarded.
func (s *Scorer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.current = nil
	s.inflight = nil
	s.ordinal = 0
	s.observed = 0
	s.fallback.Reset()
	s.stats = Stats{Generation: s.generation, Discarded: s.stats.Discarded}
}

// Close waits for background retrains to exit.
func (s *Scorer) Close() {
	s.wg.Wait()
}

// State returns the current lifecycle phase.
func (s *Scorer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Scorer) state() State {
	switch {
	case s.current != nil && s.inflight != nil:
		return StateRetraining
	case s.current != nil:
		return StateWarm
	default:
		return StateCold
	}
}

// Stats returns a copy of the scorer counters.
func (s *Scorer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.State = s.state()
	out.Generation = s.generation
	out.SinceRetrain = s.observed
	return out
}

// Export serializes the installed model when it supports it.
func (s *Scorer) Export() ([]byte, error) {
	s.mu.Lock()
	model := s.current
	s.mu.Unlock()

	if model == nil {
		return nil, ErrNoModel
	}
	exp, ok := model.(detectors.Exporter)
	if !ok {
		return nil, errors.New("installed model cannot be exported")
	}
	return exp.Save()
}
