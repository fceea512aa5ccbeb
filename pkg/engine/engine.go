// Package engine drives the detection pipeline one tick at a time and
// publishes an immutable snapshot after each tick.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hed1ad/txguard/pkg/aggregate"
	"github.com/hed1ad/txguard/pkg/alerts"
	"github.com/hed1ad/txguard/pkg/config"
	"github.com/hed1ad/txguard/pkg/detectors"
	"github.com/hed1ad/txguard/pkg/features"
	"github.com/hed1ad/txguard/pkg/generator"
	"github.com/hed1ad/txguard/pkg/scorer"
	"github.com/hed1ad/txguard/pkg/transaction"
	"github.com/hed1ad/txguard/pkg/window"
)

const tracerName = "github.com/hed1ad/txguard/pkg/engine"

// Engine owns one pipeline instance. Tick, Reset and SetThreshold are
// serialized internally; Snapshot may be called concurrently with them and
// always returns the state of the last completed operation.
type Engine struct {
	mu sync.Mutex

	cfg       config.Config
	threshold float64

	gen       *generator.Generator
	extractor features.Extractor
	scorer    *scorer.Scorer
	window    *window.Store
	tracker   *alerts.Tracker

	total   uint64
	ticks   uint64
	burst   bool
	arrived int

	// retired tracks scorers replaced by ResetWithConfig until their
	// in-flight retrains exit.
	retired sync.WaitGroup

	factory  detectors.Factory
	onCommit func(transaction.Transaction)
	log      zerolog.Logger
	tracer   trace.Tracer

	snapMu sync.RWMutex
	snap   Snapshot
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for tick and reset events.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithModelFactory replaces the outlier model used after cold start.
func WithModelFactory(f detectors.Factory) Option {
	return func(e *Engine) {
		e.factory = f
	}
}

// WithCommitHook registers fn to receive a copy of every transaction as it
// is committed, before any eviction it triggers. IsAlert reflects the
// threshold at commit time. fn runs inside Tick and must not call back into
// the engine.
func WithCommitHook(fn func(transaction.Transaction)) Option {
	return func(e *Engine) {
		e.onCommit = fn
	}
}

// WithTracerProvider sets the provider tick spans are recorded with. The
// global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// New validates cfg and builds a cold engine.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		log:    zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.build(cfg); err != nil {
		return nil, err
	}
	e.publish()
	return e, nil
}

// build replaces every component with a fresh one for cfg. Caller holds
// e.mu or has exclusive access.
func (e *Engine) build(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	gen, err := generator.New(cfg)
	if err != nil {
		return err
	}
	store, err := window.New(window.Policy{MaxCount: cfg.WindowSize, MaxAge: cfg.WindowAge()})
	if err != nil {
		return err
	}

	scorerOpts := []scorer.Option{scorer.WithLogger(e.log)}
	if e.factory != nil {
		scorerOpts = append(scorerOpts, scorer.WithModelFactory(e.factory))
	}

	if old := e.scorer; old != nil {
		// Anything still training for the old config is discarded on arrival.
		old.Reset()
		e.retired.Add(1)
		go func() {
			defer e.retired.Done()
			old.Close()
		}()
	}

	e.cfg = cfg
	e.threshold = cfg.Threshold
	e.gen = gen
	e.window = store
	e.scorer = scorer.New(cfg, scorerOpts...)
	e.tracker = alerts.NewTracker(cfg.RetainAlertsAfterEviction)
	e.total, e.ticks, e.burst, e.arrived = 0, 0, false, 0
	return nil
}

// Config returns the configuration the engine was built with. Threshold
// reflects the value currently in effect.
func (e *Engine) Config() config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.cfg
	cfg.Threshold = e.threshold
	return cfg
}

// Tick generates n transactions (more on a burst tick), scores and commits
// them one by one, then publishes a new snapshot. Each transaction is
// extracted against the window as committed before it, so features never
// see later arrivals.
func (e *Engine) Tick(ctx context.Context, n int) (Snapshot, error) {
	if err := generator.CheckCount(n); err != nil {
		return Snapshot{}, fmt.Errorf("tick: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "engine.Tick",
		trace.WithAttributes(attribute.Int("tick.requested", n)),
	)
	defer span.End()

	batch, err := e.gen.Generate(n)
	if err != nil {
		span.RecordError(err)
		return Snapshot{}, err
	}

	recent := e.window.Vectors
	for _, tx := range batch.Transactions {
		vec := e.extractor.Extract(tx, e.window)
		scored := tx.Scored(vec, e.scorer.Score(vec))

		if err := e.window.Insert(scored); err != nil {
			// Generator ids are strictly increasing and reset together
			// with the window, so this is a broken invariant.
			span.RecordError(err)
			return Snapshot{}, fmt.Errorf("commit transaction %d: %w", scored.ID, err)
		}
		flagged := e.tracker.Flag(scored, e.threshold)
		e.total++
		if e.onCommit != nil {
			c := scored.Clone()
			c.IsAlert = flagged
			e.onCommit(c)
		}

		e.scorer.ObserveAndMaybeRetrain([][]float64{vec}, recent)
	}

	if e.cfg.SynchronousHandoff {
		// The tick is already committed; finish it even if ctx is done.
		if err := e.scorer.Wait(context.WithoutCancel(ctx)); err != nil {
			return Snapshot{}, err
		}
	}

	e.ticks++
	e.burst = batch.Burst
	e.arrived = len(batch.Transactions)
	snap := e.publish()

	span.SetAttributes(
		attribute.Int("tick.generated", e.arrived),
		attribute.Bool("tick.burst", e.burst),
		attribute.String("model.state", string(snap.ModelState)),
		attribute.Int("window.size", len(snap.Window)),
		attribute.Int("alerts", len(snap.Alerts)),
	)

	e.log.Debug().
		Uint64("tick", snap.Tick).
		Int("arrived", e.arrived).
		Bool("burst", e.burst).
		Int("window", len(snap.Window)).
		Int("alerts", len(snap.Alerts)).
		Str("model_state", string(snap.ModelState)).
		Float64("mean_score", snap.Summary.MeanScore).
		Msg("tick complete")

	return snap.Clone(), nil
}

// Step runs one tick of the nominal size tx_per_second.
func (e *Engine) Step(ctx context.Context) (Snapshot, error) {
	return e.Tick(ctx, e.Config().TxPerSecond)
}

// Reset returns the engine to its initial cold state under the same
// configuration and threshold. The generator is reseeded, so the stream
// that follows replays the one after construction.
func (e *Engine) Reset() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gen.Reset()
	e.window.Reset()
	e.tracker.Reset()
	e.scorer.Reset()
	e.total, e.ticks, e.burst, e.arrived = 0, 0, false, 0

	e.log.Info().Int64("seed", e.cfg.Seed).Msg("engine reset")
	return e.publish().Clone()
}

// ResetWithConfig validates cfg and rebuilds the engine with it. On error
// the engine is left untouched.
func (e *Engine) ResetWithConfig(cfg config.Config) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.build(cfg); err != nil {
		return Snapshot{}, err
	}
	e.log.Info().Int64("seed", cfg.Seed).Msg("engine reset with new config")
	return e.publish().Clone(), nil
}

// SetThreshold changes the alert threshold and reclassifies the current
// window. Scores are not touched.
func (e *Engine) SetThreshold(v float64) (Snapshot, error) {
	if err := config.ValidateThreshold(v); err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.threshold = v
	return e.publish().Clone(), nil
}

// Snapshot returns a copy of the last published snapshot.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap.Clone()
}

// ExportModel serializes the current fitted model.
func (e *Engine) ExportModel() ([]byte, error) {
	e.mu.Lock()
	s := e.scorer
	e.mu.Unlock()
	return s.Export()
}

// Close waits for background training to finish, including retrains
// started under a configuration that has since been replaced.
func (e *Engine) Close() {
	e.mu.Lock()
	s := e.scorer
	e.mu.Unlock()
	s.Close()
	e.retired.Wait()
}

// publish derives the snapshot from the committed state and swaps it in.
// Caller holds e.mu. The returned value must not be modified.
func (e *Engine) publish() Snapshot {
	win := e.window.Snapshot()
	for i := range win {
		win[i].IsAlert = win[i].Score >= e.threshold
	}
	current := alerts.Evaluate(win, e.threshold)
	for _, a := range current {
		e.tracker.Flag(a.Transaction, a.Threshold)
	}
	e.tracker.Reconcile(win)

	bins := aggregate.Aggregate(win, e.cfg.NumBins)
	aggregate.MarkAlertBins(bins, e.threshold)

	model := e.scorer.Stats()
	snap := Snapshot{
		Tick:             e.ticks,
		Burst:            e.burst,
		Arrived:          e.arrived,
		Threshold:        e.threshold,
		Window:           win,
		Bins:             bins,
		Alerts:           current,
		RetainedAlerts:   e.tracker.Retained(),
		TotalProcessed:   e.total,
		CumulativeAlerts: e.tracker.Cumulative(),
		Evicted:          e.window.Evicted(),
		ModelState:       model.State,
		Model:            model,
		Summary:          aggregate.Summarize(win, e.threshold),
		Generated:        e.gen.Stats(),
	}

	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()
	return snap
}
