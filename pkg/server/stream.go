package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hed1ad/txguard/pkg/engine"
)

// ErrStreaming is returned when starting a stream that is already running.
var ErrStreaming = errors.New("stream already running")

// Stream steps an engine on a fixed cadence until stopped.
type Stream struct {
	mu       sync.Mutex
	cron     *cron.Cron
	entry    cron.EntryID
	running  bool
	interval time.Duration

	engine *engine.Engine
	log    zerolog.Logger
}

// NewStream creates a stopped stream. cron cannot schedule below one
// second, so shorter intervals are rounded up.
func NewStream(eng *engine.Engine, interval time.Duration, log zerolog.Logger) *Stream {
	log = log.With().Str("component", "stream").Logger()
	return &Stream{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{log}),
			cron.SkipIfStillRunning(cronLogger{log}),
		)),
		interval: max(interval.Round(time.Second), time.Second),
		engine:   eng,
		log:      log,
	}
}

// Interval returns the stepping cadence.
func (s *Stream) Interval() time.Duration {
	return s.interval
}

// Running reports whether the stream is stepping.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start schedules a Step every interval.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrStreaming
	}

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.step)
	if err != nil {
		return err
	}
	s.entry = id
	s.running = true
	s.cron.Start()

	s.log.Info().Dur("interval", s.interval).Msg("stream started")
	return nil
}

// Stop unschedules stepping and waits for a running step to finish.
// Stopping a stopped stream is a no-op.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	s.cron.Remove(s.entry)
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info().Msg("stream stopped")
}

func (s *Stream) step() {
	snap, err := s.engine.Step(context.Background())
	if err != nil {
		s.log.Error().Err(err).Msg("stream step failed")
		return
	}
	s.log.Debug().
		Uint64("tick", snap.Tick).
		Int("alerts", len(snap.Alerts)).
		Msg("stream step")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
