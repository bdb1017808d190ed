// Package session ties a schematic to a running audio pipeline: it owns the
// signal buffer, probe registry, scope, build coordinator and audio device,
// and opens and closes them in a safe order.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/san-kum/livesim/internal/audio"
	"github.com/san-kum/livesim/internal/build"
	"github.com/san-kum/livesim/internal/config"
	"github.com/san-kum/livesim/internal/engine"
	"github.com/san-kum/livesim/internal/pipeline"
	"github.com/san-kum/livesim/internal/probe"
	"github.com/san-kum/livesim/internal/quantity"
	"github.com/san-kum/livesim/internal/schematic"
	"github.com/san-kum/livesim/internal/scope"
	"github.com/san-kum/livesim/internal/signal"
	"github.com/san-kum/livesim/internal/storage"
)

var (
	ErrOpen   = errors.New("session: already open")
	ErrClosed = errors.New("session: not open")
)

type Session struct {
	cfg      *config.Config
	settings *config.Settings
	editor   *schematic.Schematic
	source   audio.Generator
	log      *slog.Logger

	signals *signal.Buffer
	scope   *scope.Scope
	probes  *probe.Registry
	pipe    *pipeline.Pipeline
	coord   *build.Coordinator
	store   *storage.Store

	mu      sync.Mutex
	device  audio.Device
	unwatch func()
	unsubs  []func()
	open    bool

	errMu    sync.Mutex
	buildErr error
}

type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithSettings shares live settings, e.g. ones already bound to CLI flags.
func WithSettings(st *config.Settings) Option {
	return func(s *Session) { s.settings = st }
}

// WithSource sets the input generator for backends without a capture device.
func WithSource(g audio.Generator) Option {
	return func(s *Session) { s.source = g }
}

func New(cfg *config.Config, sch *schematic.Schematic, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	method, err := engine.ParseMethod(cfg.Method)
	if err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, editor: sch, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.settings == nil {
		s.settings = cfg.Settings()
	}
	if s.source == nil {
		s.source = &audio.Sine{Freq: cfg.Tone, Amp: 0.5}
	}

	s.signals = signal.NewBuffer()
	s.scope = scope.New(scope.DefaultCapacity)
	s.pipe = pipeline.New(s.settings, s.signals, cfg.Input, signal.Key(cfg.Output),
		pipeline.WithVisualizer(s.scope),
		pipeline.WithLogger(s.log))
	s.probes = probe.NewRegistry(s.signals, s.scope, s.log)
	s.coord = build.New(s.pipe, s.settings, method, s.log)
	s.store = storage.New(cfg.CaptureDir)
	s.log = s.log.With(slog.String("component", "session"))
	return s, nil
}

func (s *Session) Scope() *scope.Scope           { return s.scope }
func (s *Session) Pipeline() *pipeline.Pipeline { return s.pipe }
func (s *Session) Settings() *config.Settings   { return s.settings }
func (s *Session) Store() *storage.Store        { return s.store }

// Schematic is the editor copy. Edits to it refresh the probes at once; the
// engine picks them up on the next Rebuild.
func (s *Session) Schematic() *schematic.Schematic { return s.editor }

// Open watches the schematic, builds the first engine and starts the
// configured audio backend. A failed first build does not stop the device:
// it runs silent, Open returns the *build.Error and the session stays open
// until Close. Rebuild binds an engine once the schematic compiles.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return ErrOpen
	}

	s.unwatch = s.probes.Watch(s.editor)
	_, buildErr := s.coord.Build(s.editor.Clone())
	s.setBuildErr(buildErr)

	dev, err := audio.Open(s.cfg.Backend, s.audioOptions(), s.pipe.OnBuffer)
	if err != nil {
		s.teardownLocked()
		return err
	}
	if err := dev.Start(); err != nil {
		dev.Close()
		s.teardownLocked()
		return fmt.Errorf("start %s: %w", s.cfg.Backend, err)
	}
	s.device = dev

	// oversampling is baked into the engine, so a change needs a rebuild
	s.unsubs = append(s.unsubs, s.settings.Oversample.Subscribe(func(float64) {
		if err := s.Rebuild(); err != nil {
			s.log.Warn("rebuild after oversample change failed", slog.Any("error", err))
		}
	}))
	s.open = true
	s.log.Info("session opened",
		slog.String("circuit", s.editor.Name),
		slog.String("backend", s.cfg.Backend),
		slog.Int("frames", s.frames()))
	if buildErr != nil {
		s.log.Warn("no engine bound, rebuild required", slog.Any("error", buildErr))
	}
	return buildErr
}

// Close stops the device before anything the callback touches is released.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrClosed
	}
	var err error
	if s.device != nil {
		err = s.device.Close()
		s.device = nil
	}
	s.teardownLocked()
	s.open = false
	s.log.Info("session closed")
	return err
}

func (s *Session) teardownLocked() {
	for _, cancel := range s.unsubs {
		cancel()
	}
	s.unsubs = nil
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	s.pipe.Unbind()
}

func (s *Session) setBuildErr(err error) {
	s.errMu.Lock()
	s.buildErr = err
	s.errMu.Unlock()
}

// frames is the callback length for the latency at the coordinator's rate.
func (s *Session) frames() int {
	return max(1, int(math.Round(s.coord.Rate()*s.settings.Latency.Value())))
}

func (s *Session) audioOptions() audio.Options {
	return audio.Options{
		Rate:     int(math.Round(s.coord.Rate())),
		Frames:   s.frames(),
		BitDepth: int(math.Round(s.settings.BitDepth.Value())),
		Source:   s.source,
	}
}

// Render builds the circuit and pushes buffers through the pipeline without
// sound hardware, handing each output buffer to sink.
func (s *Session) Render(buffers int, sink func([]float64)) error {
	unwatch := s.probes.Watch(s.editor)
	defer unwatch()
	if _, err := s.coord.Build(s.editor.Clone()); err != nil {
		return err
	}
	defer s.pipe.Unbind()

	audio.NewOffline(s.audioOptions(), s.pipe.OnBuffer).Run(buffers, sink)
	if r := s.pipe.LastError(); r != nil && s.pipe.Engine() == nil {
		return r.Err
	}
	return nil
}

// Rebuild compiles the current schematic and swaps the engine in. This is
// also the only way back after a fatal engine failure.
func (s *Session) Rebuild() error {
	_, err := s.coord.Build(s.editor.Clone())
	s.setBuildErr(err)
	return err
}

// Capture saves the scope's traces.
func (s *Session) Capture() (string, error) {
	snap := s.scope.Snapshot()
	if len(snap.Traces) == 0 {
		return "", errors.New("nothing to capture")
	}
	if err := s.store.Init(); err != nil {
		return "", err
	}

	c := storage.Capture{
		Circuit:   s.editor.Name,
		Rate:      snap.Rate,
		EndSample: snap.Sample,
		Settings: map[string]float64{
			"sample_rate": s.coord.Rate(),
			"latency":     s.settings.Latency.Value(),
			"input_gain":  s.settings.InputGain.Value(),
			"output_gain": s.settings.OutputGain.Value(),
			"oversample":  s.settings.Oversample.Value(),
			"iterations":  s.settings.Iterations.Value(),
		},
	}
	for _, t := range snap.Traces {
		c.Series = append(c.Series, storage.Series{Key: string(t.Key), Samples: t.Samples})
	}
	id, err := s.store.Save(c)
	if err != nil {
		return "", err
	}
	s.log.Info("capture saved", slog.String("id", id), slog.Int("signals", len(c.Series)))
	return id, nil
}

func (s *Session) ScaleGain(input bool, factor float64) {
	q := s.settings.OutputGain
	if input {
		q = s.settings.InputGain
	}
	q.Set(q.Value() * factor)
}

func (s *Session) Status() scope.Status {
	st := scope.Status{
		Circuit:    s.editor.Name,
		Bound:      s.pipe.Engine() != nil,
		Builds:     s.coord.Builds(),
		Stats:      s.pipe.Stats(),
		Rate:       quantity.Format(s.coord.Rate(), quantity.Hertz),
		Latency:    s.settings.Latency.String(),
		InputGain:  s.settings.InputGain.Value(),
		OutputGain: s.settings.OutputGain.Value(),
	}
	if r := s.pipe.LastError(); r != nil {
		st.LastError = r.Err.Error()
	}
	s.errMu.Lock()
	if s.buildErr != nil {
		st.LastError = s.buildErr.Error()
	}
	s.errMu.Unlock()
	return st
}
