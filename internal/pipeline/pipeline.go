// Package pipeline runs the real-time audio callback: it stages gain, sizes
// the shared signal buffer, drives the bound engine and keeps the audio
// thread alive when the engine fails.
//
// The engine is published through an atomic handle. A callback observes
// either a fully constructed engine or none; it never blocks on a rebuild.
// The signal buffer lock is the only lock taken on the audio thread.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/san-kum/livesim/internal/config"
	"github.com/san-kum/livesim/internal/engine"
	"github.com/san-kum/livesim/internal/signal"
)

// unityTolerance is the distance from 1 within which gain is not applied.
const unityTolerance = 1e-2

// ErrPanic marks an engine that panicked inside Process.
var ErrPanic = errors.New("pipeline: engine panicked")

// Visualizer receives every processed buffer while the signal lock is held.
// start is the engine sample index of signals[k][0]; only the first n values
// of each sequence belong to this buffer.
type Visualizer interface {
	Display(start int64, n int, signals signal.Map, rate float64)
}

// Failure records an engine error seen on the audio thread.
type Failure struct {
	Err  error
	Kind engine.Kind
	At   time.Time
}

type Stats struct {
	Callbacks uint64
	Silenced  uint64
	Overflows uint64
	Failures  uint64
}

type handle struct {
	e engine.Engine
}

type Pipeline struct {
	settings *config.Settings
	input    string
	output   signal.Key
	signals  *signal.Buffer
	vis      Visualizer
	log      *slog.Logger

	engine  atomic.Pointer[handle]
	lastErr atomic.Pointer[Failure]

	callbacks atomic.Uint64
	silenced  atomic.Uint64
	overflows atomic.Uint64
	failures  atomic.Uint64
}

type Option func(*Pipeline)

func WithVisualizer(v Visualizer) Option {
	return func(p *Pipeline) { p.vis = v }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a pipeline that drives the source named input and aliases the
// output key to the audio buffer.
func New(settings *config.Settings, signals *signal.Buffer, input string, output signal.Key, opts ...Option) *Pipeline {
	p := &Pipeline{
		settings: settings,
		input:    input,
		output:   output,
		signals:  signals,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(slog.String("component", "pipeline"))
	return p
}

// Bind publishes e to the audio thread and returns the engine it replaced.
// Binding nil unbinds.
func (p *Pipeline) Bind(e engine.Engine) engine.Engine {
	var next *handle
	if e != nil {
		next = &handle{e: e}
	}
	prev := p.engine.Swap(next)
	if prev == nil {
		return nil
	}
	return prev.e
}

func (p *Pipeline) Unbind() engine.Engine { return p.Bind(nil) }

func (p *Pipeline) Engine() engine.Engine {
	h := p.engine.Load()
	if h == nil {
		return nil
	}
	return h.e
}

func (p *Pipeline) Signals() *signal.Buffer { return p.signals }

// Output is the signal key aliased to the audio buffer.
func (p *Pipeline) Output() signal.Key { return p.output }

func (p *Pipeline) Stats() Stats {
	return Stats{
		Callbacks: p.callbacks.Load(),
		Silenced:  p.silenced.Load(),
		Overflows: p.overflows.Load(),
		Failures:  p.failures.Load(),
	}
}

// LastError returns the most recent engine failure, or nil.
func (p *Pipeline) LastError() *Failure { return p.lastErr.Load() }

// OnBuffer is the audio callback. samples holds the input on entry and the
// output on return. It never panics and never returns an error; failures are
// logged and recorded.
func (p *Pipeline) OnBuffer(samples []float64, rate int) {
	p.callbacks.Add(1)

	h := p.engine.Load()
	if h == nil {
		clear(samples)
		p.silenced.Add(1)
		return
	}

	applyGain(samples, p.settings.InputGain.Value())
	iterations := int(math.Round(p.settings.Iterations.Value()))

	err := p.signals.Process(len(samples), p.output, samples, func(m signal.Map) error {
		start := h.e.Sample()
		if err := p.invoke(h.e, samples, m, iterations); err != nil {
			return err
		}
		if p.vis != nil {
			p.vis.Display(start, len(samples), m, float64(rate))
		}
		return nil
	})
	if err != nil {
		p.fail(h, err)
		return
	}

	applyGain(samples, p.settings.OutputGain.Value())
}

func (p *Pipeline) invoke(e engine.Engine, samples []float64, m signal.Map, iterations int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return e.Process(p.input, samples, m, iterations)
}

// fail applies the recovery policy. Divergence resets the engine and keeps it
// bound; anything else unbinds it until an explicit rebuild. The unbind only
// succeeds if h is still current, so a concurrent rebuild is not undone.
func (p *Pipeline) fail(h *handle, err error) {
	kind := engine.Classify(err)
	p.lastErr.Store(&Failure{Err: err, Kind: kind, At: time.Now()})

	if kind == engine.KindOverflow {
		p.overflows.Add(1)
		p.log.Error("simulation diverged, resetting", slog.Any("error", err))
		rerr := reset(h.e)
		if rerr == nil {
			return
		}
		err = rerr
	}

	p.failures.Add(1)
	p.engine.CompareAndSwap(h, nil)
	p.log.Error("simulation stopped, rebuild required", slog.Any("error", err))
}

func reset(e engine.Engine) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: reset: %v", ErrPanic, r)
		}
	}()
	e.Reset()
	return nil
}

func applyGain(samples []float64, g float64) {
	if math.Abs(g-1) <= unityTolerance {
		return
	}
	for i := range samples {
		samples[i] *= g
	}
}
