// Package build turns the current schematic into a running engine and
// publishes it to the pipeline.
package build

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/san-kum/livesim/internal/circuit"
	"github.com/san-kum/livesim/internal/config"
	"github.com/san-kum/livesim/internal/engine"
	"github.com/san-kum/livesim/internal/schematic"
	"github.com/san-kum/livesim/internal/signal"
)

// ErrUnknownOutput means the output signal names no node of the circuit.
var ErrUnknownOutput = errors.New("build: output signal is not a circuit node")

type Stage string

const (
	StageCompile   Stage = "compile"
	StageConstruct Stage = "construct"
)

// Error reports a failed build. The previously bound engine is untouched.
type Error struct {
	Stage   Stage
	Wrapped error
}

func (e *Error) Error() string { return fmt.Sprintf("build: %s: %v", e.Stage, e.Wrapped) }

func (e *Error) Unwrap() error { return e.Wrapped }

// Binder publishes an engine to the audio thread. Output is the signal the
// audio thread plays back.
type Binder interface {
	Bind(e engine.Engine) engine.Engine
	Output() signal.Key
}

type Coordinator struct {
	binder   Binder
	settings *config.Settings
	method   engine.Method
	rate     float64
	log      *slog.Logger

	mu     sync.Mutex
	builds atomic.Uint64
}

func New(binder Binder, settings *config.Settings, method engine.Method, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		binder:   binder,
		settings: settings,
		method:   method,
		rate:     settings.SampleRate.Value(),
		log:      log.With(slog.String("component", "build")),
	}
}

// Rate is the sample rate every engine is built for. It is read from the
// settings once, in New; later changes to the setting do not apply.
func (c *Coordinator) Rate() float64 { return c.rate }

// Build compiles s and constructs an engine at Rate and the current
// oversampling, then binds it with a single atomic swap. The output signal
// must name a node of the circuit. Compilation runs without any lock the
// audio thread takes. Concurrent builds are serialized.
func (c *Coordinator) Build(s *schematic.Schematic) (engine.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	began := time.Now()
	circ, err := circuit.Compile(s)
	if err != nil {
		c.log.Error("build failed", slog.String("stage", string(StageCompile)), slog.Any("error", err))
		return nil, &Error{Stage: StageCompile, Wrapped: err}
	}
	if out := c.binder.Output(); out != "" {
		if _, ok := circ.NodeForKey(out); !ok {
			err := fmt.Errorf("%w: %s", ErrUnknownOutput, out)
			c.log.Error("build failed", slog.String("stage", string(StageCompile)), slog.Any("error", err))
			return nil, &Error{Stage: StageCompile, Wrapped: err}
		}
	}

	rate := c.rate
	over := int(math.Round(c.settings.Oversample.Value()))
	e, err := engine.New(circ, rate, over, c.method)
	if err != nil {
		c.log.Error("build failed", slog.String("stage", string(StageConstruct)), slog.Any("error", err))
		return nil, &Error{Stage: StageConstruct, Wrapped: err}
	}

	c.binder.Bind(e)
	n := c.builds.Add(1)
	c.log.Info("circuit built",
		slog.String("circuit", circ.Name),
		slog.Int("nodes", len(circ.Nodes)),
		slog.Float64("rate", rate),
		slog.Int("oversample", over),
		slog.Uint64("generation", n),
		slog.Duration("duration", time.Since(began)))
	return e, nil
}

// Builds is the number of engines published so far.
func (c *Coordinator) Builds() uint64 { return c.builds.Load() }
