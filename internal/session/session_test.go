package session

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/san-kum/livesim/internal/build"
	"github.com/san-kum/livesim/internal/circuit"
	"github.com/san-kum/livesim/internal/config"
	"github.com/san-kum/livesim/internal/engine"
	"github.com/san-kum/livesim/internal/schematic"
	"github.com/san-kum/livesim/internal/signal"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backend = "offline"
	cfg.Latency = 5e-3
	cfg.Oversample = 2
	cfg.CaptureDir = t.TempDir()
	return cfg
}

func builtin(t *testing.T, name string) *schematic.Schematic {
	s, err := schematic.Builtin(name)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRender(t *testing.T) {
	s, err := New(testConfig(t), builtin(t, "diode-clipper"))
	if err != nil {
		t.Fatal(err)
	}

	var peak float64
	buffers := 0
	err = s.Render(20, func(out []float64) {
		buffers++
		for _, v := range out {
			peak = math.Max(peak, math.Abs(v))
		}
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if buffers != 20 {
		t.Errorf("expected 20 buffers, got %d", buffers)
	}
	if peak == 0 || peak > 1 {
		t.Errorf("expected clipped non-silent output, peak %f", peak)
	}
	if s.Pipeline().Engine() != nil {
		t.Error("engine should be unbound after render")
	}

	snap := s.Scope().Snapshot()
	if len(snap.Traces) != 2 {
		t.Fatalf("expected 2 traces, got %d", len(snap.Traces))
	}
	if snap.Traces[0].Key != signal.Key("V(out)") {
		t.Errorf("expected V(out) first, got %s", snap.Traces[0].Key)
	}
	if snap.Sample != 20*int64(testConfig(t).BufferFrames()) {
		t.Errorf("unexpected end sample %d", snap.Sample)
	}
}

func TestRenderUnknownInput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Input = "Vx"
	s, err := New(cfg, builtin(t, "rc-lowpass"))
	if err != nil {
		t.Fatal(err)
	}

	silent := true
	calls := 0
	err = s.Render(3, func(out []float64) {
		calls++
		if calls == 1 {
			return
		}
		for _, v := range out {
			if v != 0 {
				silent = false
			}
		}
	})
	if !errors.Is(err, engine.ErrUnknownInput) {
		t.Fatalf("expected ErrUnknownInput, got %v", err)
	}
	if !silent {
		t.Error("output after the failing buffer should be silent")
	}
	if st := s.Pipeline().Stats(); st.Failures != 1 || st.Silenced != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestOpenClose(t *testing.T) {
	s, err := New(testConfig(t), builtin(t, "rc-lowpass"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.Open(); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}

	waitCallbacks(t, s)

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if s.Pipeline().Engine() != nil {
		t.Error("engine should be unbound after close")
	}
	n := s.Pipeline().Stats().Callbacks
	time.Sleep(20 * time.Millisecond)
	if s.Pipeline().Stats().Callbacks != n {
		t.Error("callbacks ran after close")
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func waitCallbacks(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Pipeline().Stats().Callbacks == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Pipeline().Stats().Callbacks == 0 {
		t.Fatal("no callbacks within deadline")
	}
}

func TestOpenBuildFailureRunsSilent(t *testing.T) {
	sch := schematic.New("empty")
	s, err := New(testConfig(t), sch)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Open()
	var be *build.Error
	if !errors.As(err, &be) || be.Stage != build.StageCompile {
		t.Fatalf("expected compile-stage build error, got %v", err)
	}
	if !errors.Is(err, circuit.ErrEmptySchematic) {
		t.Errorf("expected ErrEmptySchematic, got %v", err)
	}
	defer s.Close()

	if s.Pipeline().Engine() != nil {
		t.Error("nothing should be bound")
	}
	waitCallbacks(t, s)
	if st := s.Pipeline().Stats(); st.Silenced != st.Callbacks {
		t.Errorf("device should run silent without an engine, stats %+v", st)
	}
	if s.Status().LastError == "" {
		t.Error("build error should be reported in the status")
	}

	for _, e := range []schematic.Element{
		{ID: "Vin", Kind: schematic.KindInput, Nodes: []string{"in", "gnd"}},
		{ID: "R1", Kind: schematic.KindResistor, Nodes: []string{"in", "out"}, Value: "1k"},
		{ID: "R2", Kind: schematic.KindResistor, Nodes: []string{"out", "gnd"}, Value: "1k"},
	} {
		if err := sch.Add(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Rebuild(); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if s.Pipeline().Engine() == nil {
		t.Error("rebuild should bind an engine")
	}
	if got := s.Status().LastError; got != "" {
		t.Errorf("status should clear after a good rebuild, got %q", got)
	}
}

func TestUnknownOutputRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output = "V(nope)"
	s, err := New(cfg, builtin(t, "voltage-divider"))
	if err != nil {
		t.Fatal(err)
	}
	err = s.Render(2, nil)
	if !errors.Is(err, build.ErrUnknownOutput) {
		t.Fatalf("expected ErrUnknownOutput, got %v", err)
	}
	if st := s.Pipeline().Stats(); st.Callbacks != 0 {
		t.Errorf("nothing should have been processed, stats %+v", st)
	}
}

func TestSampleRateFixedAfterNew(t *testing.T) {
	s, err := New(testConfig(t), builtin(t, "rc-lowpass"))
	if err != nil {
		t.Fatal(err)
	}
	s.Settings().SampleRate.Set(96000)

	if err := s.Render(2, nil); err != nil {
		t.Fatal(err)
	}
	if got := s.Scope().Snapshot().Rate; got != 48000 {
		t.Errorf("expected the device to keep 48 kHz, got %g", got)
	}
	if got := s.Status().Rate; got != "48 kHz" {
		t.Errorf("unexpected status rate %q", got)
	}
}

func TestRebuildKeepsEngineOnFailure(t *testing.T) {
	sch := builtin(t, "rc-lowpass")
	s, err := New(testConfig(t), sch)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	before := s.Pipeline().Engine()
	if err := sch.Add(schematic.Element{ID: "X1", Kind: "inductor", Nodes: []string{"out", "gnd"}, Value: "1m"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Rebuild(); err == nil {
		t.Fatal("expected rebuild to fail")
	}
	if s.Pipeline().Engine() != before {
		t.Error("failed rebuild replaced the engine")
	}

	if err := sch.Remove("X1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Rebuild(); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if s.Pipeline().Engine() == before {
		t.Error("rebuild did not publish a new engine")
	}
	if got := s.Status().Builds; got != 2 {
		t.Errorf("expected 2 builds, got %d", got)
	}
}

func TestOversampleChangeRebuilds(t *testing.T) {
	s, err := New(testConfig(t), builtin(t, "rc-lowpass"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.Settings().Oversample.Set(4)
	if got := s.Status().Builds; got != 2 {
		t.Errorf("expected rebuild on oversample change, builds %d", got)
	}
}

func TestProbeEditsRefreshSignals(t *testing.T) {
	sch := builtin(t, "voltage-divider")
	s, err := New(testConfig(t), sch)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := sch.Add(schematic.Element{ID: "P9", Kind: schematic.KindProbe, Nodes: []string{"in"}}); err != nil {
		t.Fatal(err)
	}
	if s.Pipeline().Signals().Len("V(in)") < 0 {
		t.Error("new probe was not added to the signal buffer")
	}
	if !s.Scope().Select("V(in)") {
		t.Error("new probe was not tracked by the scope")
	}
}

func TestCaptureAndGain(t *testing.T) {
	s, err := New(testConfig(t), builtin(t, "rc-lowpass"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Render(4, nil); err != nil {
		t.Fatal(err)
	}

	id, err := s.Capture()
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	meta, err := s.Store().Load(id)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Circuit != "rc-lowpass" || len(meta.Signals) != 2 {
		t.Errorf("unexpected capture %+v", meta)
	}

	s.ScaleGain(false, 2)
	s.ScaleGain(true, 0.5)
	st := s.Status()
	if st.OutputGain != 2 || st.InputGain != 0.5 {
		t.Errorf("unexpected gains in %v / out %v", st.InputGain, st.OutputGain)
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Oversample = 0
	if _, err := New(cfg, builtin(t, "rc-lowpass")); err == nil {
		t.Error("expected invalid config to be rejected")
	}
	cfg = testConfig(t)
	cfg.Method = "rk4"
	if _, err := New(cfg, builtin(t, "rc-lowpass")); err == nil {
		t.Error("expected unknown method to be rejected")
	}
}
