package pipeline

import (
	"io"
	"log/slog"
	"sync"

	"github.com/san-kum/livesim/internal/signal"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeEngine writes value to every tracked signal unless passthrough is set,
// and fails with failOn[call] on the matching (1-based) call.
type fakeEngine struct {
	mu          sync.Mutex
	value       float64
	passthrough bool
	failOn      map[int]error
	panicOn     map[int]bool
	onProcess   func()
	calls       int
	resets      int
	sample      int64
}

func (f *fakeEngine) Process(input string, samples []float64, signals signal.Map, iterations int) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	hook := f.onProcess
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if f.panicOn[call] {
		panic("boom")
	}
	if err := f.failOn[call]; err != nil {
		return err
	}
	if !f.passthrough {
		for _, s := range signals {
			for i := range samples {
				s[i] = f.value
			}
		}
	}

	f.mu.Lock()
	f.sample += int64(len(samples))
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeEngine) Sample() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sample
}

func (f *fakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEngine) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

type displayCall struct {
	start int64
	n     int
	rate  float64
	keys  int
}

type fakeVisualizer struct {
	calls []displayCall
}

func (v *fakeVisualizer) Display(start int64, n int, signals signal.Map, rate float64) {
	v.calls = append(v.calls, displayCall{start: start, n: n, rate: rate, keys: len(signals)})
}
