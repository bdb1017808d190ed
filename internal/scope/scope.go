// Package scope is the oscilloscope side of the pipeline: it keeps a rolling
// history for each displayed trace and renders it in the terminal.
package scope

import (
	"errors"
	"math"
	"math/cmplx"
	"sort"
	"sync"

	"github.com/mjibson/go-dsp/fft"

	"github.com/san-kum/livesim/internal/signal"
)

const DefaultCapacity = 4096

var ErrNoTrace = errors.New("scope: no such trace")

type Trace struct {
	Key   signal.Key
	Color string
	Order int

	history []float64
	head    int
	filled  bool
}

func (t *Trace) push(v float64) {
	t.history[t.head] = v
	t.head++
	if t.head == len(t.history) {
		t.head = 0
		t.filled = true
	}
}

// samples returns the history oldest first.
func (t *Trace) samples() []float64 {
	if !t.filled {
		return append([]float64(nil), t.history[:t.head]...)
	}
	out := make([]float64, 0, len(t.history))
	out = append(out, t.history[t.head:]...)
	return append(out, t.history[:t.head]...)
}

type Scope struct {
	mu       sync.Mutex
	traces   map[signal.Key]*Trace
	next     int
	selected signal.Key
	capacity int
	sample   int64
	rate     float64
	frames   uint64
}

func New(capacity int) *Scope {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Scope{traces: make(map[signal.Key]*Trace), capacity: capacity}
}

// Retain drops traces whose key is not in keep. The selection is cleared if
// its trace goes away.
func (s *Scope) Retain(keep map[signal.Key]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.traces {
		if _, ok := keep[k]; !ok {
			delete(s.traces, k)
		}
	}
	if _, ok := s.traces[s.selected]; !ok {
		s.selected = ""
	}
}

// Track adds a trace for key. A trace that already exists keeps its color,
// order and history.
func (s *Scope) Track(key signal.Key, color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.traces[key]; ok {
		return
	}
	if color == "" {
		color = palette[s.next%len(palette)]
	}
	s.traces[key] = &Trace{Key: key, Color: color, Order: s.next, history: make([]float64, s.capacity)}
	s.next++
	if s.selected == "" {
		s.selected = key
	}
}

// Display appends the first n samples of every displayed signal. It is called
// from the audio thread with the signal buffer locked.
func (s *Scope) Display(start int64, n int, signals signal.Map, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.traces {
		src, ok := signals[k]
		if !ok || len(src) < n {
			continue
		}
		for _, v := range src[:n] {
			t.push(v)
		}
	}
	s.sample = start + int64(n)
	s.rate = rate
	s.frames++
}

func (s *Scope) Select(key signal.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.traces[key]; !ok {
		return false
	}
	s.selected = key
	return true
}

func (s *Scope) Selected() signal.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SelectNext cycles the selection in display order.
func (s *Scope) SelectNext() signal.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := s.orderedLocked()
	if len(ordered) == 0 {
		return ""
	}
	idx := 0
	for i, t := range ordered {
		if t.Key == s.selected {
			idx = (i + 1) % len(ordered)
			break
		}
	}
	s.selected = ordered[idx].Key
	return s.selected
}

func (s *Scope) orderedLocked() []*Trace {
	out := make([]*Trace, 0, len(s.traces))
	for _, t := range s.traces {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

type TraceSnapshot struct {
	Key     signal.Key
	Color   string
	Order   int
	Samples []float64
}

type Snapshot struct {
	Sample   int64
	Rate     float64
	Frames   uint64
	Selected signal.Key
	Traces   []TraceSnapshot
}

// Snapshot copies the current traces in display order.
func (s *Scope) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Sample: s.sample, Rate: s.rate, Frames: s.frames, Selected: s.selected}
	for _, t := range s.orderedLocked() {
		snap.Traces = append(snap.Traces, TraceSnapshot{Key: t.Key, Color: t.Color, Order: t.Order, Samples: t.samples()})
	}
	return snap
}

// Spectrum returns the magnitude spectrum of the most recent power-of-two
// window of key, Hann-windowed, along with the bin width in Hz.
func (s *Scope) Spectrum(key signal.Key) ([]float64, float64, error) {
	s.mu.Lock()
	t, ok := s.traces[key]
	if !ok {
		s.mu.Unlock()
		return nil, 0, ErrNoTrace
	}
	data := t.samples()
	rate := s.rate
	s.mu.Unlock()

	n := 1
	for n*2 <= len(data) {
		n *= 2
	}
	if n < 2 {
		return nil, 0, nil
	}
	window := data[len(data)-n:]
	x := make([]float64, n)
	for i, v := range window {
		x[i] = v * 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	bins := fft.FFTReal(x)
	mag := make([]float64, n/2)
	for i := range mag {
		mag[i] = cmplx.Abs(bins[i]) * 2 / float64(n)
	}
	return mag, rate / float64(n), nil
}

// Stats summarizes one trace.
type Stats struct {
	Peak float64
	RMS  float64
}

func Measure(samples []float64) Stats {
	var st Stats
	if len(samples) == 0 {
		return st
	}
	sum := 0.0
	for _, v := range samples {
		st.Peak = math.Max(st.Peak, math.Abs(v))
		sum += v * v
	}
	st.RMS = math.Sqrt(sum / float64(len(samples)))
	return st
}
