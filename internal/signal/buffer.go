// Package signal holds the sample buffers shared between the audio callback
// and the control side.
//
// A [Buffer] maps each probed [Key] to a backing sequence. The audio thread
// fills the sequences once per callback while holding the buffer lock; the
// control thread replaces the key set under the same lock. Sequences only ever
// grow so that steady-state callbacks do not allocate.
package signal

import (
	"sort"
	"sync"
)

// Key identifies one probed network quantity, e.g. "V(out)".
type Key string

// Map is the per-callback view handed to the engine and visualizer.
type Map map[Key][]float64

type Buffer struct {
	mu      sync.Mutex
	signals Map
}

func NewBuffer() *Buffer {
	return &Buffer{signals: make(Map)}
}

// Refresh replaces the key set. Every key starts with a zero-length sequence
// and is sized on first use. then, if non-nil, runs with the lock still held
// so observers of the key set switch over atomically with the buffer.
func (b *Buffer) Refresh(keys []Key, then func(Map)) {
	next := make(Map, len(keys))
	for _, k := range keys {
		next[k] = []float64{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = next
	if then != nil {
		then(b.signals)
	}
}

// Process sizes every sequence to at least n, aliases output to out and runs
// fn, all under the lock. The alias is re-established on every call; out must
// not be retained by fn beyond its return.
func (b *Buffer) Process(n int, output Key, out []float64, fn func(Map) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, s := range b.signals {
		if len(s) < n {
			b.signals[k] = make([]float64, n)
		}
	}
	if output != "" {
		b.signals[output] = out
	}
	return fn(b.signals)
}

// View runs fn with the current map under the lock.
func (b *Buffer) View(fn func(Map)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.signals)
}

func (b *Buffer) Keys() []Key {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]Key, 0, len(b.signals))
	for k := range b.signals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len reports the backing length for k, or -1 if k is not tracked.
func (b *Buffer) Len(k Key) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.signals[k]
	if !ok {
		return -1
	}
	return len(s)
}

// NodeKey returns the key used for the voltage at node.
func NodeKey(node string) Key { return Key("V(" + node + ")") }
