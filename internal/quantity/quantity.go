package quantity

import (
	"math"
	"sync"
	"sync/atomic"
)

type Unit int

const (
	None Unit = iota
	Hertz
	Seconds
	Volts
	Ohms
	Farads
	Bits
)

var unitSymbols = map[Unit]string{
	None:    "",
	Hertz:   "Hz",
	Seconds: "s",
	Volts:   "V",
	Ohms:    "Ω",
	Farads:  "F",
	Bits:    "bit",
}

func (u Unit) String() string { return unitSymbols[u] }

// Quantity is a unit-tagged scalar. The magnitude is stored as float64 bits so
// Value can be read from the audio thread without locking; Set and Subscribe
// are meant for the control thread.
type Quantity struct {
	unit Unit
	bits atomic.Uint64

	// setMu orders stores with their notifications
	setMu     sync.Mutex
	mu        sync.Mutex
	observers map[int]func(float64)
	nextID    int
}

func New(v float64, u Unit) *Quantity {
	q := &Quantity{unit: u, observers: make(map[int]func(float64))}
	q.bits.Store(math.Float64bits(v))
	return q
}

func (q *Quantity) Unit() Unit { return q.unit }

func (q *Quantity) Value() float64 { return math.Float64frombits(q.bits.Load()) }

// Set stores v and notifies observers if the magnitude changed. Concurrent
// calls are serialized, so observers see values in the order they were
// stored. An observer must not call Set on the same Quantity.
func (q *Quantity) Set(v float64) {
	q.setMu.Lock()
	defer q.setMu.Unlock()

	old := q.bits.Swap(math.Float64bits(v))
	if old == math.Float64bits(v) {
		return
	}

	q.mu.Lock()
	obs := make([]func(float64), 0, len(q.observers))
	for _, fn := range q.observers {
		obs = append(obs, fn)
	}
	q.mu.Unlock()

	for _, fn := range obs {
		fn(v)
	}
}

// Subscribe registers fn to run after every change. The returned func removes it.
func (q *Quantity) Subscribe(fn func(float64)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	q.observers[id] = fn
	return func() {
		q.mu.Lock()
		delete(q.observers, id)
		q.mu.Unlock()
	}
}

func (q *Quantity) String() string { return Format(q.Value(), q.unit) }
