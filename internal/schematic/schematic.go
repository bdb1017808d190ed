// Package schematic is a minimal circuit graph with change notification. It
// stands in for an interactive editor: elements are added, removed and
// re-connected, and listeners observe each change.
package schematic

import (
	"errors"
	"fmt"
	"sync"
)

// Ground is the reference node name.
const Ground = "gnd"

const (
	KindInput     = "input"
	KindResistor  = "resistor"
	KindCapacitor = "capacitor"
	KindDiode     = "diode"
	KindProbe     = "probe"
)

var (
	ErrDuplicateID = errors.New("schematic: duplicate element id")
	ErrNotFound    = errors.New("schematic: element not found")
)

type Element struct {
	ID    string   `yaml:"id"`
	Kind  string   `yaml:"kind"`
	Nodes []string `yaml:"nodes,flow"`
	Value string   `yaml:"value,omitempty"`
	Color string   `yaml:"color,omitempty"`
}

func (e *Element) clone() *Element {
	c := *e
	c.Nodes = append([]string(nil), e.Nodes...)
	return &c
}

type EventKind int

const (
	Added EventKind = iota
	Removed
	LayoutChanged
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case LayoutChanged:
		return "layout-changed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

type Event struct {
	Kind    EventKind
	Element Element
}

type Schematic struct {
	Name string

	mu        sync.RWMutex
	elements  []*Element
	listeners map[int]func(Event)
	nextID    int
}

func New(name string) *Schematic {
	return &Schematic{Name: name, listeners: make(map[int]func(Event))}
}

// Subscribe registers fn for change events. Events are delivered on the
// goroutine that made the change, after the schematic lock is released.
func (s *Schematic) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Schematic) Add(e Element) error {
	s.mu.Lock()
	if s.indexLocked(e.ID) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	el := e.clone()
	s.elements = append(s.elements, el)
	ls := s.listenersLocked()
	s.mu.Unlock()

	notify(ls, Event{Kind: Added, Element: *el.clone()})
	return nil
}

func (s *Schematic) Remove(id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	el := s.elements[i]
	s.elements = append(s.elements[:i], s.elements[i+1:]...)
	ls := s.listenersLocked()
	s.mu.Unlock()

	notify(ls, Event{Kind: Removed, Element: *el})
	return nil
}

// Connect moves the terminals of element id onto nodes.
func (s *Schematic) Connect(id string, nodes ...string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.elements[i].Nodes = append([]string(nil), nodes...)
	el := s.elements[i].clone()
	ls := s.listenersLocked()
	s.mu.Unlock()

	notify(ls, Event{Kind: LayoutChanged, Element: *el})
	return nil
}

// Elements returns a copy of the element list in insertion order.
func (s *Schematic) Elements() []Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Element, len(s.elements))
	for i, e := range s.elements {
		out[i] = *e.clone()
	}
	return out
}

func (s *Schematic) Probes() []Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Element
	for _, e := range s.elements {
		if e.Kind == KindProbe {
			out = append(out, *e.clone())
		}
	}
	return out
}

// Clone returns a deep copy without listeners.
func (s *Schematic) Clone() *Schematic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := New(s.Name)
	for _, e := range s.elements {
		c.elements = append(c.elements, e.clone())
	}
	return c
}

func (s *Schematic) indexLocked(id string) int {
	for i, e := range s.elements {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Schematic) listenersLocked() []func(Event) {
	ls := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		ls = append(ls, fn)
	}
	return ls
}

func notify(ls []func(Event), ev Event) {
	for _, fn := range ls {
		fn(ev)
	}
}
