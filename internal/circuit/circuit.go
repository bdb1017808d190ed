// Package circuit compiles a schematic into a flat, index-addressed network
// that the engine can stamp into a nodal matrix.
package circuit

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/san-kum/livesim/internal/quantity"
	"github.com/san-kum/livesim/internal/schematic"
	"github.com/san-kum/livesim/internal/signal"
)

// Ground is the index of the reference node.
const Ground = -1

var (
	ErrUnknownKind    = errors.New("circuit: unsupported component")
	ErrTerminals      = errors.New("circuit: wrong terminal count")
	ErrValue          = errors.New("circuit: invalid component value")
	ErrNoGround       = errors.New("circuit: no ground reference")
	ErrNoInput        = errors.New("circuit: no input source")
	ErrEmptySchematic = errors.New("circuit: empty schematic")
)

type Resistor struct {
	ID   string
	A, B int
	G    float64
}

type Capacitor struct {
	ID   string
	A, B int
	C    float64
}

// Diode conducts from Anode to Cathode following the Shockley equation.
type Diode struct {
	ID             string
	Anode, Cathode int
	Is             float64
	NVt            float64
}

// Source is an ideal voltage source driven by the audio input.
type Source struct {
	ID       string
	Pos, Neg int
}

type Circuit struct {
	Name       string
	Nodes      []string
	Resistors  []Resistor
	Capacitors []Capacitor
	Diodes     []Diode
	Sources    []Source

	nodeIndex map[string]int
	keyIndex  map[signal.Key]int
	grounded  bool
}

func (c *Circuit) Node(name string) (int, bool) {
	if name == schematic.Ground {
		return Ground, true
	}
	i, ok := c.nodeIndex[name]
	return i, ok
}

// NodeForKey resolves a node-voltage signal key.
func (c *Circuit) NodeForKey(k signal.Key) (int, bool) {
	if i, ok := c.keyIndex[k]; ok {
		return i, true
	}
	if k == signal.NodeKey(schematic.Ground) {
		return Ground, true
	}
	return 0, false
}

func (c *Circuit) Source(id string) (int, bool) {
	for i, s := range c.Sources {
		if s.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (c *Circuit) Nonlinear() bool { return len(c.Diodes) > 0 }

// Keys lists the node-voltage keys this circuit can produce.
func (c *Circuit) Keys() []signal.Key {
	keys := make([]signal.Key, len(c.Nodes))
	for i, n := range c.Nodes {
		keys[i] = signal.NodeKey(n)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (c *Circuit) node(name string) int {
	if name == schematic.Ground {
		c.grounded = true
		return Ground
	}
	if i, ok := c.nodeIndex[name]; ok {
		return i
	}
	i := len(c.Nodes)
	c.Nodes = append(c.Nodes, name)
	c.nodeIndex[name] = i
	c.keyIndex[signal.NodeKey(name)] = i
	return i
}

// Compile builds a Circuit from the elements of s. Probes are measurement
// points only and do not contribute to the network.
func Compile(s *schematic.Schematic) (*Circuit, error) {
	elements := s.Elements()
	if len(elements) == 0 {
		return nil, ErrEmptySchematic
	}

	c := &Circuit{Name: s.Name, nodeIndex: make(map[string]int), keyIndex: make(map[signal.Key]int)}
	for _, e := range elements {
		fn, ok := compilers[e.Kind]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownKind, "%s (%q)", e.ID, e.Kind)
		}
		if err := fn(c, e); err != nil {
			return nil, errors.Wrap(err, e.ID)
		}
	}

	if len(c.Sources) == 0 {
		return nil, ErrNoInput
	}
	if !c.grounded {
		return nil, ErrNoGround
	}
	return c, nil
}

func terminals(e schematic.Element, n int) error {
	if len(e.Nodes) != n {
		return errors.Wrapf(ErrTerminals, "%s needs %d, got %d", e.Kind, n, len(e.Nodes))
	}
	for _, name := range e.Nodes {
		if name == "" {
			return errors.Wrapf(ErrTerminals, "%s has an unconnected terminal", e.Kind)
		}
	}
	return nil
}

func positive(e schematic.Element, u quantity.Unit) (float64, error) {
	v, err := quantity.Parse(e.Value, u)
	if err != nil {
		return 0, errors.Wrap(ErrValue, err.Error())
	}
	if v <= 0 {
		return 0, errors.Wrapf(ErrValue, "%s must be positive, got %s", e.Kind, e.Value)
	}
	return v, nil
}
