package circuit

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/san-kum/livesim/internal/quantity"
	"github.com/san-kum/livesim/internal/schematic"
)

// thermal voltage at 300 K
const thermalVoltage = 25.85e-3

type compileFunc func(c *Circuit, e schematic.Element) error

var compilers = map[string]compileFunc{
	schematic.KindInput:     compileInput,
	schematic.KindResistor:  compileResistor,
	schematic.KindCapacitor: compileCapacitor,
	schematic.KindDiode:     compileDiode,
	schematic.KindProbe:     func(*Circuit, schematic.Element) error { return nil },
}

// Kinds lists the supported element kinds.
func Kinds() []string {
	kinds := make([]string, 0, len(compilers))
	for k := range compilers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func compileInput(c *Circuit, e schematic.Element) error {
	if err := terminals(e, 2); err != nil {
		return err
	}
	if _, dup := c.Source(e.ID); dup {
		return errors.Errorf("duplicate input %q", e.ID)
	}
	c.Sources = append(c.Sources, Source{ID: e.ID, Pos: c.node(e.Nodes[0]), Neg: c.node(e.Nodes[1])})
	return nil
}

func compileResistor(c *Circuit, e schematic.Element) error {
	if err := terminals(e, 2); err != nil {
		return err
	}
	r, err := positive(e, quantity.Ohms)
	if err != nil {
		return err
	}
	c.Resistors = append(c.Resistors, Resistor{ID: e.ID, A: c.node(e.Nodes[0]), B: c.node(e.Nodes[1]), G: 1 / r})
	return nil
}

func compileCapacitor(c *Circuit, e schematic.Element) error {
	if err := terminals(e, 2); err != nil {
		return err
	}
	f, err := positive(e, quantity.Farads)
	if err != nil {
		return err
	}
	c.Capacitors = append(c.Capacitors, Capacitor{ID: e.ID, A: c.node(e.Nodes[0]), B: c.node(e.Nodes[1]), C: f})
	return nil
}

// compileDiode reads the saturation current from Value, defaulting to a
// small-signal silicon diode.
func compileDiode(c *Circuit, e schematic.Element) error {
	if err := terminals(e, 2); err != nil {
		return err
	}
	is := 2.52e-9
	if e.Value != "" {
		v, err := positive(e, quantity.None)
		if err != nil {
			return err
		}
		is = v
	}
	c.Diodes = append(c.Diodes, Diode{
		ID:      e.ID,
		Anode:   c.node(e.Nodes[0]),
		Cathode: c.node(e.Nodes[1]),
		Is:      is,
		NVt:     1.752 * thermalVoltage,
	})
	return nil
}
