package schematic

import (
	"fmt"
	"sort"
)

var builtins = map[string]string{
	"rc-lowpass": `
name: rc-lowpass
elements:
  - {id: Vin, kind: input, nodes: [in, gnd]}
  - {id: R1, kind: resistor, nodes: [in, out], value: 1k}
  - {id: C1, kind: capacitor, nodes: [out, gnd], value: 100n}
  - {id: P1, kind: probe, nodes: [out], color: green}
  - {id: P2, kind: probe, nodes: [in], color: yellow}
`,
	"diode-clipper": `
name: diode-clipper
elements:
  - {id: Vin, kind: input, nodes: [in, gnd]}
  - {id: R1, kind: resistor, nodes: [in, out], value: 2.2k}
  - {id: C1, kind: capacitor, nodes: [out, gnd], value: 10n}
  - {id: D1, kind: diode, nodes: [out, gnd], value: 2.52n}
  - {id: D2, kind: diode, nodes: [gnd, out], value: 2.52n}
  - {id: P1, kind: probe, nodes: [out], color: red}
  - {id: P2, kind: probe, nodes: [in], color: blue}
`,
	"voltage-divider": `
name: voltage-divider
elements:
  - {id: Vin, kind: input, nodes: [in, gnd]}
  - {id: R1, kind: resistor, nodes: [in, out], value: 10k}
  - {id: R2, kind: resistor, nodes: [out, gnd], value: 10k}
  - {id: P1, kind: probe, nodes: [out], color: cyan}
`,
}

// Builtin returns a fresh copy of a named example circuit.
func Builtin(name string) (*Schematic, error) {
	src, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown circuit: %s", name)
	}
	return Parse([]byte(src))
}

func ListBuiltins() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
