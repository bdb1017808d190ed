package schematic

import (
	"os"

	"gopkg.in/yaml.v3"
)

type netlist struct {
	Name     string    `yaml:"name"`
	Elements []Element `yaml:"elements"`
}

func Load(path string) (*Schematic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Schematic, error) {
	var nl netlist
	if err := yaml.Unmarshal(data, &nl); err != nil {
		return nil, err
	}
	s := New(nl.Name)
	for _, e := range nl.Elements {
		if err := s.Add(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func Save(path string, s *Schematic) error {
	data, err := yaml.Marshal(netlist{Name: s.Name, Elements: s.Elements()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
