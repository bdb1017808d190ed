package config

import "sort"

// Presets trade accuracy for CPU per circuit.
var Presets = map[string]map[string]*Config{
	"diode-clipper": {
		"live": {
			Circuit: "diode-clipper", SampleRate: 48000, Latency: 30e-3, BitDepth: 16,
			Oversample: 8, Iterations: 8, Method: "euler",
		},
		"hifi": {
			Circuit: "diode-clipper", SampleRate: 96000, Latency: 50e-3, BitDepth: 24,
			Oversample: 16, Iterations: 32, Method: "trapezoidal",
		},
		"cheap": {
			Circuit: "diode-clipper", SampleRate: 44100, Latency: 20e-3, BitDepth: 16,
			Oversample: 2, Iterations: 4, Method: "euler",
		},
	},
	"rc-lowpass": {
		"live": {
			Circuit: "rc-lowpass", SampleRate: 48000, Latency: 10e-3, BitDepth: 16,
			Oversample: 1, Iterations: 1, Method: "trapezoidal",
		},
	},
}

// GetPreset returns a full config for model/name, with unset fields taken
// from DefaultConfig. It returns nil if the preset does not exist.
func GetPreset(circuit, name string) *Config {
	byName, ok := Presets[circuit]
	if !ok {
		return nil
	}
	p, ok := byName[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Circuit = p.Circuit
	cfg.SampleRate = p.SampleRate
	cfg.Latency = p.Latency
	cfg.BitDepth = p.BitDepth
	cfg.Oversample = p.Oversample
	cfg.Iterations = p.Iterations
	cfg.Method = p.Method
	return cfg
}

func ListPresets(circuit string) []string {
	byName, ok := Presets[circuit]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
