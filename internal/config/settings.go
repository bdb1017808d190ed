package config

import "github.com/san-kum/livesim/internal/quantity"

// Settings are the live, observable values the pipeline and build
// coordinator read. SampleRate and BitDepth are fixed once an audio device
// has been opened with them.
type Settings struct {
	SampleRate *quantity.Quantity
	Latency    *quantity.Quantity
	BitDepth   *quantity.Quantity
	InputGain  *quantity.Quantity
	OutputGain *quantity.Quantity
	Oversample *quantity.Quantity
	Iterations *quantity.Quantity
}

func (c *Config) Settings() *Settings {
	return &Settings{
		SampleRate: quantity.New(c.SampleRate, quantity.Hertz),
		Latency:    quantity.New(c.Latency, quantity.Seconds),
		BitDepth:   quantity.New(float64(c.BitDepth), quantity.Bits),
		InputGain:  quantity.New(c.InputGain, quantity.None),
		OutputGain: quantity.New(c.OutputGain, quantity.None),
		Oversample: quantity.New(float64(c.Oversample), quantity.None),
		Iterations: quantity.New(float64(c.Iterations), quantity.None),
	}
}

func DefaultSettings() *Settings { return DefaultConfig().Settings() }
