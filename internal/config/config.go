package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSampleRate = 48000.0
	DefaultLatency    = 30e-3
	DefaultBitDepth   = 16
	DefaultGain       = 1.0
	DefaultOversample = 8
	DefaultIterations = 8
	DefaultInput      = "Vin"
	DefaultOutput     = "V(out)"
	DefaultCircuit    = "diode-clipper"
	DefaultBackend    = "portaudio"
	DefaultTone       = 220.0
)

type Config struct {
	Circuit    string  `yaml:"circuit"`
	SampleRate float64 `yaml:"sample_rate"`
	Latency    float64 `yaml:"latency"`
	BitDepth   int     `yaml:"bit_depth"`
	InputGain  float64 `yaml:"input_gain"`
	OutputGain float64 `yaml:"output_gain"`
	Oversample int     `yaml:"oversample"`
	Iterations int     `yaml:"iterations"`
	Method     string  `yaml:"method"`
	Input      string  `yaml:"input"`
	Output     string  `yaml:"output"`
	Backend    string  `yaml:"backend"`
	Tone       float64 `yaml:"tone"`
	CaptureDir string  `yaml:"capture_dir"`
}

func DefaultConfig() *Config {
	return &Config{
		Circuit:    DefaultCircuit,
		SampleRate: DefaultSampleRate,
		Latency:    DefaultLatency,
		BitDepth:   DefaultBitDepth,
		InputGain:  DefaultGain,
		OutputGain: DefaultGain,
		Oversample: DefaultOversample,
		Iterations: DefaultIterations,
		Method:     "euler",
		Input:      DefaultInput,
		Output:     DefaultOutput,
		Backend:    DefaultBackend,
		Tone:       DefaultTone,
		CaptureDir: ".livesim",
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %g", c.SampleRate)
	}
	if c.Latency <= 0 {
		return fmt.Errorf("latency must be positive, got %g", c.Latency)
	}
	switch c.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth %d", c.BitDepth)
	}
	if c.Oversample < 1 {
		return fmt.Errorf("oversample must be at least 1, got %d", c.Oversample)
	}
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
	}
	if c.Input == "" || c.Output == "" {
		return fmt.Errorf("input and output must be set")
	}
	return nil
}

// BufferFrames is the callback length implied by the latency.
func (c *Config) BufferFrames() int {
	n := int(math.Round(c.SampleRate * c.Latency))
	if n < 1 {
		n = 1
	}
	return n
}
