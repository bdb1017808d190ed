// Package audio connects the pipeline callback to a sound device.
//
// Every backend calls the Callback with a mono float64 buffer that holds the
// input samples and must hold the output samples when the callback returns.
// Buffer length may change from call to call.
package audio

import (
	"fmt"
	"math"
)

type Callback func(samples []float64, rate int)

type Device interface {
	Start() error
	// Close stops the device. No callback runs after Close returns.
	Close() error
}

type Options struct {
	Rate     int
	Frames   int
	BitDepth int
	// Source feeds output-only backends in place of a capture device.
	Source Generator
}

// Open returns the named backend: portaudio, oto or offline.
func Open(backend string, opts Options, cb Callback) (Device, error) {
	if opts.Rate <= 0 || opts.Frames <= 0 {
		return nil, fmt.Errorf("audio: invalid rate %d or frames %d", opts.Rate, opts.Frames)
	}
	switch backend {
	case "portaudio":
		return NewPortAudio(opts, cb), nil
	case "oto":
		return NewOto(opts, cb), nil
	case "offline":
		return NewOffline(opts, cb), nil
	}
	return nil, fmt.Errorf("audio: unknown backend %q", backend)
}

// Quantize rounds v to the resolution of a signed bits-wide sample and clips
// it to [-1, 1).
func Quantize(v float64, bits int) float64 {
	if bits <= 0 || bits >= 32 {
		return clip(v)
	}
	levels := float64(int64(1) << (bits - 1))
	q := math.Round(clip(v)*levels) / levels
	if q > (levels-1)/levels {
		q = (levels - 1) / levels
	}
	return q
}

func clip(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	case v < -1:
		return -1
	}
	return v
}
