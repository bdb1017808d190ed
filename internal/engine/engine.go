package engine

import "github.com/san-kum/livesim/internal/signal"

type Engine interface {
	// Process advances the simulation by len(samples) steps, driving input
	// from samples and writing every tracked signal.
	Process(input string, samples []float64, signals signal.Map, iterations int) error
	// Reset clears solver state after a divergence.
	Reset()
	// Sample is the index of the next sample to be processed.
	Sample() int64
}
