// Package engine defines the contract between the audio pipeline and a
// circuit simulation, and provides a nodal-analysis transient engine that
// satisfies it.
//
// An [Engine] advances the circuit by one time step per audio sample:
//
//	err := e.Process("Vin", samples, signals, iterations)
//
// samples holds the input on entry; every tracked key in signals whose node
// exists in the circuit is written for the same span, so aliasing the output
// key to samples produces the output in place.
//
// # Errors
//
// Failures are classified by [Classify]. [ErrOverflow] marks numerical
// divergence, which callers recover from with [Engine.Reset]. Every other
// error is fatal for the engine instance.
//
// # Thread Safety
//
// Engines are NOT thread-safe. Process and Reset must be called from a single
// goroutine, normally the audio callback.
package engine
