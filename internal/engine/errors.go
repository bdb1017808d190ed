package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrOverflow indicates the solution diverged (NaN, Inf or out of range).
	ErrOverflow = errors.New("engine: simulation diverged")

	// ErrSingular indicates the nodal matrix could not be factored.
	ErrSingular = errors.New("engine: singular circuit matrix")

	// ErrUnknownInput indicates Process was asked to drive a missing source.
	ErrUnknownInput = errors.New("engine: unknown input source")

	// ErrParameter indicates an invalid construction parameter.
	ErrParameter = errors.New("engine: parameter out of valid range")
)

// ProcessError wraps a failure with the sample at which it happened.
type ProcessError struct {
	Sample  int64
	Wrapped error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%v (sample %d)", e.Wrapped, e.Sample)
}

func (e *ProcessError) Unwrap() error {
	return e.Wrapped
}

type Kind int

const (
	KindNone Kind = iota
	KindOverflow
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindOverflow:
		return "overflow"
	}
	return "fatal"
}

// Classify reports how a Process error must be handled.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrOverflow):
		return KindOverflow
	}
	return KindFatal
}
