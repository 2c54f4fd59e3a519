package commitfit

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks observation data that cannot be modeled:
	// negative or non-integer counts, ragged rows, or a renewal period that
	// does not divide the observation length.
	ErrMalformedInput = errors.New("malformed input")

	// ErrInvalidConfig marks out-of-range model or sampler settings.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrOptimization is returned when the MAP search fails to converge or
	// lands on a non-finite density. Sampling never starts after it.
	ErrOptimization = errors.New("MAP optimization failed")

	// ErrNumericalInstability is returned when a log-density evaluates to NaN.
	// A density of -Inf is a rejection, not an error.
	ErrNumericalInstability = errors.New("numerical instability")
)

// InputError locates a malformed cell of the observation panel.
// Row and Col are zero-based data coordinates; -1 means "not applicable".
type InputError struct {
	Row    int
	Col    int
	Reason string
}

func (e *InputError) Error() string {
	switch {
	case e.Row >= 0 && e.Col >= 0:
		return fmt.Sprintf("malformed input at row %d, column %d: %s", e.Row, e.Col, e.Reason)
	case e.Row >= 0:
		return fmt.Sprintf("malformed input at row %d: %s", e.Row, e.Reason)
	default:
		return fmt.Sprintf("malformed input: %s", e.Reason)
	}
}

func (e *InputError) Unwrap() error {
	return ErrMalformedInput
}

// InstabilityError records where a NaN density showed up during sampling.
type InstabilityError struct {
	Chain int
	Draw  int
	Block string
}

func (e *InstabilityError) Error() string {
	return fmt.Sprintf("NaN log-density in chain %d at draw %d (%s)", e.Chain, e.Draw, e.Block)
}

func (e *InstabilityError) Unwrap() error {
	return ErrNumericalInstability
}
