package automation

import "errors"

// Domain errors, checked with errors.Is.
var (
	// ErrNotFound is returned when no routine or run has the identifier.
	ErrNotFound = errors.New("routine: not found")

	// ErrExists is returned when a routine name is taken.
	ErrExists = errors.New("routine: already exists")

	// ErrDisabled is returned when running a disabled routine.
	ErrDisabled = errors.New("routine: disabled")

	// ErrInvalid is returned when a routine fails validation.
	ErrInvalid = errors.New("routine: invalid")

	// ErrInvalidStep is returned when one step fails validation.
	ErrInvalidStep = errors.New("routine: invalid step")
)
