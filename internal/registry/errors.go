package registry

import "errors"

// Domain errors for the registry package.
var (
	// ErrNotFound is returned when no toy has the requested id or name.
	ErrNotFound = errors.New("registry: toy not found")

	// ErrExists is returned when a toy with the same name is already known.
	ErrExists = errors.New("registry: toy already exists")

	// ErrInvalid is returned when a record fails validation.
	ErrInvalid = errors.New("registry: invalid toy")
)
