package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrEntityNotFound) {
//	    // handle not found case
//	}
var (
	// ErrEntityNotFound is returned when no entity exists for a key.
	ErrEntityNotFound = errors.New("device: entity not found")

	// ErrEntityExists is returned when creating an entity whose key is taken.
	ErrEntityExists = errors.New("device: entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation.
	ErrInvalidEntity = errors.New("device: invalid entity")
)
