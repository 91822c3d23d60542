package compute

import "errors"

// Domain errors for device operations.
var (
	// ErrNoAdapter indicates no compatible device could be created.
	ErrNoAdapter = errors.New("compute: no compatible adapter")

	// ErrDeviceLost indicates the device is gone; the session must be rebuilt.
	ErrDeviceLost = errors.New("compute: device lost")

	// ErrMapPending indicates a map was requested on a buffer that is
	// already mapped or has a map in flight.
	ErrMapPending = errors.New("compute: buffer map already pending")

	// ErrNotMapped indicates mapped-range access on an unmapped buffer.
	ErrNotMapped = errors.New("compute: buffer not mapped")

	// ErrDestroyed indicates use of a destroyed resource.
	ErrDestroyed = errors.New("compute: resource destroyed")

	// ErrInvalidUsage indicates an operation the buffer usage does not allow.
	ErrInvalidUsage = errors.New("compute: invalid buffer usage")

	// ErrOutOfRange indicates an access outside a buffer or query set.
	ErrOutOfRange = errors.New("compute: access out of range")

	// ErrPassOpen indicates Finish was called while a pass was still recording.
	ErrPassOpen = errors.New("compute: pass still open")
)
