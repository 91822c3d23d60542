package sparsegrid

import "errors"

var (
	// ErrConfig indicates grid capacities that cannot be built.
	ErrConfig = errors.New("sparsegrid: invalid configuration")

	// ErrStatsPending indicates a control readback is already in flight.
	ErrStatsPending = errors.New("sparsegrid: stats readback pending")
)
