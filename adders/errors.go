package adders

import "errors"

var (
	// ErrNotStarted is returned by Add before AddFirst opened an episode.
	ErrNotStarted = errors.New("adder: Add called before AddFirst")

	// ErrIncompleteStep is returned when a timestep or action set lacks data
	// for an agent a table serves.
	ErrIncompleteStep = errors.New("adder: incomplete step")

	// ErrInvalidConfig is returned for impossible adder parameters.
	ErrInvalidConfig = errors.New("adder: invalid configuration")
)
