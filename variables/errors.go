package variables

import "errors"

var (
	// ErrUnknownVariable is returned when a request names a variable absent
	// from the collection. It indicates a wiring bug and is never retried.
	ErrUnknownVariable = errors.New("unknown variable")

	// ErrShapeMismatch is returned when a value's shape or arity does not
	// match the stored variable.
	ErrShapeMismatch = errors.New("variable shape mismatch")

	// ErrInvalidOperation is returned for operations a variable kind does not
	// support, such as adding to a parameter group.
	ErrInvalidOperation = errors.New("invalid variable operation")

	// ErrNoCheckpoint is returned when a run has no checkpoint to restore.
	ErrNoCheckpoint = errors.New("no checkpoint")

	// ErrCorruptCheckpoint is returned when a checkpoint fails its digest check.
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
)
