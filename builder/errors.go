package builder

import "errors"

var (
	// ErrMissingArtifact is returned when a phase ends without a component
	// producing an artifact the phase must return, or when a phase is called
	// without a required input.
	ErrMissingArtifact = errors.New("missing artifact")

	// ErrArtifactConflict is returned when two components write the same
	// artifact within one phase invocation and the second is not marked with
	// callback.Override.
	ErrArtifactConflict = errors.New("artifact conflict")

	// ErrArtifactPhase is returned when a component sets an artifact outside
	// the phase that produces it.
	ErrArtifactPhase = errors.New("artifact written outside its phase")
)
