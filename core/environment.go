package core

import "context"

// StepType marks the position of a TimeStep in an episode.
type StepType uint8

const (
	StepFirst StepType = iota
	StepMid
	StepLast
)

// TimeStep is the joint per-agent bundle returned by an environment.
type TimeStep struct {
	StepType     StepType             `cbor:"step_type"`
	Observations map[string][]float64 `cbor:"observations"`
	Rewards      map[string]float64   `cbor:"rewards"`
	Discounts    map[string]float64   `cbor:"discounts"`
	Extras       map[string][]float64 `cbor:"extras,omitempty"`
}

// First reports whether ts starts an episode.
func (ts TimeStep) First() bool { return ts.StepType == StepFirst }

// Done reports whether ts ends an episode.
func (ts TimeStep) Done() bool { return ts.StepType == StepLast }

// Environment is a multi-agent environment. Implementations adapt external
// simulators; marlmesh only consumes this interface.
type Environment interface {
	Reset(ctx context.Context) (TimeStep, error)
	Step(ctx context.Context, actions map[string][]float64) (TimeStep, error)
	Spec() EnvironmentSpec
}

// Adder packages environment transitions into replay items.
type Adder interface {
	// AddFirst records the first timestep of an episode.
	AddFirst(ctx context.Context, ts TimeStep) error
	// Add records the actions taken and the resulting timestep. extras are
	// per-step values such as policy info; nil is allowed.
	Add(ctx context.Context, actions map[string][]float64, next TimeStep, extras map[string][]float64) error
	// Reset drops any partially built items.
	Reset()
}
