package testutil

import (
	"fmt"

	"github.com/hupe1980/marlmesh/core"
)

// SpecBuilder provides a fluent helper for constructing environment specs in
// tests. Example:
//
//	spec := NewSpecBuilder().Agents("agent", 2, 3, 2).Agents("adversary", 1, 4, 5).Build()
//
// Agents are named "<type>_<i>".
type SpecBuilder struct {
	agents map[string]core.AgentSpec
	extras map[string]core.ArraySpec
}

// NewSpecBuilder creates an empty builder.
func NewSpecBuilder() *SpecBuilder {
	return &SpecBuilder{agents: map[string]core.AgentSpec{}}
}

// Agents adds n agents of kind with continuous actions (chainable).
func (b *SpecBuilder) Agents(kind string, n, obsDim, actDim int) *SpecBuilder {
	for i := range n {
		b.agents[fmt.Sprintf("%s_%d", kind, i)] = AgentSpec(obsDim, core.ArraySpec{
			Name:  "action",
			Shape: []int{actDim},
			DType: core.Float32,
		})
	}
	return b
}

// DiscreteAgents adds n agents of kind choosing among numActions actions
// (chainable).
func (b *SpecBuilder) DiscreteAgents(kind string, n, obsDim, numActions int) *SpecBuilder {
	for i := range n {
		b.agents[fmt.Sprintf("%s_%d", kind, i)] = AgentSpec(obsDim, core.ArraySpec{
			Name:      "action",
			DType:     core.Int64,
			NumValues: numActions,
		})
	}
	return b
}

// Extra declares an extra recorded with every transition (chainable).
func (b *SpecBuilder) Extra(key string, shape ...int) *SpecBuilder {
	if b.extras == nil {
		b.extras = map[string]core.ArraySpec{}
	}
	b.extras[key] = core.ArraySpec{Name: key, Shape: shape, DType: core.Float32}
	return b
}

// Build returns the spec.
func (b *SpecBuilder) Build() core.EnvironmentSpec {
	return core.EnvironmentSpec{Agents: b.agents, Extras: b.extras}.Clone()
}

// AgentSpec returns a spec with a float observation of obsDim elements,
// actions and scalar reward and discount.
func AgentSpec(obsDim int, actions core.ArraySpec) core.AgentSpec {
	return core.AgentSpec{
		Observations: core.ArraySpec{Name: "observation", Shape: []int{obsDim}, DType: core.Float32},
		Actions:      actions,
		Rewards:      core.ArraySpec{Name: "reward", DType: core.Float32},
		Discounts:    core.ArraySpec{Name: "discount", DType: core.Float32, Minimum: []float64{0}, Maximum: []float64{1}},
	}
}
