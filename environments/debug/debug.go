// Package debug provides a small deterministic multi-agent environment for
// examples and tests.
//
// Every agent observes a target vector and is rewarded for acting close to
// it: r = -mean(|a - target|). Targets are redrawn every step from a seeded
// source, and episodes last a fixed number of steps.
package debug

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/hupe1980/marlmesh/core"
)

// Options configures an Environment.
type Options struct {
	NumAgents      int
	ObservationDim int
	ActionDim      int
	EpisodeLength  int
	Seed           uint64
	// Discrete makes actions categorical over ActionDim values, given as an
	// index or as a one-hot vector.
	Discrete bool
}

// Environment is the debug environment. It is not safe for concurrent use.
type Environment struct {
	opts   Options
	spec   core.EnvironmentSpec
	agents []string
	rng    *rand.Rand
	step   int
	target map[string][]float64
}

var _ core.Environment = (*Environment)(nil)

// New creates a debug environment.
func New(optFns ...func(o *Options)) *Environment {
	opts := Options{NumAgents: 2, ObservationDim: 2, ActionDim: 2, EpisodeLength: 10, Seed: 1}
	for _, fn := range optFns {
		fn(&opts)
	}

	spec := core.EnvironmentSpec{Agents: make(map[string]core.AgentSpec, opts.NumAgents)}
	for i := range opts.NumAgents {
		spec.Agents[fmt.Sprintf("agent_%d", i)] = agentSpec(opts)
	}

	return &Environment{
		opts:   opts,
		spec:   spec,
		agents: spec.AgentIDs(),
		rng:    rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
}

func agentSpec(o Options) core.AgentSpec {
	actions := core.ArraySpec{Name: "actions", Shape: []int{o.ActionDim}, DType: core.Float32,
		Minimum: fill(o.ActionDim, -1), Maximum: fill(o.ActionDim, 1)}
	if o.Discrete {
		actions = core.ArraySpec{Name: "actions", DType: core.Int64, NumValues: o.ActionDim}
	}
	return core.AgentSpec{
		Observations: core.ArraySpec{Name: "observations", Shape: []int{o.ObservationDim}, DType: core.Float32},
		Actions:      actions,
		Rewards:      core.ArraySpec{Name: "reward", DType: core.Float32},
		Discounts:    core.ArraySpec{Name: "discount", DType: core.Float32, Minimum: []float64{0}, Maximum: []float64{1}},
	}
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Spec returns the environment spec.
func (e *Environment) Spec() core.EnvironmentSpec { return e.spec.Clone() }

// Reset starts a new episode.
func (e *Environment) Reset(ctx context.Context) (core.TimeStep, error) {
	if err := ctx.Err(); err != nil {
		return core.TimeStep{}, err
	}
	e.step = 0
	e.draw()
	return core.TimeStep{
		StepType:     core.StepFirst,
		Observations: e.observations(),
		Rewards:      e.uniform(0),
		Discounts:    e.uniform(1),
	}, nil
}

// Step applies the joint action.
func (e *Environment) Step(ctx context.Context, actions map[string][]float64) (core.TimeStep, error) {
	if err := ctx.Err(); err != nil {
		return core.TimeStep{}, err
	}
	if e.target == nil {
		return core.TimeStep{}, fmt.Errorf("debug environment: Step before Reset")
	}

	rewards := make(map[string]float64, len(e.agents))
	for _, id := range e.agents {
		a, ok := actions[id]
		if !ok {
			return core.TimeStep{}, fmt.Errorf("debug environment: no action for %q", id)
		}
		rewards[id] = e.reward(id, a)
	}

	e.step++
	e.draw()
	ts := core.TimeStep{
		StepType:     core.StepMid,
		Observations: e.observations(),
		Rewards:      rewards,
		Discounts:    e.uniform(1),
	}
	if e.step >= e.opts.EpisodeLength {
		ts.StepType = core.StepLast
		ts.Discounts = e.uniform(0)
		e.target = nil
	}
	return ts, nil
}

func (e *Environment) reward(id string, action []float64) float64 {
	target := e.target[id]
	if e.opts.Discrete {
		best := 0
		for i, v := range target {
			if v > target[best] {
				best = i
			}
		}
		if argmax(action, len(target)) == best {
			return 1
		}
		return 0
	}
	var sum float64
	for i, t := range target {
		if i < len(action) {
			sum += math.Abs(action[i] - t)
		} else {
			sum += math.Abs(t)
		}
	}
	return -sum / float64(len(target))
}

// argmax reads a discrete action given either as an index or as a one-hot
// (or probability) vector over n values.
func argmax(action []float64, n int) int {
	if len(action) == 1 && n > 1 {
		return int(action[0])
	}
	best := -1
	for i, v := range action {
		if best < 0 || v > action[best] {
			best = i
		}
	}
	return best
}

func (e *Environment) draw() {
	e.target = make(map[string][]float64, len(e.agents))
	for _, id := range e.agents {
		t := make([]float64, e.opts.ActionDim)
		for i := range t {
			t[i] = e.rng.Float64()*2 - 1
		}
		e.target[id] = t
	}
}

// observations exposes each target, truncated or zero padded to the
// observation size.
func (e *Environment) observations() map[string][]float64 {
	out := make(map[string][]float64, len(e.agents))
	for _, id := range e.agents {
		obs := make([]float64, e.opts.ObservationDim)
		copy(obs, e.target[id])
		out[id] = obs
	}
	return out
}

func (e *Environment) uniform(v float64) map[string]float64 {
	out := make(map[string]float64, len(e.agents))
	for _, id := range e.agents {
		out[id] = v
	}
	return out
}
