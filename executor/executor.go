// Package executor generates experience: it selects actions with the
// current policy parameters, steps environments and hands the resulting
// transitions to an adder.
package executor

import (
	"context"
	"fmt"
	"maps"

	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/logging"
	"github.com/hupe1980/marlmesh/variables"
)

// PolicyKey returns the variable name holding network's policy parameters.
func PolicyKey(network string) string { return network + "/policy" }

// Policy maps parameters and one agent's observation to an action. The
// network forward pass lives outside marlmesh.
type Policy interface {
	SelectAction(params variables.Variable, observation []float64) ([]float64, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(params variables.Variable, observation []float64) ([]float64, error)

// SelectAction calls f.
func (f PolicyFunc) SelectAction(params variables.Variable, observation []float64) ([]float64, error) {
	return f(params, observation)
}

// Options configures an Executor.
type Options struct {
	// Components contribute execution hooks.
	Components []callback.Component[*Executor]
	// Adder receives transitions; nil for evaluators.
	Adder core.Adder
	// VariableClient supplies policy parameters.
	VariableClient *variables.ExecutorClient
	// Evaluation marks an executor whose experience is not stored.
	Evaluation bool
	Logger     logging.Logger
}

// Executor holds one policy per network and the per-step state execution
// components read and write. It is used by a single goroutine.
type Executor struct {
	*core.LoggerAdapter

	// AgentNetKeys maps agent ids to network keys.
	AgentNetKeys map[string]string
	// Policies maps network keys to policies.
	Policies map[string]Policy
	// Adder receives transitions; nil when not recording.
	Adder core.Adder
	// VariableClient supplies policy parameters.
	VariableClient *variables.ExecutorClient
	// Evaluation is true for evaluators.
	Evaluation bool

	// TimeStep is the timestep being observed by ObserveFirst, or the
	// previous timestep during Observe.
	TimeStep core.TimeStep
	// NextTimeStep is the timestep resulting from Actions.
	NextTimeStep core.TimeStep
	// Observations are the inputs of SelectActions.
	Observations map[string][]float64
	// Actions are the selected or executed joint actions.
	Actions map[string][]float64
	// Extras accompany TimeStep; NextExtras accompany NextTimeStep.
	Extras     map[string][]float64
	NextExtras map[string][]float64
	// Wait requests a blocking parameter refresh during Update.
	Wait bool

	registry *callback.Registry[*Executor]
}

// New creates an executor. agentNetKeys assigns each agent a network and
// policies supplies each network's policy.
func New(agentNetKeys map[string]string, policies map[string]Policy, optFns ...func(o *Options)) (*Executor, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	for agent, net := range agentNetKeys {
		if _, ok := policies[net]; !ok {
			return nil, fmt.Errorf("agent %q uses network %q which has no policy", agent, net)
		}
	}

	logger := logging.OrNoOp(opts.Logger)
	registry, err := callback.NewRegistry(opts.Components, func(o *callback.Options) {
		o.Allowed = callback.ExecutionHooks
		o.Logger = logger
	})
	if err != nil {
		return nil, err
	}

	return &Executor{
		LoggerAdapter:  core.NewLoggerAdapter(logger),
		AgentNetKeys:   maps.Clone(agentNetKeys),
		Policies:       maps.Clone(policies),
		Adder:          opts.Adder,
		VariableClient: opts.VariableClient,
		Evaluation:     opts.Evaluation,
		registry:       registry,
	}, nil
}

// ObserveFirst records the first timestep of an episode.
func (e *Executor) ObserveFirst(ctx context.Context, ts core.TimeStep) error {
	e.TimeStep, e.Extras = ts, ts.Extras
	e.NextTimeStep, e.NextExtras, e.Actions = core.TimeStep{}, nil, nil
	return e.registry.Dispatch(ctx, callback.OnExecutionObserveFirst, e)
}

// Observe records the joint actions taken and the timestep they produced.
func (e *Executor) Observe(ctx context.Context, actions map[string][]float64, next core.TimeStep, nextExtras map[string][]float64) error {
	e.Actions, e.NextTimeStep, e.NextExtras = actions, next, nextExtras
	if err := e.registry.Dispatch(ctx, callback.OnExecutionObserve, e); err != nil {
		return err
	}
	e.TimeStep, e.Extras = next, nextExtras
	return nil
}

// SelectActions computes one action per agent from the cached policy
// parameters. Components hooked on select_actions may then rewrite Actions,
// for example to add exploration noise.
func (e *Executor) SelectActions(ctx context.Context, observations map[string][]float64) (map[string][]float64, error) {
	var params variables.Collection
	if e.VariableClient != nil {
		params = e.VariableClient.Variables()
	}

	e.Observations = observations
	e.Actions = make(map[string][]float64, len(observations))
	for agent, obs := range observations {
		net, ok := e.AgentNetKeys[agent]
		if !ok {
			return nil, fmt.Errorf("no network for agent %q", agent)
		}
		action, err := e.Policies[net].SelectAction(params[PolicyKey(net)], obs)
		if err != nil {
			return nil, fmt.Errorf("selecting action for %q: %w", agent, err)
		}
		e.Actions[agent] = action
	}

	if err := e.registry.Dispatch(ctx, callback.OnExecutionSelectActions, e); err != nil {
		return nil, err
	}
	return e.Actions, nil
}

// Update lets components refresh parameters. With wait set the refresh
// blocks until fresh parameters have arrived.
func (e *Executor) Update(ctx context.Context, wait bool) error {
	e.Wait = wait
	return e.registry.Dispatch(ctx, callback.OnExecutionUpdate, e)
}
