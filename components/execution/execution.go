// Package execution provides the standard execution components of an
// executor.
package execution

import (
	"context"

	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/executor"
)

// Observer forwards observed timesteps to the executor's adder. Executors
// without an adder, such as evaluators, record nothing.
type Observer struct{}

// Name implements callback.Component.
func (Observer) Name() string { return "observer" }

// Hooks implements callback.Component.
func (Observer) Hooks() callback.Hooks[*executor.Executor] {
	return callback.Hooks[*executor.Executor]{
		callback.OnExecutionObserveFirst: func(ctx context.Context, e *executor.Executor) error {
			if e.Adder == nil {
				return nil
			}
			ts := e.TimeStep
			ts.Extras = e.Extras
			return e.Adder.AddFirst(ctx, ts)
		},
		callback.OnExecutionObserve: func(ctx context.Context, e *executor.Executor) error {
			if e.Adder == nil {
				return nil
			}
			return e.Adder.Add(ctx, e.Actions, e.NextTimeStep, e.NextExtras)
		},
	}
}

// VariableUpdater keeps the executor's parameters fresh: every observed
// step counts towards the client's update period, and a waiting update
// fetches synchronously.
type VariableUpdater struct{}

// Name implements callback.Component.
func (VariableUpdater) Name() string { return "variable_updater" }

// Hooks implements callback.Component.
func (VariableUpdater) Hooks() callback.Hooks[*executor.Executor] {
	return callback.Hooks[*executor.Executor]{
		callback.OnExecutionUpdate: func(ctx context.Context, e *executor.Executor) error {
			if e.VariableClient == nil {
				return nil
			}
			if e.Wait {
				return e.VariableClient.GetAndWait(ctx)
			}
			e.VariableClient.Observe()
			return nil
		},
	}
}
