package building

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/components/execution"
	"github.com/hupe1980/marlmesh/executor"
	"github.com/hupe1980/marlmesh/trainer"
)

// Executor builds the executor. The Observer and VariableUpdater execution
// components always run first, followed by Components. An executor built
// without an adder is an evaluator.
type Executor struct {
	Components []callback.Component[*executor.Executor]
}

// Name implements callback.Component.
func (Executor) Name() string { return "executor" }

// Hooks implements callback.Component.
func (e Executor) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingExecutor: func(_ context.Context, c *builder.Context) error {
			policies := make(map[string]executor.Policy)
			for agent, net := range c.ExecutorNetworks {
				n, ok := c.Networks[net]
				if !ok {
					return fmt.Errorf("%w: agent %q uses unknown network %q", ErrNetworkPartition, agent, net)
				}
				if n.Policy == nil {
					return fmt.Errorf("network %q has no policy", net)
				}
				policies[net] = n.Policy
			}

			components := append([]callback.Component[*executor.Executor]{
				execution.Observer{},
				execution.VariableUpdater{},
			}, e.Components...)

			ex, err := executor.New(c.ExecutorNetworks, policies, func(o *executor.Options) {
				o.Components = components
				o.Adder = c.ExecutorAdder
				o.VariableClient = c.ExecutorVariableClient()
				o.Evaluation = c.ExecutorAdder == nil
				o.Logger = c.Logger.WithComponent("executor")
			})
			if err != nil {
				return err
			}
			return c.SetExecutor(ex)
		},
	}
}

// LearnerFn creates the learner of the trainer being built. It can read the
// trainer id, its networks and the networks' parameters from the context.
type LearnerFn func(c *builder.Context) (trainer.Learner, error)

// Trainer builds a trainer around the learner LearnerFn returns.
type Trainer struct {
	LearnerFn LearnerFn
}

// Name implements callback.Component.
func (Trainer) Name() string { return "trainer" }

// Hooks implements callback.Component.
func (t Trainer) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingTrainer: func(_ context.Context, c *builder.Context) error {
			if t.LearnerFn == nil {
				return errors.New("trainer component requires a LearnerFn")
			}
			client := c.TrainerVariableClient()
			if client == nil {
				return fmt.Errorf("%w: %s", builder.ErrMissingArtifact, builder.ArtifactTrainerVariableClient)
			}
			for _, net := range c.TrainerNetworksSel {
				if !slices.Contains(c.UniqueNetKeys, net) {
					return fmt.Errorf("%w: %s trains unknown network %q", ErrNetworkPartition, c.TrainerID, net)
				}
			}
			learner, err := t.LearnerFn(c)
			if err != nil {
				return err
			}
			tr, err := trainer.New(c.TrainerID, c.Dataset(), client, learner, func(o *trainer.Options) {
				o.Logger = c.Logger
			})
			if err != nil {
				return err
			}
			return c.SetTrainer(tr)
		},
	}
}

// TrainerStatistics attaches a metrics store keeping the last Window values
// of every learner metric; zero keeps 100.
type TrainerStatistics struct {
	Window int
}

// Name implements callback.Component.
func (TrainerStatistics) Name() string { return "trainer_statistics" }

// Hooks implements callback.Component.
func (s TrainerStatistics) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingTrainerStatistics: func(_ context.Context, c *builder.Context) error {
			tr := c.Trainer()
			if tr == nil {
				return fmt.Errorf("%w: %s", builder.ErrMissingArtifact, builder.ArtifactTrainer)
			}
			stats := trainer.NewStatistics(s.Window)
			tr.UseStatistics(stats)
			return c.SetTrainerStatistics(stats)
		},
	}
}
