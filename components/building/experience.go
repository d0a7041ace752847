package building

import (
	"context"
	"fmt"

	"github.com/hupe1980/marlmesh/adders"
	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/replay"
)

// DatasetIterator builds a prefetching dataset over the requested table
// with the configured batch and prefetch sizes.
type DatasetIterator struct{}

// Name implements callback.Component.
func (DatasetIterator) Name() string { return "dataset_iterator" }

// Hooks implements callback.Component.
func (DatasetIterator) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingDataset: func(_ context.Context, c *builder.Context) error {
			r := c.Config.Replay
			ds := replay.NewDataset(c.ReplayClient, c.TableName, func(o *replay.DatasetOptions) {
				o.BatchSize = r.BatchSize
				o.PrefetchSize = r.PrefetchSize
				o.Logger = c.Logger
			})
			return c.SetDataset(ds)
		},
	}
}

// UniformAdderPriority inserts every item with priority 1.
type UniformAdderPriority struct{}

// Name implements callback.Component.
func (UniformAdderPriority) Name() string { return "adder_priority" }

// Hooks implements callback.Component.
func (UniformAdderPriority) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingAdderPriority: func(_ context.Context, c *builder.Context) error {
			p := adders.Priorities{}
			for table := range c.TableNetworkConfig {
				p[table] = adders.Uniform
			}
			return c.SetAdderPriority(p)
		},
	}
}

// ParallelNStepTransitionAdder installs an n-step transition adder writing
// each agent's data to its trainer's table.
type ParallelNStepTransitionAdder struct{}

// Name implements callback.Component.
func (ParallelNStepTransitionAdder) Name() string { return "adder" }

// Hooks implements callback.Component.
func (ParallelNStepTransitionAdder) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingMakeAdder: func(_ context.Context, c *builder.Context) error {
			if c.ReplayClient == nil {
				return fmt.Errorf("%w: replay client", builder.ErrMissingArtifact)
			}
			a, err := adders.NewParallelNStepTransitionAdder(c.ReplayClient, c.TableNetworkConfig, func(o *adders.TransitionOptions) {
				o.NStep = c.Config.Replay.NStep
				o.Discount = c.Config.Discount
				o.Priorities = c.AdderPriority()
				o.Logger = c.Logger
			})
			if err != nil {
				return err
			}
			return c.SetAdder(a)
		},
	}
}

// ParallelSequenceAdder installs a sequence adder writing each agent's data
// to its trainer's table.
type ParallelSequenceAdder struct{}

// Name implements callback.Component.
func (ParallelSequenceAdder) Name() string { return "adder" }

// Hooks implements callback.Component.
func (ParallelSequenceAdder) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingMakeAdder: func(_ context.Context, c *builder.Context) error {
			if c.ReplayClient == nil {
				return fmt.Errorf("%w: replay client", builder.ErrMissingArtifact)
			}
			a, err := adders.NewParallelSequenceAdder(c.ReplayClient, c.TableNetworkConfig, func(o *adders.SequenceOptions) {
				o.SequenceLength = c.Config.Replay.SequenceLength
				o.Period = c.Config.Replay.Period
				o.Priorities = c.AdderPriority()
				o.Logger = c.Logger
			})
			if err != nil {
				return err
			}
			return c.SetAdder(a)
		},
	}
}
