package building

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/hupe1980/marlmesh/artifact"
	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/executor"
	"github.com/hupe1980/marlmesh/internal/compress"
	"github.com/hupe1980/marlmesh/trainer"
	"github.com/hupe1980/marlmesh/variables"
)

// Counter variables every system keeps next to its network parameters.
const (
	TrainerStepsKey  = trainer.StepsKey
	ExecutorStepsKey = "executor_steps"
)

// VariableServer builds the variable server. The initial collection holds
// one "<network>/policy" entry per network plus the trainer and executor
// step counters. When checkpointing is enabled the server restores the
// run's latest checkpoint and persists every checkpoint.minute_interval.
type VariableServer struct {
	// Components are attached to the variable server.
	Components []callback.Component[*variables.ServerState]
	// Store overrides the checkpoint store selected by the config.
	Store core.ArtifactStore
}

// Name implements callback.Component.
func (VariableServer) Name() string { return "variable_server" }

// Hooks implements callback.Component.
func (v VariableServer) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingVariableServer: func(ctx context.Context, c *builder.Context) error {
			if len(c.Networks) == 0 {
				return fmt.Errorf("%w: networks", builder.ErrMissingArtifact)
			}
			initial := InitialVariables(c.Networks)

			components := slices.Clone(v.Components)
			if c.Config.MaxTrainerSteps > 0 {
				components = append(components, StopAfterTrainerSteps{Max: c.Config.MaxTrainerSteps})
			}

			cp := c.Config.Checkpoint
			var checkpointer *variables.Checkpointer
			if cp.Enabled {
				store := v.Store
				if store == nil {
					var err error
					if store, err = artifact.Open(ctx, cp.Store, cp.Path); err != nil {
						return err
					}
				}
				tag, err := compress.ParseTag(cp.Compression)
				if err != nil {
					return err
				}
				checkpointer = variables.NewCheckpointer(store, c.RunID, func(o *variables.CheckpointerOptions) {
					o.Compression = tag
					o.MaxToKeep = cp.MaxToKeep
					o.Logger = c.Logger
				})
			}

			srv, err := variables.NewServer(ctx, initial, func(o *variables.Options) {
				o.Components = components
				o.Checkpointer = checkpointer
				o.CheckpointInterval = time.Duration(cp.MinuteInterval) * time.Minute
				o.RestoreOnInit = checkpointer != nil
				o.Logger = c.Logger.WithComponent("variable_server")
			})
			if err != nil {
				return err
			}
			return c.SetVariableServer(srv)
		},
	}
}

// InitialVariables returns the collection a variable server starts from.
func InitialVariables(networks map[string]builder.Network) variables.Collection {
	vars := variables.Collection{
		TrainerStepsKey:  variables.Scalar(0),
		ExecutorStepsKey: variables.Scalar(0),
	}
	for net, n := range networks {
		vars[executor.PolicyKey(net)] = n.Parameters.Clone()
	}
	return vars
}

// StopAfterTrainerSteps ends the variable server loop once trainer_steps
// reaches Max.
type StopAfterTrainerSteps struct {
	Max int64
}

// Name implements callback.Component.
func (StopAfterTrainerSteps) Name() string { return "stop_after_trainer_steps" }

// Hooks implements callback.Component.
func (s StopAfterTrainerSteps) Hooks() callback.Hooks[*variables.ServerState] {
	return callback.Hooks[*variables.ServerState]{
		callback.OnVariablesRunServerLoopTermination: func(_ context.Context, st *variables.ServerState) error {
			v, ok := st.Variables[TrainerStepsKey]
			if ok && len(v.Tensor.Data) == 1 && int64(v.Tensor.Data[0]) >= s.Max {
				st.LogInfo("max trainer steps reached", "steps", int64(v.Tensor.Data[0]))
				st.Terminate = true
			}
			return nil
		},
	}
}

// policyKeys returns the sorted policy variable names of nets, skipping
// networks without parameters.
func policyKeys(networks map[string]builder.Network, nets []string) ([]string, error) {
	seen := map[string]bool{}
	var keys []string
	for _, net := range nets {
		if seen[net] {
			continue
		}
		seen[net] = true
		n, ok := networks[net]
		if !ok {
			return nil, fmt.Errorf("%w: unknown network %q", ErrNetworkPartition, net)
		}
		if n.Parameters.Placeholder() {
			continue
		}
		keys = append(keys, executor.PolicyKey(net))
	}
	slices.Sort(keys)
	return keys, nil
}

// ExecutorVariableClient builds the client an executor refreshes its policy
// parameters with, pulling every executor_variable_update_period steps.
type ExecutorVariableClient struct{}

// Name implements callback.Component.
func (ExecutorVariableClient) Name() string { return "executor_variable_client" }

// Hooks implements callback.Component.
func (ExecutorVariableClient) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingExecutorVariableClient: func(ctx context.Context, c *builder.Context) error {
			keys, err := policyKeys(c.Networks, slices.Collect(maps.Values(c.ExecutorNetworks)))
			if err != nil {
				return err
			}
			vc := variables.NewExecutorClient(c.VariableSource, keys, c.Config.ExecutorVariableUpdatePeriod,
				func(o *variables.ClientOptions) { o.Logger = c.Logger })
			// The first action must use the server's parameters, restored
			// checkpoints included.
			if err := vc.GetAndWait(ctx); err != nil {
				vc.Close()
				return fmt.Errorf("initial variable pull: %w", err)
			}
			return c.SetExecutorVariableClient(vc)
		},
	}
}

// TrainerVariableClient builds the client a trainer pushes the parameters
// of its networks with.
type TrainerVariableClient struct{}

// Name implements callback.Component.
func (TrainerVariableClient) Name() string { return "trainer_variable_client" }

// Hooks implements callback.Component.
func (TrainerVariableClient) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingTrainerVariableClient: func(_ context.Context, c *builder.Context) error {
			keys, err := policyKeys(c.Networks, c.TrainerNetworksSel)
			if err != nil {
				return err
			}
			vc := variables.NewTrainerClient(c.VariableSource, keys,
				func(o *variables.ClientOptions) { o.Logger = c.Logger.WithTrainer(c.TrainerID) })
			return c.SetTrainerVariableClient(vc)
		},
	}
}
