package building

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/config"
	"github.com/hupe1980/marlmesh/core"
)

// SystemSetup assigns agents to networks, networks to trainers and trainers
// to replay tables.
//
// With config.FixedAgentNetworks every agent gets the network
// "network_<agent>"; with config.SharedWeights agents of one type share
// "network_<type>". Config.AgentNetKeys overrides both. With
// config.SingleTrainer one trainer, "trainer_0", trains every network; with
// config.OneTrainerPerNetwork trainer "trainer_<i>" trains the i-th network
// in sorted order. Trainer "trainer_<i>" samples table
// "<replay.table_name>_<i>", which stores the agents of its networks.
type SystemSetup struct{}

// Name implements callback.Component.
func (SystemSetup) Name() string { return "system_setup" }

// Hooks implements callback.Component.
func (SystemSetup) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingInit: func(_ context.Context, c *builder.Context) error {
			netKeys, err := agentNetKeys(c.Config, c.AgentIDs)
			if err != nil {
				return err
			}
			c.AgentNetKeys = netKeys
			c.UniqueNetKeys = slices.Sorted(maps.Keys(setOf(slices.Collect(maps.Values(netKeys)))))

			c.TrainerNetworks = map[string][]string{}
			switch c.Config.TrainerTopology {
			case config.OneTrainerPerNetwork:
				for i, net := range c.UniqueNetKeys {
					c.TrainerNetworks[trainerID(i)] = []string{net}
				}
			default:
				c.TrainerNetworks[trainerID(0)] = slices.Clone(c.UniqueNetKeys)
			}

			c.TrainerTables = map[string]string{}
			c.TableNetworkConfig = map[string][]string{}
			for i := range len(c.TrainerNetworks) {
				id := trainerID(i)
				table := fmt.Sprintf("%s_%d", c.Config.Replay.TableName, i)
				agents := c.TrainerAgents(id)
				if len(agents) == 0 {
					return fmt.Errorf("%w: %s trains %v which no agent uses", ErrNetworkPartition, id, c.TrainerNetworks[id])
				}
				c.TrainerTables[id] = table
				c.TableNetworkConfig[table] = agents
			}

			c.LogDebug("system setup",
				"agents", len(c.AgentIDs),
				"networks", c.UniqueNetKeys,
				"trainers", len(c.TrainerNetworks),
			)
			return nil
		},
	}
}

func trainerID(i int) string { return fmt.Sprintf("trainer_%d", i) }

func setOf(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func agentNetKeys(cfg *config.Config, agents []string) (map[string]string, error) {
	out := make(map[string]string, len(agents))
	for _, agent := range agents {
		switch cfg.NetworkSampling {
		case config.SharedWeights:
			out[agent] = "network_" + core.AgentType(agent)
		default:
			out[agent] = "network_" + agent
		}
	}
	for agent, net := range cfg.AgentNetKeys {
		if _, ok := out[agent]; !ok {
			return nil, fmt.Errorf("%w: agent_net_keys names unknown agent %q", ErrNetworkPartition, agent)
		}
		if net == "" {
			return nil, fmt.Errorf("%w: agent %q has an empty network key", ErrNetworkPartition, agent)
		}
		out[agent] = net
	}
	return out, nil
}

// DiscreteToBounded rewrites discrete action specs as bounded one-hot specs
// with one element per value in [0, 1] before tables are built, so replay
// stores action distributions.
type DiscreteToBounded struct{}

// Name implements callback.Component.
func (DiscreteToBounded) Name() string { return "discrete_to_bounded" }

// Hooks implements callback.Component.
func (DiscreteToBounded) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingMakeReplayTableStart: func(_ context.Context, c *builder.Context) error {
			spec := c.EnvironmentSpec.Clone()
			for id, agent := range spec.Agents {
				agent.Actions = toBounded(agent.Actions)
				spec.Agents[id] = agent
			}
			c.EnvironmentSpec = spec
			return nil
		},
	}
}

func toBounded(s core.ArraySpec) core.ArraySpec {
	if !s.Discrete() {
		return s
	}
	n := s.NumValues
	return core.ArraySpec{
		Name:    s.Name,
		Shape:   []int{n},
		DType:   core.Float32,
		Minimum: make([]float64, n),
		Maximum: slices.Repeat([]float64{1}, n),
	}
}
