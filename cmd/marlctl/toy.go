package main

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hupe1980/marlmesh/adders"
	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/components/building"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/executor"
	"github.com/hupe1980/marlmesh/replay"
	"github.com/hupe1980/marlmesh/system"
	"github.com/hupe1980/marlmesh/trainer"
	"github.com/hupe1980/marlmesh/variables"
)

// toyNetworks gives every network a single bias vector that is played as
// the action, perturbed by gaussian noise and clipped to the action range:
// [-1, 1] for continuous actions, [0, 1] per value for discrete ones.
func toyNetworks(noise float64) system.NetworkFactory {
	return func(spec core.EnvironmentSpec, agentNetKeys map[string]string) (map[string]builder.Network, error) {
		out := make(map[string]builder.Network)
		for _, agent := range spec.AgentIDs() {
			net, ok := agentNetKeys[agent]
			if !ok {
				return nil, fmt.Errorf("no network for agent %q", agent)
			}
			if _, done := out[net]; done {
				continue
			}
			actions := spec.Agents[agent].Actions
			dim, lo := actions.Size(), -1.0
			if actions.Discrete() {
				dim, lo = actions.NumValues, 0
			}
			out[net] = builder.Network{
				Parameters: variables.GroupVariable(variables.Zeros(dim)),
				Policy:     noisyBias(noise, lo, 1),
			}
		}
		return out, nil
	}
}

func noisyBias(sigma, lo, hi float64) executor.Policy {
	return executor.PolicyFunc(func(params variables.Variable, _ []float64) ([]float64, error) {
		if len(params.Group) == 0 {
			return nil, fmt.Errorf("policy has no parameters")
		}
		action := slices.Clone(params.Group[0].Data)
		var dist *distuv.Normal
		if sigma > 0 {
			dist = &distuv.Normal{Mu: 0, Sigma: sigma}
		}
		for i := range action {
			if dist != nil {
				action[i] += dist.Rand()
			}
			action[i] = min(hi, max(lo, action[i]))
		}
		return action, nil
	})
}

// bestActionLearner moves each network a fraction rate of the way towards
// the highest rewarded action its agents took in the batch.
func bestActionLearner(rate float64) building.LearnerFn {
	return func(c *builder.Context) (trainer.Learner, error) {
		agents := c.TrainerAgents(c.TrainerID)
		netKeys := maps.Clone(c.AgentNetKeys)
		return trainer.LearnerFunc(func(_ context.Context, batch replay.Batch, params variables.Collection) (variables.Collection, map[string]float64, error) {
			var rewards []float64
			for _, agent := range agents {
				v, ok := params[executor.PolicyKey(netKeys[agent])]
				if !ok || v.Placeholder() {
					continue
				}
				actions := batch.Field(adders.ActionsPrefix + agent)
				returns := batch.Field(adders.RewardsPrefix + agent)
				best := -1
				for i, r := range returns {
					if len(r) == 0 {
						continue
					}
					rewards = append(rewards, r[0])
					if best < 0 || r[0] > returns[best][0] {
						best = i
					}
				}
				if best < 0 {
					continue
				}
				bias := v.Group[0].Data
				if len(actions[best]) != len(bias) {
					return nil, nil, fmt.Errorf("agent %q: action size %d, parameters %d", agent, len(actions[best]), len(bias))
				}
				step := make([]float64, len(bias))
				floats.SubTo(step, actions[best], bias)
				floats.AddScaled(bias, rate, step)
			}

			metrics := map[string]float64{"batch_size": float64(batch.Len())}
			if len(rewards) > 0 {
				metrics["mean_return"] = stat.Mean(rewards, nil)
			}
			return params, metrics, nil
		}), nil
	}
}
