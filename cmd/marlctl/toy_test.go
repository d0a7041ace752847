package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/replay"
	"github.com/hupe1980/marlmesh/variables"
)

func TestToyNetworksFollowActionSpec(t *testing.T) {
	spec := debugSpec(t, false)
	nets, err := toyNetworks(0)(spec, map[string]string{"agent_0": "net_a", "agent_1": "net_a"})
	require.NoError(t, err)
	require.Len(t, nets, 1)
	assert.Equal(t, []int{2}, nets["net_a"].Parameters.Group[0].Shape)

	_, err = toyNetworks(0)(spec, map[string]string{"agent_0": "net_a"})
	assert.Error(t, err, "agent_1 has no network")
}

func TestNoisyBiasClips(t *testing.T) {
	params := variables.GroupVariable(variables.Tensor{Shape: []int{2}, Data: []float64{3, -3}})
	action, err := noisyBias(0, -1, 1).SelectAction(params, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -1}, action)

	action, err = noisyBias(0.5, 0, 1).SelectAction(params, nil)
	require.NoError(t, err)
	for _, v := range action {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestBestActionLearner(t *testing.T) {
	c := &builder.Context{
		AgentNetKeys:    map[string]string{"agent_0": "net"},
		AgentIDs:        []string{"agent_0"},
		TrainerNetworks: map[string][]string{"trainer_0": {"net"}},
		TrainerID:       "trainer_0",
	}
	learner, err := bestActionLearner(0.5)(c)
	require.NoError(t, err)

	batch := replay.Batch{Items: []replay.Item{
		{"actions/agent_0": {1, 1}, "rewards/agent_0": {-2}},
		{"actions/agent_0": {0.4, -0.2}, "rewards/agent_0": {-0.1}},
	}}
	params := variables.Collection{"net/policy": variables.GroupVariable(variables.Zeros(2))}

	out, metrics, err := learner.Step(context.Background(), batch, params)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.2, -0.1}, out["net/policy"].Group[0].Data, 1e-12)
	assert.Equal(t, 2.0, metrics["batch_size"])
	assert.InDelta(t, -1.05, metrics["mean_return"], 1e-12)
}
