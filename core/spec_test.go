package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agent(obs, act int) AgentSpec {
	return AgentSpec{
		Observations: ArraySpec{Shape: []int{obs}, DType: Float32},
		Actions:      ArraySpec{Shape: []int{act}, DType: Float32},
		Rewards:      ArraySpec{DType: Float32},
		Discounts:    ArraySpec{DType: Float32},
	}
}

func TestAgentIDsNaturalOrder(t *testing.T) {
	spec := EnvironmentSpec{Agents: map[string]AgentSpec{
		"agent_10":    agent(2, 1),
		"agent_2":     agent(2, 1),
		"agent_1":     agent(2, 1),
		"adversary_0": agent(3, 1),
	}}

	assert.Equal(t, []string{"adversary_0", "agent_1", "agent_2", "agent_10"}, spec.AgentIDs())
	assert.Equal(t, []string{"adversary", "agent"}, spec.AgentTypes())
}

func TestEnvironmentSpecCloneIsDeep(t *testing.T) {
	spec := EnvironmentSpec{Agents: map[string]AgentSpec{"agent_0": agent(4, 2)}}
	clone := spec.Clone()

	clone.Agents["agent_0"].Observations.Shape[0] = 99

	assert.Equal(t, 4, spec.Agents["agent_0"].Observations.Shape[0])
}

func TestArraySpecCheck(t *testing.T) {
	s := ArraySpec{Name: "obs", Shape: []int{2, 3}}
	assert.Equal(t, 6, s.Size())
	require.NoError(t, s.Check(make([]float64, 6)))
	assert.Error(t, s.Check(make([]float64, 5)))

	scalar := ArraySpec{Name: "reward"}
	assert.Equal(t, 1, scalar.Size())
}

func TestEnvironmentSpecValidate(t *testing.T) {
	assert.Error(t, EnvironmentSpec{}.Validate())

	bad := EnvironmentSpec{Agents: map[string]AgentSpec{"agent_0": agent(0, 1)}}
	assert.Error(t, bad.Validate())

	good := EnvironmentSpec{Agents: map[string]AgentSpec{"agent_0": agent(1, 1)}}
	assert.NoError(t, good.Validate())
}

func TestAgentType(t *testing.T) {
	assert.Equal(t, "agent", AgentType("agent_3"))
	assert.Equal(t, "solo", AgentType("solo"))
}
