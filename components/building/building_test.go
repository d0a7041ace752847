package building

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/marlmesh/adders"
	"github.com/hupe1980/marlmesh/artifact"
	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/config"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/executor"
	"github.com/hupe1980/marlmesh/internal/testutil"
	"github.com/hupe1980/marlmesh/replay"
	"github.com/hupe1980/marlmesh/trainer"
	"github.com/hupe1980/marlmesh/variables"
)

var zeroPolicy = executor.PolicyFunc(func(_ variables.Variable, _ []float64) ([]float64, error) {
	return []float64{0}, nil
})

var identityLearner = LearnerFn(func(*builder.Context) (trainer.Learner, error) {
	return trainer.LearnerFunc(func(_ context.Context, _ replay.Batch, p variables.Collection) (variables.Collection, map[string]float64, error) {
		return p, map[string]float64{"loss": 0}, nil
	}), nil
})

func offPolicy() []callback.Component[*builder.Context] {
	return []callback.Component[*builder.Context]{
		SystemSetup{},
		ParallelTransitionAdderSignature{},
		OffPolicyRateLimiter{},
		OffPolicyReplayTables{},
		DatasetIterator{},
		UniformAdderPriority{},
		ParallelNStepTransitionAdder{},
		VariableServer{},
		ExecutorVariableClient{},
		Executor{},
		TrainerVariableClient{},
		Trainer{LearnerFn: identityLearner},
		TrainerStatistics{Window: 10},
	}
}

func newBuilder(t *testing.T, cfg *config.Config, spec core.EnvironmentSpec, components []callback.Component[*builder.Context]) *builder.Builder {
	t.Helper()
	b, err := builder.New(cfg, spec, components)
	require.NoError(t, err)
	require.NoError(t, b.Init(context.Background()))
	return b
}

func networksFor(c *builder.Context) map[string]builder.Network {
	out := map[string]builder.Network{}
	for _, net := range c.UniqueNetKeys {
		out[net] = builder.Network{Parameters: variables.GroupVariable(variables.Zeros(2)), Policy: zeroPolicy}
	}
	return out
}

func TestSystemSetupFixedNetworksSingleTrainer(t *testing.T) {
	spec := testutil.NewSpecBuilder().Agents("agent", 3, 2, 1).Build()
	b := newBuilder(t, testutil.SmallConfig(), spec, []callback.Component[*builder.Context]{SystemSetup{}})
	c := b.Context()

	assert.Equal(t, map[string]string{
		"agent_0": "network_agent_0",
		"agent_1": "network_agent_1",
		"agent_2": "network_agent_2",
	}, c.AgentNetKeys)
	assert.Equal(t, map[string][]string{
		"trainer_0": {"network_agent_0", "network_agent_1", "network_agent_2"},
	}, c.TrainerNetworks)
	assert.Equal(t, map[string]string{"trainer_0": "trainer_0"}, c.TrainerTables)
	assert.Equal(t, []string{"agent_0", "agent_1", "agent_2"}, c.TableNetworkConfig["trainer_0"])
}

func TestSystemSetupSharedWeightsOneTrainerPerNetwork(t *testing.T) {
	spec := testutil.NewSpecBuilder().Agents("agent", 2, 2, 1).Agents("adversary", 1, 3, 1).Build()
	cfg := testutil.SmallConfig()
	cfg.NetworkSampling = config.SharedWeights
	cfg.TrainerTopology = config.OneTrainerPerNetwork
	cfg.Replay.TableName = "table"

	b := newBuilder(t, cfg, spec, []callback.Component[*builder.Context]{SystemSetup{}})
	c := b.Context()

	assert.Equal(t, []string{"network_adversary", "network_agent"}, c.UniqueNetKeys)
	assert.Equal(t, []string{"network_adversary"}, c.TrainerNetworks["trainer_0"])
	assert.Equal(t, []string{"network_agent"}, c.TrainerNetworks["trainer_1"])
	assert.Equal(t, "table_1", c.TrainerTables["trainer_1"])
	assert.Equal(t, []string{"adversary_0"}, c.TableNetworkConfig["table_0"])
	assert.Equal(t, []string{"agent_0", "agent_1"}, c.TableNetworkConfig["table_1"])
}

func TestSystemSetupRejectsUnknownAgentOverride(t *testing.T) {
	cfg := testutil.SmallConfig()
	cfg.AgentNetKeys = map[string]string{"agent_9": "network_x"}
	b, err := builder.New(cfg, testutil.NewSpecBuilder().Agents("agent", 2, 2, 1).Build(),
		[]callback.Component[*builder.Context]{SystemSetup{}})
	require.NoError(t, err)
	assert.ErrorIs(t, b.Init(context.Background()), ErrNetworkPartition)
}

func TestOffPolicyTables(t *testing.T) {
	spec := testutil.NewSpecBuilder().Agents("agent", 2, 3, 2).Extra("state", 4).Build()
	cfg := testutil.SmallConfig()
	cfg.Replay.MinReplaySize = 10
	cfg.Replay.SamplesPerInsert = 4
	b := newBuilder(t, cfg, spec, offPolicy())

	tables, err := b.MakeReplayTables(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	table := tables[0]
	assert.Equal(t, "trainer_0", table.Name)
	assert.Equal(t, replay.Uniform, table.Sampler)
	assert.Equal(t, replay.Fifo, table.Remover)
	assert.Equal(t, 100, table.MaxSize)
	assert.Equal(t, replay.SampleToInsertRatio(4, 10, 4), table.RateLimiter)
	assert.Equal(t, []int{3}, table.Signature[adders.ObservationsPrefix+"agent_1"].Shape)
	assert.Equal(t, []int{4}, table.Signature[adders.ExtrasPrefix+"state"].Shape)
}

func TestOnPolicyQueueTables(t *testing.T) {
	spec := testutil.NewSpecBuilder().Agents("agent", 2, 3, 2).Build()
	cfg := testutil.SmallConfig()
	cfg.Replay.OnPolicy = true
	cfg.Replay.MaxReplaySize = 8
	b := newBuilder(t, cfg, spec, []callback.Component[*builder.Context]{
		SystemSetup{},
		ParallelSequenceAdderSignature{SequenceLength: 5},
		OnPolicyRateLimiter{},
		OnPolicyReplayTables{},
	})

	tables, err := b.MakeReplayTables(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.True(t, tables[0].Queue())
	assert.Equal(t, replay.Queue(8), tables[0].RateLimiter)
	assert.Equal(t, []int{5}, tables[0].Signature[adders.MaskField].Shape)
}

func TestTablesFollowTrainerPartition(t *testing.T) {
	spec := testutil.NewSpecBuilder().Agents("agent", 2, 2, 1).Agents("adversary", 1, 5, 1).Build()
	cfg := testutil.SmallConfig()
	cfg.NetworkSampling = config.SharedWeights
	cfg.TrainerTopology = config.OneTrainerPerNetwork
	b := newBuilder(t, cfg, spec, offPolicy())

	tables, err := b.MakeReplayTables(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, tables, 2)

	assert.Contains(t, tables[0].Signature, adders.ObservationsPrefix+"adversary_0")
	assert.NotContains(t, tables[0].Signature, adders.ObservationsPrefix+"agent_0")
	assert.Contains(t, tables[1].Signature, adders.ObservationsPrefix+"agent_1")
}

func TestTablesRejectSpecWithoutPartitionAgents(t *testing.T) {
	spec := testutil.NewSpecBuilder().Agents("agent", 2, 2, 1).Build()
	b := newBuilder(t, testutil.SmallConfig(), spec, offPolicy())

	other := testutil.NewSpecBuilder().Agents("agent", 1, 2, 1).Build()
	_, err := b.MakeReplayTables(context.Background(), other)
	assert.ErrorIs(t, err, ErrNetworkPartition)
}

func TestTablesRequireSignature(t *testing.T) {
	spec := testutil.NewSpecBuilder().Agents("agent", 1, 2, 1).Build()
	b := newBuilder(t, testutil.SmallConfig(), spec, []callback.Component[*builder.Context]{
		SystemSetup{}, OffPolicyRateLimiter{}, OffPolicyReplayTables{},
	})
	_, err := b.MakeReplayTables(context.Background(), spec)
	assert.ErrorIs(t, err, builder.ErrMissingArtifact)
}

func TestDiscreteToBounded(t *testing.T) {
	spec := testutil.NewSpecBuilder().DiscreteAgents("agent", 2, 3, 5).Build()
	components := append([]callback.Component[*builder.Context]{DiscreteToBounded{}}, offPolicy()...)
	b := newBuilder(t, testutil.SmallConfig(), spec, components)

	tables, err := b.MakeReplayTables(context.Background(), spec)
	require.NoError(t, err)
	actions := tables[0].Signature[adders.ActionsPrefix+"agent_0"]
	assert.Equal(t, []int{5}, actions.Shape)
	assert.False(t, actions.Discrete())
	assert.Equal(t, []float64{1, 1, 1, 1, 1}, actions.Maximum)
	assert.True(t, spec.Agents["agent_0"].Actions.Discrete(), "input spec is not modified")
}

func TestAdders(t *testing.T) {
	spec := testutil.NewSpecBuilder().Agents("agent", 2, 2, 1).Build()
	ctx := context.Background()

	b := newBuilder(t, testutil.SmallConfig(), spec, offPolicy())
	tables, err := b.MakeReplayTables(ctx, spec)
	require.NoError(t, err)
	rs, err := replay.NewServer(tables)
	require.NoError(t, err)
	defer rs.Close()

	adder, err := b.MakeAdder(ctx, rs.LocalClient())
	require.NoError(t, err)
	assert.IsType(t, &adders.ParallelNStepTransitionAdder{}, adder)
	assert.Len(t, b.Context().AdderPriority(), 1)

	seq := append(offPolicy()[:1], ParallelSequenceAdderSignature{}, OffPolicyRateLimiter{}, OffPolicyReplayTables{}, ParallelSequenceAdder{})
	b = newBuilder(t, testutil.SmallConfig(), spec, seq)
	_, err = b.MakeReplayTables(ctx, spec)
	require.NoError(t, err)
	adder, err = b.MakeAdder(ctx, rs.LocalClient())
	require.NoError(t, err)
	assert.IsType(t, &adders.ParallelSequenceAdder{}, adder)
}

func TestVariableServerInitialCollection(t *testing.T) {
	spec := testutil.NewSpecBuilder().Agents("agent", 2, 2, 1).Build()
	b := newBuilder(t, testutil.SmallConfig(), spec, offPolicy())
	c := b.Context()

	networks := networksFor(c)
	networks["network_agent_1"] = builder.Network{Parameters: variables.GroupVariable(), Policy: zeroPolicy}
	srv, err := b.MakeVariableServer(context.Background(), networks)
	require.NoError(t, err)

	assert.Equal(t, []string{
		ExecutorStepsKey,
		"network_agent_0/policy",
		"network_agent_1/policy",
		TrainerStepsKey,
	}, srv.Names())
}

func TestVariableServerRestoresCheckpoint(t *testing.T) {
	ctx := context.Background()
	spec := testutil.NewSpecBuilder().Agents("agent", 1, 2, 1).Build()
	store := artifact.NewInMemoryStore()

	cfg := testutil.SmallConfig()
	cfg.Checkpoint.Enabled = true
	cfg.Checkpoint.Compression = "lz4"

	saved := variables.Collection{
		"network_agent_0/policy": variables.GroupVariable(variables.Tensor{Shape: []int{2}, Data: []float64{7, 8}}),
		TrainerStepsKey:          variables.Scalar(42),
	}
	_, err := variables.NewCheckpointer(store, cfg.RunID).Save(ctx, saved)
	require.NoError(t, err)

	components := offPolicy()
	components[7] = VariableServer{Store: store}
	b := newBuilder(t, cfg, spec, components)
	srv, err := b.MakeVariableServer(ctx, networksFor(b.Context()))
	require.NoError(t, err)

	got, err := srv.GetVariables(ctx, "network_agent_0/policy", TrainerStepsKey)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 8}, got["network_agent_0/policy"].Group[0].Data)
	assert.Equal(t, []float64{42}, got[TrainerStepsKey].Tensor.Data)
}

func TestExecutorStartsFromServerParameters(t *testing.T) {
	ctx := context.Background()
	spec := testutil.NewSpecBuilder().Agents("agent", 1, 2, 1).Build()
	cfg := testutil.SmallConfig()
	cfg.ExecutorVariableUpdatePeriod = 1000
	b := newBuilder(t, cfg, spec, offPolicy())

	networks := networksFor(b.Context())
	srv, err := b.MakeVariableServer(ctx, networks)
	require.NoError(t, err)
	require.NoError(t, srv.SetVariables(ctx, variables.Collection{
		"network_agent_0/policy": variables.GroupVariable(variables.Tensor{Shape: []int{2}, Data: []float64{3, 4}}),
	}))

	_, err = b.MakeExecutor(ctx, networks, nil, nil, srv)
	require.NoError(t, err)

	vc := b.Context().ExecutorVariableClient()
	assert.EqualValues(t, 0, vc.Steps())
	got := vc.Variables()
	require.Contains(t, got, "network_agent_0/policy")
	assert.Equal(t, []float64{3, 4}, got["network_agent_0/policy"].Group[0].Data)
}

func TestExecutorAndTrainer(t *testing.T) {
	ctx := context.Background()
	spec := testutil.NewSpecBuilder().Agents("agent", 2, 2, 1).Build()
	b := newBuilder(t, testutil.SmallConfig(), spec, offPolicy())
	c := b.Context()

	tables, err := b.MakeReplayTables(ctx, spec)
	require.NoError(t, err)
	rs, err := replay.NewServer(tables)
	require.NoError(t, err)
	defer rs.Close()

	networks := networksFor(c)
	srv, err := b.MakeVariableServer(ctx, networks)
	require.NoError(t, err)

	evaluator, err := b.MakeExecutor(ctx, networks, nil, nil, srv)
	require.NoError(t, err)
	assert.True(t, evaluator.Evaluation)
	assert.Equal(t, []string{"network_agent_0/policy", "network_agent_1/policy"}, c.ExecutorVariableClient().Keys())

	adder, err := b.MakeAdder(ctx, rs.LocalClient())
	require.NoError(t, err)
	ex, err := b.MakeExecutor(ctx, networks, nil, adder, srv)
	require.NoError(t, err)
	assert.False(t, ex.Evaluation)
	assert.NotSame(t, evaluator, ex)

	ds, err := b.MakeDatasetIterator(ctx, rs.LocalClient(), c.TrainerTables["trainer_0"])
	require.NoError(t, err)
	defer ds.Close()
	tr, err := b.MakeTrainer(ctx, networks, ds, srv, "trainer_0", c.TrainerNetworks["trainer_0"], c.TrainerTables["trainer_0"])
	require.NoError(t, err)
	assert.Equal(t, "trainer_0", tr.ID())
	assert.Same(t, c.TrainerStatistics(), tr.Statistics())
	assert.ElementsMatch(t, []string{"network_agent_0/policy", "network_agent_1/policy"}, c.TrainerVariableClient().Keys())
}

func TestTrainerRequiresLearner(t *testing.T) {
	ctx := context.Background()
	spec := testutil.NewSpecBuilder().Agents("agent", 1, 2, 1).Build()
	components := offPolicy()
	components[11] = Trainer{}
	b := newBuilder(t, testutil.SmallConfig(), spec, components)
	c := b.Context()

	tables, err := b.MakeReplayTables(ctx, spec)
	require.NoError(t, err)
	rs, err := replay.NewServer(tables)
	require.NoError(t, err)
	defer rs.Close()
	srv, err := b.MakeVariableServer(ctx, networksFor(c))
	require.NoError(t, err)
	ds, err := b.MakeDatasetIterator(ctx, rs.LocalClient(), "trainer_0")
	require.NoError(t, err)
	defer ds.Close()

	_, err = b.MakeTrainer(ctx, networksFor(c), ds, srv, "trainer_0", c.TrainerNetworks["trainer_0"], "trainer_0")
	assert.Error(t, err)
}

func TestStopAfterTrainerSteps(t *testing.T) {
	hooks := StopAfterTrainerSteps{Max: 5}.Hooks()
	fn := hooks[callback.OnVariablesRunServerLoopTermination]

	st := &variables.ServerState{
		LoggerAdapter: core.NewLoggerAdapter(nil),
		Variables:     variables.Collection{TrainerStepsKey: variables.Scalar(4)},
	}
	require.NoError(t, fn(context.Background(), st))
	assert.False(t, st.Terminate)

	st.Variables[TrainerStepsKey] = variables.Scalar(5)
	require.NoError(t, fn(context.Background(), st))
	assert.True(t, st.Terminate)
}
