package builder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/marlmesh/adders"
	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/executor"
	"github.com/hupe1980/marlmesh/internal/testutil"
	"github.com/hupe1980/marlmesh/replay"
	"github.com/hupe1980/marlmesh/trainer"
	"github.com/hupe1980/marlmesh/variables"
)

type env struct {
	replay *replay.Server
	vars   *variables.Server
}

func newEnv(t *testing.T) env {
	t.Helper()
	rs, err := replay.NewServer([]replay.TableSpec{{
		Name: "trainer_0", Sampler: replay.Uniform, Remover: replay.Fifo, MaxSize: 10, RateLimiter: replay.MinSize(1),
	}})
	require.NoError(t, err)
	t.Cleanup(rs.Close)

	vs, err := variables.NewServer(context.Background(), variables.Collection{
		"network_agent/policy": variables.GroupVariable(variables.Zeros(1)),
	}, func(o *variables.Options) { o.RestoreOnInit = false })
	require.NoError(t, err)
	return env{replay: rs, vars: vs}
}

var noop = executor.PolicyFunc(func(variables.Variable, []float64) ([]float64, error) { return []float64{0}, nil })

// producer fills every required artifact with minimal values.
func producer(e env) callback.Component[*builder.Context] {
	return callback.Func("producer", callback.Hooks[*builder.Context]{
		callback.OnBuildingAdderSignature: func(_ context.Context, c *builder.Context) error {
			return c.SetAdderSignature(adders.TransitionSignature)
		},
		callback.OnBuildingMakeTables: func(_ context.Context, c *builder.Context) error {
			return c.SetReplayTables([]replay.TableSpec{{Name: "trainer_0"}})
		},
		callback.OnBuildingDataset: func(_ context.Context, c *builder.Context) error {
			return c.SetDataset(replay.NewDataset(c.ReplayClient, c.TableName))
		},
		callback.OnBuildingVariableServer: func(_ context.Context, c *builder.Context) error {
			return c.SetVariableServer(e.vars)
		},
		callback.OnBuildingExecutor: func(_ context.Context, c *builder.Context) error {
			ex, err := executor.New(c.ExecutorNetworks, map[string]executor.Policy{"network_agent": noop})
			if err != nil {
				return err
			}
			return c.SetExecutor(ex)
		},
		callback.OnBuildingTrainerVariableClient: func(_ context.Context, c *builder.Context) error {
			return c.SetTrainerVariableClient(variables.NewTrainerClient(c.VariableSource, []string{"network_agent/policy"}))
		},
		callback.OnBuildingTrainer: func(_ context.Context, c *builder.Context) error {
			tr, err := trainer.New(c.TrainerID, c.Dataset(), c.TrainerVariableClient(), trainer.LearnerFunc(
				func(_ context.Context, _ replay.Batch, p variables.Collection) (variables.Collection, map[string]float64, error) {
					return p, nil, nil
				}))
			if err != nil {
				return err
			}
			return c.SetTrainer(tr)
		},
	})
}

func newBuilder(t *testing.T, components ...callback.Component[*builder.Context]) *builder.Builder {
	t.Helper()
	spec := testutil.NewSpecBuilder().Agents("agent", 2, 2, 1).Build()
	b, err := builder.New(testutil.SmallConfig(), spec, components)
	require.NoError(t, err)
	return b
}

// buildAll runs every phase once.
func buildAll(t *testing.T, b *builder.Builder, e env) {
	t.Helper()
	ctx := context.Background()
	c := b.Context()

	require.NoError(t, b.Init(ctx))
	_, err := b.MakeReplayTables(ctx, c.EnvironmentSpec)
	require.NoError(t, err)
	ds, err := b.MakeDatasetIterator(ctx, e.replay.LocalClient(), "trainer_0")
	require.NoError(t, err)
	t.Cleanup(ds.Close)
	_, err = b.MakeAdder(ctx, e.replay.LocalClient())
	require.NoError(t, err)
	_, err = b.MakeVariableServer(ctx, map[string]builder.Network{"network_agent": {Policy: noop}})
	require.NoError(t, err)
	_, err = b.MakeExecutor(ctx, nil, map[string]string{"agent_0": "network_agent"}, nil, e.vars)
	require.NoError(t, err)
	_, err = b.MakeTrainer(ctx, nil, ds, e.vars, "trainer_0", []string{"network_agent"}, "trainer_0")
	require.NoError(t, err)
}

func TestPhasesDispatchEveryHookInLifecycleOrder(t *testing.T) {
	var seen []callback.Hook
	hooks := callback.Hooks[*builder.Context]{}
	for _, h := range callback.BuildingHooks {
		hooks[h] = func(context.Context, *builder.Context) error {
			seen = append(seen, h)
			return nil
		}
	}
	e := newEnv(t)
	b := newBuilder(t, callback.Func("recorder", hooks), producer(e))
	buildAll(t, b, e)

	assert.Equal(t, callback.BuildingHooks, seen)
	assert.Equal(t, []string{"recorder", "producer"}, b.Components())
}

func TestInitReadsAgentsFromSpec(t *testing.T) {
	var atStart, atInit []string
	b := newBuilder(t, callback.Func("recorder", callback.Hooks[*builder.Context]{
		callback.OnBuildingInitStart: func(_ context.Context, c *builder.Context) error {
			atStart = c.AgentIDs
			return nil
		},
		callback.OnBuildingInit: func(_ context.Context, c *builder.Context) error {
			atInit = c.AgentIDs
			return nil
		},
	}))
	require.NoError(t, b.Init(context.Background()))
	assert.Empty(t, atStart)
	assert.Equal(t, []string{"agent_0", "agent_1"}, atInit)
	assert.Equal(t, []string{"agent"}, b.Context().AgentTypes)
	assert.NotEmpty(t, b.Context().RunID)
}

func TestInitRejectsEmptySpec(t *testing.T) {
	b, err := builder.New(nil, testutil.NewSpecBuilder().Build(), nil)
	require.NoError(t, err)
	assert.Error(t, b.Init(context.Background()))
}

func TestArtifactsVisibleToLaterPhases(t *testing.T) {
	e := newEnv(t)
	var sig adders.SignatureFn
	var writer string
	reader := callback.Func("reader", callback.Hooks[*builder.Context]{
		callback.OnBuildingMakeAdderStart: func(_ context.Context, c *builder.Context) error {
			sig = c.AdderSignature()
			writer, _ = c.Writer(builder.ArtifactAdderSignature)
			return nil
		},
	})
	b := newBuilder(t, producer(e), reader)
	buildAll(t, b, e)

	require.NotNil(t, sig)
	assert.Equal(t, "producer", writer)
	assert.Len(t, b.Context().ReplayTables(), 1)
}

func TestLaterPhaseCannotRewriteEarlierArtifact(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rewrite := func(name string) callback.Component[*builder.Context] {
		return callback.Func(name, callback.Hooks[*builder.Context]{
			callback.OnBuildingMakeAdder: func(_ context.Context, c *builder.Context) error {
				return c.SetReplayTables([]replay.TableSpec{{Name: "rewritten"}})
			},
		})
	}

	for _, tamper := range []callback.Component[*builder.Context]{rewrite("tamper"), callback.Override(rewrite("tamper"))} {
		b := newBuilder(t, producer(e), tamper)
		require.NoError(t, b.Init(ctx))
		_, err := b.MakeReplayTables(ctx, b.Context().EnvironmentSpec)
		require.NoError(t, err)

		_, err = b.MakeAdder(ctx, e.replay.LocalClient())
		require.ErrorIs(t, err, builder.ErrArtifactPhase)
		assert.Contains(t, err.Error(), builder.PhaseMakeReplayTables)

		require.Len(t, b.Context().ReplayTables(), 1)
		assert.Equal(t, "trainer_0", b.Context().ReplayTables()[0].Name)
		w, ok := b.Context().Writer(builder.ArtifactReplayTables)
		require.True(t, ok)
		assert.Equal(t, "producer", w)
	}
}

func datasetSetter(name string) callback.Component[*builder.Context] {
	return callback.Func(name, callback.Hooks[*builder.Context]{
		callback.OnBuildingDataset: func(_ context.Context, c *builder.Context) error {
			return c.SetDataset(replay.NewDataset(c.ReplayClient, c.TableName))
		},
	})
}

func TestSecondWriteConflicts(t *testing.T) {
	e := newEnv(t)
	b := newBuilder(t, datasetSetter("first"), datasetSetter("second"))

	_, err := b.MakeDatasetIterator(context.Background(), e.replay.LocalClient(), "trainer_0")
	require.ErrorIs(t, err, builder.ErrArtifactConflict)
	assert.Contains(t, err.Error(), `"first"`)
	assert.Contains(t, err.Error(), `"second"`)

	var de *callback.DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "second", de.Component)
}

func TestOverrideReplacesArtifact(t *testing.T) {
	e := newEnv(t)
	b := newBuilder(t, datasetSetter("first"), callback.Override(datasetSetter("second")))

	ds, err := b.MakeDatasetIterator(context.Background(), e.replay.LocalClient(), "trainer_0")
	require.NoError(t, err)
	defer ds.Close()

	w, ok := b.Context().Writer(builder.ArtifactDataset)
	require.True(t, ok)
	assert.Equal(t, "second", w)
}

func TestEachInvocationProducesItsOwnArtifact(t *testing.T) {
	e := newEnv(t)
	b := newBuilder(t, datasetSetter("dataset"))
	ctx := context.Background()

	first, err := b.MakeDatasetIterator(ctx, e.replay.LocalClient(), "a")
	require.NoError(t, err)
	defer first.Close()
	second, err := b.MakeDatasetIterator(ctx, e.replay.LocalClient(), "b")
	require.NoError(t, err)
	defer second.Close()

	assert.NotSame(t, first, second)
	assert.Equal(t, "a", first.Table())
	assert.Equal(t, "b", second.Table())
}

func TestMissingArtifacts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	b := newBuilder(t)
	require.NoError(t, b.Init(ctx))

	_, err := b.MakeReplayTables(ctx, b.Context().EnvironmentSpec)
	assert.ErrorIs(t, err, builder.ErrMissingArtifact)

	_, err = b.MakeAdder(ctx, e.replay.LocalClient())
	assert.ErrorIs(t, err, builder.ErrMissingArtifact)

	_, err = b.MakeDatasetIterator(ctx, e.replay.LocalClient(), "trainer_0")
	assert.ErrorIs(t, err, builder.ErrMissingArtifact)

	_, err = b.MakeVariableServer(ctx, nil)
	assert.ErrorIs(t, err, builder.ErrMissingArtifact)

	_, err = b.MakeExecutor(ctx, nil, nil, nil, nil)
	assert.ErrorIs(t, err, builder.ErrMissingArtifact)

	_, err = b.MakeTrainer(ctx, nil, nil, e.vars, "trainer_0", nil, "trainer_0")
	assert.ErrorIs(t, err, builder.ErrMissingArtifact)
}

func TestMakeAdderMayReturnNil(t *testing.T) {
	e := newEnv(t)
	b := newBuilder(t, producer(e))
	ctx := context.Background()
	require.NoError(t, b.Init(ctx))
	_, err := b.MakeReplayTables(ctx, b.Context().EnvironmentSpec)
	require.NoError(t, err)

	adder, err := b.MakeAdder(ctx, e.replay.LocalClient())
	require.NoError(t, err)
	assert.Nil(t, adder)
}

func TestNewRejectsForeignHooks(t *testing.T) {
	_, err := builder.New(nil, testutil.NewSpecBuilder().Agents("agent", 1, 1, 1).Build(),
		[]callback.Component[*builder.Context]{
			callback.Func("bad", callback.Hooks[*builder.Context]{
				callback.OnExecutionObserve: func(context.Context, *builder.Context) error { return nil },
			}),
		})
	assert.ErrorIs(t, err, callback.ErrUnknownHook)
}
