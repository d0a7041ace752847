package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/executor"
	"github.com/hupe1980/marlmesh/variables"
)

type call struct {
	kind   string
	extras map[string][]float64
}

type recordingAdder struct{ calls []call }

func (a *recordingAdder) AddFirst(_ context.Context, ts core.TimeStep) error {
	a.calls = append(a.calls, call{kind: "first", extras: ts.Extras})
	return nil
}

func (a *recordingAdder) Add(_ context.Context, _ map[string][]float64, _ core.TimeStep, extras map[string][]float64) error {
	a.calls = append(a.calls, call{kind: "add", extras: extras})
	return nil
}

func (a *recordingAdder) Reset() {}

var zero = executor.PolicyFunc(func(variables.Variable, []float64) ([]float64, error) { return []float64{0}, nil })

func newExecutor(t *testing.T, opts func(o *executor.Options)) *executor.Executor {
	t.Helper()
	e, err := executor.New(map[string]string{"agent_0": "net"}, map[string]executor.Policy{"net": zero}, opts)
	require.NoError(t, err)
	return e
}

func TestObserverForwardsToAdder(t *testing.T) {
	adder := &recordingAdder{}
	e := newExecutor(t, func(o *executor.Options) {
		o.Adder = adder
		o.Components = []callback.Component[*executor.Executor]{Observer{}}
	})
	ctx := context.Background()

	first := core.TimeStep{StepType: core.StepFirst, Extras: map[string][]float64{"state": {1}}}
	require.NoError(t, e.ObserveFirst(ctx, first))
	next := core.TimeStep{StepType: core.StepMid}
	require.NoError(t, e.Observe(ctx, map[string][]float64{"agent_0": {0}}, next, map[string][]float64{"state": {2}}))

	require.Len(t, adder.calls, 2)
	assert.Equal(t, "first", adder.calls[0].kind)
	assert.Equal(t, []float64{1}, adder.calls[0].extras["state"])
	assert.Equal(t, []float64{2}, adder.calls[1].extras["state"])
}

func TestObserverWithoutAdder(t *testing.T) {
	e := newExecutor(t, func(o *executor.Options) {
		o.Components = []callback.Component[*executor.Executor]{Observer{}}
	})
	assert.NoError(t, e.ObserveFirst(context.Background(), core.TimeStep{}))
}

func TestVariableUpdater(t *testing.T) {
	ctx := context.Background()
	srv, err := variables.NewServer(ctx, variables.Collection{
		"net/policy": variables.GroupVariable(variables.Tensor{Shape: []int{1}, Data: []float64{3}}),
	}, func(o *variables.Options) { o.RestoreOnInit = false })
	require.NoError(t, err)

	client := variables.NewExecutorClient(srv, []string{"net/policy"}, 2)
	defer client.Close()
	e := newExecutor(t, func(o *executor.Options) {
		o.VariableClient = client
		o.Components = []callback.Component[*executor.Executor]{VariableUpdater{}}
	})

	require.NoError(t, e.Update(ctx, false))
	assert.EqualValues(t, 1, client.Steps())
	require.NoError(t, e.Update(ctx, false))
	assert.EqualValues(t, 2, client.Steps())

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, client.Wait(waitCtx))
	assert.Equal(t, []float64{3}, client.Variables()["net/policy"].Group[0].Data)

	require.NoError(t, srv.SetVariables(ctx, variables.Collection{
		"net/policy": variables.GroupVariable(variables.Tensor{Shape: []int{1}, Data: []float64{4}}),
	}))
	require.NoError(t, e.Update(ctx, true))
	assert.Equal(t, []float64{4}, client.Variables()["net/policy"].Group[0].Data)
}

func TestVariableUpdaterWithoutClient(t *testing.T) {
	e := newExecutor(t, func(o *executor.Options) {
		o.Components = []callback.Component[*executor.Executor]{VariableUpdater{}}
	})
	assert.NoError(t, e.Update(context.Background(), true))
}
