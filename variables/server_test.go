package variables

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/marlmesh/artifact"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/internal/clock"
)

func testCollection() Collection {
	return Collection{
		"trainer_steps":    Scalar(0),
		"executor_steps":   Scalar(0),
		"agent_0/policy":   GroupVariable(Zeros(2, 2), Zeros(2)),
		"agent_0/observer": GroupVariable(),
	}
}

func newTestServer(t *testing.T, optFns ...func(o *Options)) *Server {
	t.Helper()
	optFns = append([]func(o *Options){func(o *Options) { o.RestoreOnInit = false }}, optFns...)
	srv, err := NewServer(context.Background(), testCollection(), optFns...)
	require.NoError(t, err)
	return srv
}

func TestSetThenGetRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	w, err := NewTensor([]int{2, 2}, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	b, err := NewTensor([]int{2}, []float64{5, 6})
	require.NoError(t, err)

	values := Collection{
		"trainer_steps":  Scalar(7),
		"agent_0/policy": GroupVariable(w, b),
	}
	require.NoError(t, srv.SetVariables(ctx, values))

	got, err := srv.GetVariables(ctx, "trainer_steps", "agent_0/policy")
	require.NoError(t, err)
	assert.True(t, got.Equal(values))
	assert.Equal(t, StateServing, srv.State())
}

func TestGetReturnsCopies(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	got, err := srv.GetVariables(ctx, "agent_0/policy")
	require.NoError(t, err)
	got["agent_0/policy"].Group[0].Data[0] = 99

	again, err := srv.GetVariables(ctx, "agent_0/policy")
	require.NoError(t, err)
	assert.Equal(t, 0.0, again["agent_0/policy"].Group[0].Data[0])
}

func TestAddAccumulates(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	for range 5 {
		require.NoError(t, srv.AddToVariables(ctx, map[string]Tensor{
			"trainer_steps":  {Data: []float64{1}},
			"executor_steps": {Data: []float64{10}},
		}))
	}

	got, err := srv.GetVariables(ctx, "trainer_steps", "executor_steps")
	require.NoError(t, err)
	assert.Equal(t, []float64{5}, got["trainer_steps"].Tensor.Data)
	assert.Equal(t, []float64{50}, got["executor_steps"].Tensor.Data)
}

func TestRequestErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		call func(s *Server) error
		want error
	}{
		{
			name: "get unknown",
			call: func(s *Server) error {
				_, err := s.GetVariables(ctx, "trainer_steps", "missing")
				return err
			},
			want: ErrUnknownVariable,
		},
		{
			name: "set unknown",
			call: func(s *Server) error { return s.SetVariables(ctx, Collection{"missing": Scalar(1)}) },
			want: ErrUnknownVariable,
		},
		{
			name: "set wrong arity",
			call: func(s *Server) error {
				return s.SetVariables(ctx, Collection{"agent_0/policy": GroupVariable(Zeros(2, 2))})
			},
			want: ErrShapeMismatch,
		},
		{
			name: "set wrong shape",
			call: func(s *Server) error {
				return s.SetVariables(ctx, Collection{"agent_0/policy": GroupVariable(Zeros(4), Zeros(2))})
			},
			want: ErrShapeMismatch,
		},
		{
			name: "set group into tensor",
			call: func(s *Server) error {
				return s.SetVariables(ctx, Collection{"trainer_steps": GroupVariable(Zeros(1))})
			},
			want: ErrShapeMismatch,
		},
		{
			name: "add to group",
			call: func(s *Server) error {
				return s.AddToVariables(ctx, map[string]Tensor{"agent_0/policy": Zeros(2)})
			},
			want: ErrInvalidOperation,
		},
		{
			name: "add wrong shape",
			call: func(s *Server) error {
				return s.AddToVariables(ctx, map[string]Tensor{"trainer_steps": Zeros(3)})
			},
			want: ErrShapeMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			assert.ErrorIs(t, tt.call(srv), tt.want)
		})
	}
}

func TestFailedSetWritesNothing(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	err := srv.SetVariables(ctx, Collection{
		"trainer_steps":  Scalar(3),
		"agent_0/policy": GroupVariable(Zeros(2)),
	})
	require.ErrorIs(t, err, ErrShapeMismatch)

	got, err := srv.GetVariables(ctx, "trainer_steps")
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, got["trainer_steps"].Tensor.Data)
}

type hookLog struct {
	hooks []callback.Hook
}

func (h *hookLog) component(hooks ...callback.Hook) callback.Component[*ServerState] {
	fns := callback.Hooks[*ServerState]{}
	for _, hook := range hooks {
		fns[hook] = func(context.Context, *ServerState) error {
			h.hooks = append(h.hooks, hook)
			return nil
		}
	}
	return callback.Func("hook_log", fns)
}

func TestHookOrder(t *testing.T) {
	log := &hookLog{}
	srv := newTestServer(t, func(o *Options) {
		o.Components = []callback.Component[*ServerState]{log.component(callback.VariablesHooks...)}
	})
	assert.Equal(t, []callback.Hook{
		callback.OnVariablesInitStart,
		callback.OnVariablesInit,
		callback.OnVariablesCheckpoint,
		callback.OnVariablesInitEnd,
	}, log.hooks)

	log.hooks = nil
	_, err := srv.GetVariables(context.Background(), "trainer_steps")
	require.NoError(t, err)
	assert.Equal(t, []callback.Hook{
		callback.OnVariablesGetServerVariablesStart,
		callback.OnVariablesGetServerVariables,
		callback.OnVariablesGetServerVariablesEnd,
	}, log.hooks)

	log.hooks = nil
	_, err = srv.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []callback.Hook{
		callback.OnVariablesRunServerLoopStart,
		callback.OnVariablesRunServerLoopCheckpoint,
		callback.OnVariablesRunServerLoop,
		callback.OnVariablesRunServerLoopTermination,
		callback.OnVariablesRunServerLoopEnd,
	}, log.hooks)
}

func TestGetHookCanRewriteResult(t *testing.T) {
	srv := newTestServer(t, func(o *Options) {
		o.Components = []callback.Component[*ServerState]{
			callback.Func("scale", callback.Hooks[*ServerState]{
				callback.OnVariablesGetServerVariables: func(_ context.Context, st *ServerState) error {
					if v, ok := st.Result["trainer_steps"]; ok {
						v.Tensor.Data[0] = -1
					}
					return nil
				},
			}),
		}
	})

	got, err := srv.GetVariables(context.Background(), "trainer_steps")
	require.NoError(t, err)
	assert.Equal(t, []float64{-1}, got["trainer_steps"].Tensor.Data)

	names := srv.Names()
	assert.Contains(t, names, "trainer_steps")
}

func TestTickCheckpointsWhenIntervalElapsed(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cp := NewCheckpointer(artifact.NewInMemoryStore(), "run-1", func(o *CheckpointerOptions) { o.Clock = fake })
	srv := newTestServer(t, func(o *Options) {
		o.Checkpointer = cp
		o.CheckpointInterval = time.Minute
		o.Clock = fake
	})
	ctx := context.Background()

	stop, err := srv.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, stop)
	ids, err := cp.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	fake.Advance(time.Minute)
	_, err = srv.Tick(ctx)
	require.NoError(t, err)
	ids, err = cp.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestRunStopsOnTerminate(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ticks := 0
	srv := newTestServer(t, func(o *Options) {
		o.Clock = fake
		o.CheckpointInterval = time.Second
		o.Components = []callback.Component[*ServerState]{
			callback.Func("stop_after_two", callback.Hooks[*ServerState]{
				callback.OnVariablesRunServerLoopTermination: func(_ context.Context, st *ServerState) error {
					ticks++
					st.Terminate = ticks == 2
					return nil
				},
			}),
		}
	})

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()

	for range 2 {
		fake.BlockUntilWaiters(1)
		fake.Advance(time.Second)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not terminate")
	}
	assert.Equal(t, 2, ticks)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := newTestServer(t, func(o *Options) { o.CheckpointInterval = time.Hour })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, srv.Run(ctx), context.Canceled)
}

func TestNewServerRejectsNonPositiveInterval(t *testing.T) {
	_, err := NewServer(context.Background(), testCollection(), func(o *Options) {
		o.RestoreOnInit = false
		o.CheckpointInterval = 0
	})
	assert.ErrorContains(t, err, "checkpoint interval")
}

func TestRestoreOnInit(t *testing.T) {
	store := artifact.NewInMemoryStore()
	cp := NewCheckpointer(store, "run-1")
	ctx := context.Background()

	saved := testCollection()
	saved["trainer_steps"] = Scalar(42)
	saved["agent_0/policy"] = GroupVariable(Tensor{Shape: []int{2, 2}, Data: []float64{1, 1, 1, 1}}, Zeros(2))
	_, err := cp.Save(ctx, saved)
	require.NoError(t, err)

	srv, err := NewServer(ctx, testCollection(), func(o *Options) { o.Checkpointer = cp })
	require.NoError(t, err)

	got, err := srv.GetVariables(ctx, "trainer_steps", "agent_0/policy", "agent_0/observer")
	require.NoError(t, err)
	assert.Equal(t, []float64{42}, got["trainer_steps"].Tensor.Data)
	assert.Equal(t, []float64{1, 1, 1, 1}, got["agent_0/policy"].Group[0].Data)
	assert.True(t, got["agent_0/observer"].Placeholder())
}

func TestRestoreOnInitRejectsIncompatibleCheckpoint(t *testing.T) {
	store := artifact.NewInMemoryStore()
	cp := NewCheckpointer(store, "run-1")
	ctx := context.Background()

	_, err := cp.Save(ctx, Collection{"trainer_steps": TensorVariable(Zeros(3))})
	require.NoError(t, err)

	_, err = NewServer(ctx, testCollection(), func(o *Options) { o.Checkpointer = cp })
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
