package callback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls   []string
	entered []Info
	active  bool
}

func (r *recorder) Enter(info Info) {
	r.entered = append(r.entered, info)
	r.active = true
}

func (r *recorder) Leave() { r.active = false }

func recordingHooks(name string, hooks ...Hook) Hooks[*recorder] {
	out := Hooks[*recorder]{}
	for _, h := range hooks {
		h := h
		out[h] = func(_ context.Context, r *recorder) error {
			r.calls = append(r.calls, name+":"+string(h))
			return nil
		}
	}
	return out
}

func TestDispatchRunsSlotsInRegistrationOrder(t *testing.T) {
	reg, err := NewRegistry([]Component[*recorder]{
		Func("a", recordingHooks("a", OnBuildingInit, OnBuildingInitEnd)),
		Func("b", recordingHooks("b", OnBuildingInit)),
		Func("c", recordingHooks("c", OnBuildingInit, OnBuildingInitStart)),
	})
	require.NoError(t, err)

	state := &recorder{}
	require.NoError(t, reg.DispatchAll(context.Background(), state, OnBuildingInitStart, OnBuildingInit, OnBuildingInitEnd))

	assert.Equal(t, []string{
		"c:" + string(OnBuildingInitStart),
		"a:" + string(OnBuildingInit),
		"b:" + string(OnBuildingInit),
		"c:" + string(OnBuildingInit),
		"a:" + string(OnBuildingInitEnd),
	}, state.calls)
	assert.Equal(t, []string{"a", "b", "c"}, reg.Components())
	assert.Equal(t, []string{"a", "b", "c"}, reg.Implementers(OnBuildingInit))
}

func TestDispatchAbsentHookIsNoOp(t *testing.T) {
	reg, err := NewRegistry([]Component[*recorder]{Func("a", recordingHooks("a", OnBuildingInit))})
	require.NoError(t, err)

	state := &recorder{}
	require.NoError(t, reg.Dispatch(context.Background(), OnBuildingMakeTables, state))
	assert.Empty(t, state.calls)
	assert.False(t, reg.Implements(OnBuildingMakeTables))
}

func TestDispatchStopsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	reg, err := NewRegistry([]Component[*recorder]{
		Func("ok", recordingHooks("ok", OnBuildingInit)),
		Func("bad", Hooks[*recorder]{
			OnBuildingInit: func(context.Context, *recorder) error { return boom },
		}),
		Func("never", recordingHooks("never", OnBuildingInit)),
	})
	require.NoError(t, err)

	state := &recorder{}
	err = reg.Dispatch(context.Background(), OnBuildingInit, state)

	require.ErrorIs(t, err, boom)
	var dErr *DispatchError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, "bad", dErr.Component)
	assert.Equal(t, OnBuildingInit, dErr.Hook)
	assert.Equal(t, []string{"ok:" + string(OnBuildingInit)}, state.calls)
	assert.False(t, state.active)
}

func TestTrackerSeesComponentIdentity(t *testing.T) {
	reg, err := NewRegistry([]Component[*recorder]{
		Func("plain", recordingHooks("plain", OnBuildingMakeAdder)),
		Override(Func("override", recordingHooks("override", OnBuildingMakeAdder))),
	})
	require.NoError(t, err)

	state := &recorder{}
	require.NoError(t, reg.Dispatch(context.Background(), OnBuildingMakeAdder, state))

	require.Len(t, state.entered, 2)
	assert.Equal(t, Info{Name: "plain", Index: 0, Hook: OnBuildingMakeAdder}, state.entered[0])
	assert.Equal(t, Info{Name: "override", Index: 1, Hook: OnBuildingMakeAdder, Overriding: true}, state.entered[1])
}

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name       string
		components []Component[*recorder]
		opts       []func(o *Options)
		wantErr    error
	}{
		{
			name:       "nil component",
			components: []Component[*recorder]{nil},
			wantErr:    ErrInvalidComponent,
		},
		{
			name:       "empty name",
			components: []Component[*recorder]{Func[*recorder]("", nil)},
			wantErr:    ErrInvalidComponent,
		},
		{
			name: "duplicate name",
			components: []Component[*recorder]{
				Func[*recorder]("x", nil),
				Func[*recorder]("x", nil),
			},
			wantErr: ErrInvalidComponent,
		},
		{
			name:       "unknown hook",
			components: []Component[*recorder]{Func("x", recordingHooks("x", Hook("on_building_make_magic")))},
			wantErr:    ErrUnknownHook,
		},
		{
			name:       "hook outside allowed family",
			components: []Component[*recorder]{Func("x", recordingHooks("x", OnVariablesInit))},
			opts:       []func(o *Options){func(o *Options) { o.Allowed = BuildingHooks }},
			wantErr:    ErrUnknownHook,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.components, tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDispatchHonoursCancellation(t *testing.T) {
	reg, err := NewRegistry([]Component[*recorder]{Func("a", recordingHooks("a", OnBuildingInit))})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := &recorder{}
	assert.ErrorIs(t, reg.Dispatch(ctx, OnBuildingInit, state), context.Canceled)
	assert.Empty(t, state.calls)
}

func TestHookOrderIsTotal(t *testing.T) {
	for i := 1; i < len(BuildingHooks); i++ {
		assert.Less(t, Order(BuildingHooks[i-1]), Order(BuildingHooks[i]))
	}
	assert.Equal(t, -1, Order(Hook("nope")))
	assert.True(t, Known(OnVariablesRunServerLoop))
}
