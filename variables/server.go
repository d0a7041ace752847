package variables

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/internal/clock"
	"github.com/hupe1980/marlmesh/logging"
)

// State is the lifecycle state of a Server.
type State int32

const (
	StateInitializing State = iota
	StateServing
	StateCheckpointing
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateServing:
		return "serving"
	case StateCheckpointing:
		return "checkpointing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source is the variable RPC surface consumed by clients. Both *Server and
// *RemoteSource implement it.
type Source interface {
	GetVariables(ctx context.Context, names ...string) (Collection, error)
	SetVariables(ctx context.Context, values Collection) error
	AddToVariables(ctx context.Context, deltas map[string]Tensor) error
}

// ServerState is the shared state passed to variable server components.
// Hooks run while the server holds its lock; they must not call back into
// the Server.
type ServerState struct {
	*core.LoggerAdapter

	// Variables is the live collection.
	Variables Collection

	// Names, Values and Deltas carry the arguments of the request being
	// served; Result holds the snapshot a get returns.
	Names  []string
	Values Collection
	Deltas map[string]Tensor
	Result Collection

	// Now is the clock reading at the start of the current loop iteration.
	Now time.Time
	// LastCheckpoint is when the collection was last persisted.
	LastCheckpoint time.Time
	// CheckpointDue is set before on_variables_run_server_loop_checkpoint;
	// components may clear or force it.
	CheckpointDue bool
	// Terminate stops Run after the current iteration.
	Terminate bool
}

// Options configures a Server.
type Options struct {
	// Components contribute variable server hooks.
	Components []callback.Component[*ServerState]

	// Checkpointer persists the collection; nil disables checkpointing.
	Checkpointer *Checkpointer
	// CheckpointInterval is the Run loop period.
	CheckpointInterval time.Duration
	// RestoreOnInit restores the latest checkpoint of the run during
	// initialisation when one exists.
	RestoreOnInit bool

	Clock  clock.Clock
	Logger logging.Logger
}

// Server is the authoritative store of trainable parameters.
type Server struct {
	mu       sync.Mutex
	state    *ServerState
	registry *callback.Registry[*ServerState]
	status   atomic.Int32

	checkpointer       *Checkpointer
	checkpointInterval time.Duration
	clock              clock.Clock
	logger             logging.Logger
}

// NewServer builds a server around initial and runs the init hooks
// (init_start, init, checkpoint, init_end). The collection is copied.
func NewServer(ctx context.Context, initial Collection, optFns ...func(o *Options)) (*Server, error) {
	opts := Options{
		CheckpointInterval: 10 * time.Minute,
		RestoreOnInit:      true,
		Clock:              clock.Real(),
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := logging.OrNoOp(opts.Logger)
	if opts.CheckpointInterval <= 0 {
		return nil, fmt.Errorf("checkpoint interval must be positive, got %s", opts.CheckpointInterval)
	}

	registry, err := callback.NewRegistry(opts.Components, func(o *callback.Options) {
		o.Allowed = callback.VariablesHooks
		o.Logger = logger
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		state: &ServerState{
			LoggerAdapter: core.NewLoggerAdapter(logger),
			Variables:     initial.Clone(),
		},
		registry:           registry,
		checkpointer:       opts.Checkpointer,
		checkpointInterval: opts.CheckpointInterval,
		clock:              opts.Clock,
		logger:             logger,
	}
	s.status.Store(int32(StateInitializing))

	if err := s.init(ctx, opts.RestoreOnInit); err != nil {
		return nil, err
	}
	s.status.Store(int32(StateServing))
	logger.Info("variable server serving", "variables", len(s.state.Variables))
	return s, nil
}

func (s *Server) init(ctx context.Context, restore bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	if err := s.registry.DispatchAll(ctx, st, callback.OnVariablesInitStart, callback.OnVariablesInit); err != nil {
		return err
	}

	if restore && s.checkpointer != nil {
		restored, id, err := s.checkpointer.RestoreLatest(ctx)
		switch {
		case errors.Is(err, ErrNoCheckpoint):
		case err != nil:
			return fmt.Errorf("restoring checkpoint: %w", err)
		default:
			n := 0
			for name, v := range restored {
				cur, ok := st.Variables[name]
				if !ok {
					s.logger.Warn("checkpoint entry not in collection", "variable", name)
					continue
				}
				if err := cur.compatible(name, v); err != nil {
					return fmt.Errorf("restoring checkpoint %s: %w", id, err)
				}
				cur.assign(v)
				n++
			}
			s.logger.Info("restored checkpoint", "checkpoint_id", id, "variables", n)
		}
	}
	st.LastCheckpoint = s.clock.Now()

	return s.registry.DispatchAll(ctx, st, callback.OnVariablesCheckpoint, callback.OnVariablesInitEnd)
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.status.Load()) }

// Names returns the variable names in sorted order.
func (s *Server) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Variables.Names()
}

// GetVariables returns deep copies of the named variables. It fails with
// ErrUnknownVariable if any name is absent.
func (s *Server) GetVariables(ctx context.Context, names ...string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.Names, st.Values, st.Deltas, st.Result = names, nil, nil, nil
	defer s.clearRequest()

	if err := s.registry.Dispatch(ctx, callback.OnVariablesGetServerVariablesStart, st); err != nil {
		return nil, err
	}

	result := make(Collection, len(names))
	for _, name := range names {
		v, ok := st.Variables[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
		}
		result[name] = v.Clone()
	}
	st.Result = result

	if err := s.registry.DispatchAll(ctx, st, callback.OnVariablesGetServerVariables, callback.OnVariablesGetServerVariablesEnd); err != nil {
		return nil, err
	}
	return st.Result, nil
}

// SetVariables overwrites the named variables in place. Group values must
// match the stored arity and every tensor must match its stored shape.
// Nothing is written unless every value validates.
func (s *Server) SetVariables(ctx context.Context, values Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.Names, st.Values, st.Deltas, st.Result = values.Names(), values, nil, nil
	defer s.clearRequest()

	if err := s.registry.Dispatch(ctx, callback.OnVariablesSetServerVariablesStart, st); err != nil {
		return err
	}

	for _, name := range st.Names {
		cur, ok := st.Variables[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownVariable, name)
		}
		if err := cur.compatible(name, values[name]); err != nil {
			return err
		}
	}
	for _, name := range st.Names {
		cur := st.Variables[name]
		cur.assign(values[name])
	}

	return s.registry.DispatchAll(ctx, st, callback.OnVariablesSetServerVariables, callback.OnVariablesSetServerVariablesEnd)
}

// AddToVariables accumulates deltas into tensor variables. Adding to a
// parameter group is an ErrInvalidOperation. The whole call is applied
// atomically with respect to other server operations.
func (s *Server) AddToVariables(ctx context.Context, deltas map[string]Tensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state
	st.Names, st.Values, st.Deltas, st.Result = slices.Sorted(maps.Keys(deltas)), nil, deltas, nil
	defer s.clearRequest()

	if err := s.registry.Dispatch(ctx, callback.OnVariablesAddToServerVariablesStart, st); err != nil {
		return err
	}

	for _, name := range st.Names {
		cur, ok := st.Variables[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownVariable, name)
		}
		if cur.Kind == KindGroup {
			return fmt.Errorf("%w: cannot add to parameter group %q", ErrInvalidOperation, name)
		}
		if !cur.Tensor.SameShape(deltas[name]) {
			return fmt.Errorf("%w: %q has shape %v, delta has %v", ErrShapeMismatch, name, cur.Tensor.Shape, deltas[name].Shape)
		}
	}
	for _, name := range st.Names {
		floats.Add(st.Variables[name].Tensor.Data, deltas[name].Data)
	}

	return s.registry.DispatchAll(ctx, st, callback.OnVariablesAddToServerVariables, callback.OnVariablesAddToServerVariablesEnd)
}

func (s *Server) clearRequest() {
	s.state.Names, s.state.Values, s.state.Deltas, s.state.Result = nil, nil, nil, nil
}

// Checkpoint persists the collection now. Requests keep being served while
// the snapshot is written.
func (s *Server) Checkpoint(ctx context.Context) (string, error) {
	if s.checkpointer == nil {
		return "", errors.New("checkpointing is disabled")
	}

	s.mu.Lock()
	snapshot := s.state.Variables.Clone()
	s.mu.Unlock()

	s.status.Store(int32(StateCheckpointing))
	defer s.status.Store(int32(StateServing))

	id, err := s.checkpointer.Save(ctx, snapshot)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.state.LastCheckpoint = s.clock.Now()
	s.mu.Unlock()
	return id, nil
}

// Tick runs one iteration of the service loop: loop_start, loop_checkpoint
// (checkpointing when an interval has elapsed since the last one), loop,
// loop_termination and loop_end. It reports whether a component asked the
// loop to terminate.
func (s *Server) Tick(ctx context.Context) (bool, error) {
	s.mu.Lock()
	st := s.state
	st.Now = s.clock.Now()
	st.CheckpointDue = s.checkpointer != nil && st.Now.Sub(st.LastCheckpoint) >= s.checkpointInterval
	err := s.registry.DispatchAll(ctx, st, callback.OnVariablesRunServerLoopStart, callback.OnVariablesRunServerLoopCheckpoint)
	due := st.CheckpointDue
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	if due {
		if _, err := s.Checkpoint(ctx); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.registry.DispatchAll(ctx, st,
		callback.OnVariablesRunServerLoop,
		callback.OnVariablesRunServerLoopTermination,
		callback.OnVariablesRunServerLoopEnd,
	); err != nil {
		return false, err
	}
	return st.Terminate, nil
}

// Run drives the service loop, sleeping CheckpointInterval between ticks,
// until ctx is cancelled or a component sets Terminate.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	err := s.registry.Dispatch(ctx, callback.OnVariablesRunServerStart, s.state)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.checkpointInterval):
		}

		stop, err := s.Tick(ctx)
		if err != nil {
			return err
		}
		if stop {
			s.logger.Info("variable server loop terminated")
			return nil
		}
	}
}
