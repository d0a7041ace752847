package adders

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/logging"
	"github.com/hupe1980/marlmesh/replay"
)

// TransitionOptions configures a ParallelNStepTransitionAdder.
type TransitionOptions struct {
	// NStep is the number of steps accumulated before bootstrapping.
	NStep int
	// Discount is the per-step discount factor gamma.
	Discount float64
	// Priorities assigns insertion priorities per table.
	Priorities Priorities
	Logger     logging.Logger
}

// ParallelNStepTransitionAdder writes n-step transitions. For a window of m
// steps starting at t (m = NStep, or fewer at the end of an episode):
//
//	R = sum_k gamma^k * d_t..d_t+k-1 * r_t+k
//	D = gamma^(m-1) * d_t..d_t+m-1
//
// so a learner's target is R + gamma * D * Q(o_t+m).
type ParallelNStepTransitionAdder struct {
	writer
	nStep    int
	discount float64

	mu      sync.Mutex
	started bool
	current map[string][]float64
	extras  map[string][]float64
	buffer  []step
}

var _ core.Adder = (*ParallelNStepTransitionAdder)(nil)

// NewParallelNStepTransitionAdder creates an adder writing to tables, which
// maps table names to the agents whose data each table receives.
func NewParallelNStepTransitionAdder(client replay.Client, tables map[string][]string, optFns ...func(o *TransitionOptions)) (*ParallelNStepTransitionAdder, error) {
	opts := TransitionOptions{NStep: 1, Discount: 1}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.NStep < 1 {
		return nil, fmt.Errorf("%w: n-step %d", ErrInvalidConfig, opts.NStep)
	}
	if opts.Discount < 0 || opts.Discount > 1 {
		return nil, fmt.Errorf("%w: discount %v outside [0, 1]", ErrInvalidConfig, opts.Discount)
	}
	w, err := newWriter(client, tables, opts.Priorities, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &ParallelNStepTransitionAdder{writer: w, nStep: opts.NStep, discount: opts.Discount}, nil
}

// AddFirst opens an episode, dropping any unfinished transitions.
func (a *ParallelNStepTransitionAdder) AddFirst(_ context.Context, ts core.TimeStep) error {
	if err := a.checkObservations(ts); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = a.buffer[:0]
	a.current = cloneValues(ts.Observations)
	a.extras = cloneValues(ts.Extras)
	a.started = true
	return nil
}

// Add records actions and the resulting timestep. Once NStep steps are
// buffered the oldest transition is written; at episode end every buffered
// transition is flushed with a truncated horizon.
func (a *ParallelNStepTransitionAdder) Add(ctx context.Context, actions map[string][]float64, next core.TimeStep, extras map[string][]float64) error {
	if err := a.checkStep(actions, next); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return ErrNotStarted
	}

	a.buffer = append(a.buffer, newStep(a.current, actions, next, a.extras))
	a.current = cloneValues(next.Observations)
	a.extras = cloneValues(extras)

	if len(a.buffer) == a.nStep {
		if err := a.write(ctx, a.transition(a.buffer)); err != nil {
			return err
		}
		a.buffer = a.buffer[1:]
	}

	if next.Done() {
		for len(a.buffer) > 0 {
			if err := a.write(ctx, a.transition(a.buffer)); err != nil {
				return err
			}
			a.buffer = a.buffer[1:]
		}
		a.started = false
	}
	return nil
}

// Reset drops the episode in progress.
func (a *ParallelNStepTransitionAdder) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = nil
	a.current = nil
	a.extras = nil
	a.started = false
}

func (a *ParallelNStepTransitionAdder) transition(window []step) func(agents []string) replay.Item {
	first := window[0]
	bootstrap := a.current
	return func(agents []string) replay.Item {
		item := replay.Item{}
		for _, id := range agents {
			rewards := make([]float64, len(window))
			discounts := make([]float64, len(window))
			for k, st := range window {
				rewards[k] = st.rewards[id]
				discounts[k] = st.discounts[id]
			}
			ret, disc := nStepReturn(rewards, discounts, a.discount)

			item[ObservationsPrefix+id] = first.observations[id]
			item[ActionsPrefix+id] = first.actions[id]
			item[RewardsPrefix+id] = []float64{ret}
			item[DiscountsPrefix+id] = []float64{disc}
			item[NextObservationsPrefix+id] = bootstrap[id]
		}
		for key, v := range first.extras {
			item[ExtrasPrefix+key] = v
		}
		return item
	}
}

// nStepReturn computes the discounted return and bootstrap discount of a
// window of rewards and per-step discounts.
func nStepReturn(rewards, discounts []float64, gamma float64) (float64, float64) {
	weights := make([]float64, len(rewards))
	w := 1.0
	for k := range rewards {
		weights[k] = w
		w *= gamma * discounts[k]
	}
	return floats.Dot(weights, rewards), floats.Prod(discounts) * math.Pow(gamma, float64(len(discounts)-1))
}
