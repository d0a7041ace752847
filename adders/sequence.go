package adders

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/logging"
	"github.com/hupe1980/marlmesh/replay"
)

// SequenceOptions configures a ParallelSequenceAdder.
type SequenceOptions struct {
	// SequenceLength is the number of steps per item.
	SequenceLength int
	// Period is the number of steps between the starts of consecutive
	// sequences. Period < SequenceLength yields overlapping sequences.
	Period int
	// Priorities assigns insertion priorities per table.
	Priorities Priorities
	Logger     logging.Logger
}

// ParallelSequenceAdder writes fixed-length sequences of steps. Episodes
// that end before a sequence fills are zero padded; the mask field marks
// the real steps.
type ParallelSequenceAdder struct {
	writer
	length int
	period int

	mu        sync.Mutex
	started   bool
	current   map[string][]float64
	extras    map[string][]float64
	buffer    []step
	sinceEmit int
	emitted   bool
}

var _ core.Adder = (*ParallelSequenceAdder)(nil)

// NewParallelSequenceAdder creates an adder writing to tables, which maps
// table names to the agents whose data each table receives.
func NewParallelSequenceAdder(client replay.Client, tables map[string][]string, optFns ...func(o *SequenceOptions)) (*ParallelSequenceAdder, error) {
	opts := SequenceOptions{SequenceLength: 20, Period: 20}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SequenceLength < 1 {
		return nil, fmt.Errorf("%w: sequence length %d", ErrInvalidConfig, opts.SequenceLength)
	}
	if opts.Period < 1 || opts.Period > opts.SequenceLength {
		return nil, fmt.Errorf("%w: period %d must be in [1, %d]", ErrInvalidConfig, opts.Period, opts.SequenceLength)
	}
	w, err := newWriter(client, tables, opts.Priorities, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &ParallelSequenceAdder{writer: w, length: opts.SequenceLength, period: opts.Period}, nil
}

// AddFirst opens an episode, dropping any unfinished sequence.
func (a *ParallelSequenceAdder) AddFirst(_ context.Context, ts core.TimeStep) error {
	if err := a.checkObservations(ts); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
	a.current = cloneValues(ts.Observations)
	a.extras = cloneValues(ts.Extras)
	a.started = true
	return nil
}

// Add records actions and the resulting timestep, writing a sequence when
// one is due and flushing the remainder at episode end.
func (a *ParallelSequenceAdder) Add(ctx context.Context, actions map[string][]float64, next core.TimeStep, extras map[string][]float64) error {
	if err := a.checkStep(actions, next); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return ErrNotStarted
	}

	a.buffer = append(a.buffer, newStep(a.current, actions, next, a.extras))
	if len(a.buffer) > a.length {
		a.buffer = a.buffer[len(a.buffer)-a.length:]
	}
	a.current = cloneValues(next.Observations)
	a.extras = cloneValues(extras)
	a.sinceEmit++

	if len(a.buffer) == a.length && (!a.emitted || a.sinceEmit >= a.period) {
		if err := a.write(ctx, a.sequence(a.buffer)); err != nil {
			return err
		}
		a.emitted = true
		a.sinceEmit = 0
	}

	if next.Done() {
		if a.sinceEmit > 0 || !a.emitted {
			if err := a.write(ctx, a.sequence(a.buffer)); err != nil {
				return err
			}
		}
		a.reset()
	}
	return nil
}

// Reset drops the episode in progress.
func (a *ParallelSequenceAdder) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

func (a *ParallelSequenceAdder) reset() {
	a.buffer = nil
	a.current = nil
	a.extras = nil
	a.sinceEmit = 0
	a.emitted = false
	a.started = false
}

// sequence flattens steps into length-long fields, zero padding the tail.
func (a *ParallelSequenceAdder) sequence(steps []step) func(agents []string) replay.Item {
	n := a.length
	return func(agents []string) replay.Item {
		item := replay.Item{}
		mask := make([]float64, n)
		for i := range steps {
			mask[i] = 1
		}
		item[MaskField] = mask

		for _, id := range agents {
			item[ObservationsPrefix+id] = stack(steps, n, func(s step) []float64 { return s.observations[id] })
			item[ActionsPrefix+id] = stack(steps, n, func(s step) []float64 { return s.actions[id] })
			item[RewardsPrefix+id] = stack(steps, n, func(s step) []float64 { return []float64{s.rewards[id]} })
			item[DiscountsPrefix+id] = stack(steps, n, func(s step) []float64 { return []float64{s.discounts[id]} })
		}
		for key := range steps[0].extras {
			item[ExtrasPrefix+key] = stack(steps, n, func(s step) []float64 { return s.extras[key] })
		}
		return item
	}
}

// stack concatenates field(s) for each step and pads to n rows using the
// width of the first row.
func stack(steps []step, n int, field func(step) []float64) []float64 {
	width := len(field(steps[0]))
	out := make([]float64, 0, n*width)
	for _, s := range steps {
		row := field(s)
		if len(row) != width {
			row = make([]float64, width)
		}
		out = append(out, row...)
	}
	return append(out, make([]float64, (n-len(steps))*width)...)
}
