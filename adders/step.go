package adders

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/logging"
	"github.com/hupe1980/marlmesh/replay"
)

// step is one buffered transition from the point of view of time t.
type step struct {
	observations map[string][]float64
	actions      map[string][]float64
	rewards      map[string]float64
	discounts    map[string]float64
	extras       map[string][]float64
}

// writer holds what both adders share: the table routing and the client.
type writer struct {
	client     replay.Client
	tables     map[string][]string
	tableNames []string
	priorities Priorities
	logger     logging.Logger
}

func newWriter(client replay.Client, tables map[string][]string, priorities Priorities, logger logging.Logger) (writer, error) {
	if client == nil {
		return writer{}, fmt.Errorf("%w: nil replay client", ErrInvalidConfig)
	}
	if len(tables) == 0 {
		return writer{}, fmt.Errorf("%w: no tables", ErrInvalidConfig)
	}
	routed := make(map[string][]string, len(tables))
	for name, agents := range tables {
		if len(agents) == 0 {
			return writer{}, fmt.Errorf("%w: table %q serves no agents", ErrInvalidConfig, name)
		}
		routed[name] = slices.Clone(agents)
	}
	return writer{
		client:     client,
		tables:     routed,
		tableNames: sortedKeys(routed),
		priorities: priorities,
		logger:     logging.OrNoOp(logger),
	}, nil
}

// agents returns every agent served by at least one table.
func (w writer) agents() []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range w.tableNames {
		for _, a := range w.tables[name] {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// write builds one item per table with build and inserts it.
func (w writer) write(ctx context.Context, build func(agents []string) replay.Item) error {
	for _, name := range w.tableNames {
		item := build(w.tables[name])
		if err := w.client.Insert(ctx, name, item, w.priorities.of(name)(item)); err != nil {
			return fmt.Errorf("inserting into %q: %w", name, err)
		}
		w.logger.Debug("replay item written", "table", name, "fields", len(item))
	}
	return nil
}

func (w writer) checkObservations(ts core.TimeStep) error {
	for _, a := range w.agents() {
		if _, ok := ts.Observations[a]; !ok {
			return fmt.Errorf("%w: no observation for %q", ErrIncompleteStep, a)
		}
	}
	return nil
}

func (w writer) checkStep(actions map[string][]float64, next core.TimeStep) error {
	for _, a := range w.agents() {
		if _, ok := actions[a]; !ok {
			return fmt.Errorf("%w: no action for %q", ErrIncompleteStep, a)
		}
		if _, ok := next.Rewards[a]; !ok {
			return fmt.Errorf("%w: no reward for %q", ErrIncompleteStep, a)
		}
		if _, ok := next.Discounts[a]; !ok {
			return fmt.Errorf("%w: no discount for %q", ErrIncompleteStep, a)
		}
	}
	return w.checkObservations(next)
}

func cloneValues(m map[string][]float64) map[string][]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string][]float64, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

func newStep(observations, actions map[string][]float64, next core.TimeStep, extras map[string][]float64) step {
	return step{
		observations: cloneValues(observations),
		actions:      cloneValues(actions),
		rewards:      maps.Clone(next.Rewards),
		discounts:    maps.Clone(next.Discounts),
		extras:       cloneValues(extras),
	}
}
