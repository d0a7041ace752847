package adders

import "github.com/hupe1980/marlmesh/replay"

// PriorityFn computes the insertion priority of an item.
type PriorityFn func(item replay.Item) float64

// Uniform gives every item priority 1.
func Uniform(replay.Item) float64 { return 1 }

// Priorities maps table names to priority functions. Tables without an
// entry use Uniform.
type Priorities map[string]PriorityFn

func (p Priorities) of(table string) PriorityFn {
	if fn, ok := p[table]; ok && fn != nil {
		return fn
	}
	return Uniform
}
