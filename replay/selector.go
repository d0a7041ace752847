package replay

import (
	"fmt"
	"math"
	"math/rand"
)

// Selector chooses which item a table samples or removes.
type Selector string

const (
	Uniform     Selector = "uniform"
	Fifo        Selector = "fifo"
	Lifo        Selector = "lifo"
	Prioritized Selector = "prioritized"
	MaxHeap     Selector = "max_heap"
	MinHeap     Selector = "min_heap"
)

// Valid reports whether s is a known selector.
func (s Selector) Valid() bool {
	switch s {
	case Uniform, Fifo, Lifo, Prioritized, MaxHeap, MinHeap:
		return true
	}
	return false
}

// pick returns the index of the selected entry and its selection
// probability. entries must be non-empty and in insertion order.
func (s Selector) pick(entries []*entry, exponent float64, rng *rand.Rand) (int, float64) {
	n := len(entries)
	switch s {
	case Fifo:
		return 0, 1
	case Lifo:
		return n - 1, 1
	case MaxHeap, MinHeap:
		best := 0
		for i := 1; i < n; i++ {
			p, b := entries[i].priority, entries[best].priority
			if (s == MaxHeap && p > b) || (s == MinHeap && p < b) {
				best = i
			}
		}
		return best, 1
	case Prioritized:
		weights := make([]float64, n)
		total := 0.0
		for i, e := range entries {
			w := math.Pow(math.Max(e.priority, 0), exponent)
			weights[i] = w
			total += w
		}
		if total <= 0 {
			return rng.Intn(n), 1 / float64(n)
		}
		target := rng.Float64() * total
		for i, w := range weights {
			target -= w
			if target < 0 {
				return i, w / total
			}
		}
		return n - 1, weights[n-1] / total
	default:
		return rng.Intn(n), 1 / float64(n)
	}
}

func (s Selector) String() string {
	if s.Valid() {
		return string(s)
	}
	return fmt.Sprintf("invalid(%s)", string(s))
}
