package replay

import (
	"fmt"
	"slices"
	"sort"

	"github.com/hupe1980/marlmesh/core"
)

// Item is one replay record: a flat mapping from field path (for example
// "observations/agent_0") to the field's values.
type Item map[string][]float64

// Clone returns a deep copy.
func (it Item) Clone() Item {
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = slices.Clone(v)
	}
	return out
}

// Signature is the data-shape contract a table enforces on inserted items.
type Signature map[string]core.ArraySpec

// Fields returns the field paths in sorted order.
func (s Signature) Fields() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Check verifies that item has exactly the signature's fields with matching
// element counts. An empty signature accepts every item.
func (s Signature) Check(item Item) error {
	if len(s) == 0 {
		return nil
	}
	for _, field := range s.Fields() {
		values, ok := item[field]
		if !ok {
			return fmt.Errorf("%w: missing field %q", ErrSignatureMismatch, field)
		}
		spec := s[field]
		if len(values) != spec.Size() {
			return fmt.Errorf("%w: field %q has %d elements, want %d (shape %v)",
				ErrSignatureMismatch, field, len(values), spec.Size(), spec.Shape)
		}
	}
	for field := range item {
		if _, ok := s[field]; !ok {
			return fmt.Errorf("%w: unexpected field %q", ErrSignatureMismatch, field)
		}
	}
	return nil
}
