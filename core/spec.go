package core

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// DType names the element type of an array. Values travel as float64 on the
// wire; the dtype is kept so signatures can be checked and reported.
type DType string

const (
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Bool    DType = "bool"
)

// ArraySpec describes the shape of one array.
type ArraySpec struct {
	Name  string `yaml:"name,omitempty" cbor:"name,omitempty"`
	Shape []int  `yaml:"shape" cbor:"shape"`
	DType DType  `yaml:"dtype" cbor:"dtype"`

	// Minimum and Maximum bound every element when set (bounded spec).
	Minimum []float64 `yaml:"minimum,omitempty" cbor:"minimum,omitempty"`
	Maximum []float64 `yaml:"maximum,omitempty" cbor:"maximum,omitempty"`

	// NumValues is the number of discrete values for a discrete spec.
	NumValues int `yaml:"num_values,omitempty" cbor:"num_values,omitempty"`
}

// Size is the number of elements. A scalar spec has size 1.
func (s ArraySpec) Size() int {
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	return n
}

// Discrete reports whether the spec describes categorical values.
func (s ArraySpec) Discrete() bool { return s.NumValues > 0 }

// Bounded reports whether the spec carries element bounds.
func (s ArraySpec) Bounded() bool { return len(s.Minimum) > 0 || len(s.Maximum) > 0 }

// Check returns an error if values does not match the spec's size.
func (s ArraySpec) Check(values []float64) error {
	if len(values) != s.Size() {
		return fmt.Errorf("%s: expected %d elements for shape %v, got %d", s.Name, s.Size(), s.Shape, len(values))
	}
	return nil
}

// Clone returns a deep copy.
func (s ArraySpec) Clone() ArraySpec {
	s.Shape = slices.Clone(s.Shape)
	s.Minimum = slices.Clone(s.Minimum)
	s.Maximum = slices.Clone(s.Maximum)
	return s
}

// AgentSpec groups the per-agent specs exposed by an environment.
type AgentSpec struct {
	Observations ArraySpec `yaml:"observations" cbor:"observations"`
	Actions      ArraySpec `yaml:"actions" cbor:"actions"`
	Rewards      ArraySpec `yaml:"rewards" cbor:"rewards"`
	Discounts    ArraySpec `yaml:"discounts" cbor:"discounts"`
}

// Clone returns a deep copy.
func (a AgentSpec) Clone() AgentSpec {
	return AgentSpec{
		Observations: a.Observations.Clone(),
		Actions:      a.Actions.Clone(),
		Rewards:      a.Rewards.Clone(),
		Discounts:    a.Discounts.Clone(),
	}
}

// EnvironmentSpec is the joint spec of a multi-agent environment.
type EnvironmentSpec struct {
	Agents map[string]AgentSpec `yaml:"agents" cbor:"agents"`
	Extras map[string]ArraySpec `yaml:"extras,omitempty" cbor:"extras,omitempty"`
}

// AgentIDs returns the agent ids in natural order (agent_2 before agent_10).
func (e EnvironmentSpec) AgentIDs() []string {
	ids := make([]string, 0, len(e.Agents))
	for id := range e.Agents {
		ids = append(ids, id)
	}
	SortNatural(ids)
	return ids
}

// AgentTypes returns the distinct agent types, in agent id order. The type
// of an agent is its id with the trailing "_<n>" removed.
func (e EnvironmentSpec) AgentTypes() []string {
	var types []string
	seen := map[string]bool{}
	for _, id := range e.AgentIDs() {
		t := AgentType(id)
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	return types
}

// Clone returns a deep copy.
func (e EnvironmentSpec) Clone() EnvironmentSpec {
	out := EnvironmentSpec{Agents: make(map[string]AgentSpec, len(e.Agents))}
	for id, a := range e.Agents {
		out.Agents[id] = a.Clone()
	}
	if e.Extras != nil {
		out.Extras = make(map[string]ArraySpec, len(e.Extras))
		for k, s := range e.Extras {
			out.Extras[k] = s.Clone()
		}
	}
	return out
}

// Validate checks that the spec has at least one agent and sane shapes.
func (e EnvironmentSpec) Validate() error {
	if len(e.Agents) == 0 {
		return fmt.Errorf("environment spec has no agents")
	}
	for id, a := range e.Agents {
		for _, s := range []ArraySpec{a.Observations, a.Actions} {
			for _, d := range s.Shape {
				if d <= 0 {
					return fmt.Errorf("agent %q: non-positive dimension in shape %v", id, s.Shape)
				}
			}
		}
	}
	return nil
}

// AgentType strips the trailing "_<n>" from an agent id.
func AgentType(id string) string {
	if i := strings.LastIndex(id, "_"); i > 0 {
		return id[:i]
	}
	return id
}

// SortNatural sorts ids comparing trailing integers numerically.
func SortNatural(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool { return naturalLess(ids[i], ids[j]) })
}

func naturalLess(a, b string) bool {
	pa, na, oka := splitNumericSuffix(a)
	pb, nb, okb := splitNumericSuffix(b)
	if oka && okb && pa == pb {
		return na < nb
	}
	return a < b
}

func splitNumericSuffix(s string) (string, int, bool) {
	i := strings.LastIndex(s, "_")
	if i < 0 {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}
