package adders

import (
	"sort"

	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/replay"
)

// Field path prefixes.
const (
	ObservationsPrefix     = "observations/"
	NextObservationsPrefix = "next_observations/"
	ActionsPrefix          = "actions/"
	RewardsPrefix          = "rewards/"
	DiscountsPrefix        = "discounts/"
	ExtrasPrefix           = "extras/"

	// MaskField marks the real (1) and padded (0) steps of a sequence.
	MaskField = "mask"
)

// SignatureFn derives a table signature from the (possibly converted)
// environment spec and extra specs of the agents the table serves.
type SignatureFn func(spec core.EnvironmentSpec, extras map[string]core.ArraySpec) replay.Signature

func scalarSpec(s core.ArraySpec, name string) core.ArraySpec {
	out := s.Clone()
	out.Shape = nil
	if out.Name == "" {
		out.Name = name
	}
	if out.DType == "" {
		out.DType = core.Float32
	}
	return out
}

// TransitionSignature is the SignatureFn of ParallelNStepTransitionAdder.
func TransitionSignature(spec core.EnvironmentSpec, extras map[string]core.ArraySpec) replay.Signature {
	sig := replay.Signature{}
	for id, agent := range spec.Agents {
		sig[ObservationsPrefix+id] = agent.Observations.Clone()
		sig[NextObservationsPrefix+id] = agent.Observations.Clone()
		sig[ActionsPrefix+id] = agent.Actions.Clone()
		sig[RewardsPrefix+id] = scalarSpec(agent.Rewards, "reward")
		sig[DiscountsPrefix+id] = scalarSpec(agent.Discounts, "discount")
	}
	for key, s := range extras {
		sig[ExtrasPrefix+key] = s.Clone()
	}
	return sig
}

// SequenceSignature returns the SignatureFn of a ParallelSequenceAdder
// writing sequences of length sequenceLength.
func SequenceSignature(sequenceLength int) SignatureFn {
	return func(spec core.EnvironmentSpec, extras map[string]core.ArraySpec) replay.Signature {
		sig := replay.Signature{
			MaskField: {Name: "mask", Shape: []int{sequenceLength}, DType: core.Float32},
		}
		for id, agent := range spec.Agents {
			sig[ObservationsPrefix+id] = stacked(agent.Observations, sequenceLength)
			sig[ActionsPrefix+id] = stacked(agent.Actions, sequenceLength)
			sig[RewardsPrefix+id] = stacked(scalarSpec(agent.Rewards, "reward"), sequenceLength)
			sig[DiscountsPrefix+id] = stacked(scalarSpec(agent.Discounts, "discount"), sequenceLength)
		}
		for key, s := range extras {
			sig[ExtrasPrefix+key] = stacked(s, sequenceLength)
		}
		return sig
	}
}

// stacked prepends a time dimension. Bounds are dropped since they no
// longer line up with the flattened values.
func stacked(s core.ArraySpec, n int) core.ArraySpec {
	return core.ArraySpec{
		Name:  s.Name,
		Shape: append([]int{n}, s.Shape...),
		DType: s.DType,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
