package variables

import (
	"fmt"
	"slices"
	"sort"
)

// Tensor is a dense float64 array.
type Tensor struct {
	Shape []int     `cbor:"shape"`
	Data  []float64 `cbor:"data"`
}

// NewTensor builds a tensor and checks data against shape.
func NewTensor(shape []int, data []float64) (Tensor, error) {
	t := Tensor{Shape: slices.Clone(shape), Data: slices.Clone(data)}
	if t.Size() != len(data) {
		return Tensor{}, fmt.Errorf("%w: shape %v holds %d elements, got %d", ErrShapeMismatch, shape, t.Size(), len(data))
	}
	return t, nil
}

// Zeros returns a zero tensor of the given shape.
func Zeros(shape ...int) Tensor {
	t := Tensor{Shape: slices.Clone(shape)}
	t.Data = make([]float64, t.Size())
	return t
}

// Size is the number of elements; a scalar has size 1.
func (t Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Clone returns a deep copy.
func (t Tensor) Clone() Tensor {
	return Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// SameShape reports whether t and o have identical shapes.
func (t Tensor) SameShape(o Tensor) bool {
	return slices.Equal(t.Shape, o.Shape) && len(t.Data) == len(o.Data)
}

// Equal reports whether t and o have the same shape and values.
func (t Tensor) Equal(o Tensor) bool {
	return t.SameShape(o) && slices.Equal(t.Data, o.Data)
}

// Kind distinguishes single tensors from parameter groups.
type Kind uint8

const (
	// KindTensor is a single tensor, e.g. a step counter.
	KindTensor Kind = iota
	// KindGroup is an ordered tuple of tensors, e.g. a network's weights.
	KindGroup
)

func (k Kind) String() string {
	if k == KindGroup {
		return "group"
	}
	return "tensor"
}

// Variable is one entry of a collection: either a tensor or a tuple of
// tensors. An empty group is a placeholder for a network with no parameters
// and is never checkpointed.
type Variable struct {
	Kind   Kind     `cbor:"kind"`
	Tensor Tensor   `cbor:"tensor"`
	Group  []Tensor `cbor:"group,omitempty"`
}

// TensorVariable wraps a tensor.
func TensorVariable(t Tensor) Variable {
	return Variable{Kind: KindTensor, Tensor: t}
}

// Scalar returns a scalar tensor variable.
func Scalar(v float64) Variable {
	return TensorVariable(Tensor{Data: []float64{v}})
}

// GroupVariable wraps a tuple of tensors. With no tensors it is a placeholder.
func GroupVariable(ts ...Tensor) Variable {
	return Variable{Kind: KindGroup, Group: ts}
}

// Placeholder reports whether v is an empty parameter group.
func (v Variable) Placeholder() bool {
	return v.Kind == KindGroup && len(v.Group) == 0
}

// Clone returns a deep copy.
func (v Variable) Clone() Variable {
	out := Variable{Kind: v.Kind, Tensor: v.Tensor.Clone()}
	if v.Group != nil {
		out.Group = make([]Tensor, len(v.Group))
		for i, t := range v.Group {
			out.Group[i] = t.Clone()
		}
	}
	return out
}

// Equal reports observational equality.
func (v Variable) Equal(o Variable) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == KindTensor {
		return v.Tensor.Equal(o.Tensor)
	}
	if len(v.Group) != len(o.Group) {
		return false
	}
	for i := range v.Group {
		if !v.Group[i].Equal(o.Group[i]) {
			return false
		}
	}
	return true
}

// compatible checks that o may overwrite v.
func (v Variable) compatible(name string, o Variable) error {
	if v.Kind != o.Kind {
		return fmt.Errorf("%w: %q is a %s, got a %s", ErrShapeMismatch, name, v.Kind, o.Kind)
	}
	if v.Kind == KindTensor {
		if !v.Tensor.SameShape(o.Tensor) {
			return fmt.Errorf("%w: %q has shape %v, got %v", ErrShapeMismatch, name, v.Tensor.Shape, o.Tensor.Shape)
		}
		return nil
	}
	if len(v.Group) != len(o.Group) {
		return fmt.Errorf("%w: %q has %d tensors, got %d", ErrShapeMismatch, name, len(v.Group), len(o.Group))
	}
	for i := range v.Group {
		if !v.Group[i].SameShape(o.Group[i]) {
			return fmt.Errorf("%w: %q element %d has shape %v, got %v", ErrShapeMismatch, name, i, v.Group[i].Shape, o.Group[i].Shape)
		}
	}
	return nil
}

// assign copies o's values into v's existing buffers.
func (v *Variable) assign(o Variable) {
	if v.Kind == KindTensor {
		copy(v.Tensor.Data, o.Tensor.Data)
		return
	}
	for i := range v.Group {
		copy(v.Group[i].Data, o.Group[i].Data)
	}
}

// Collection maps variable names to variables.
type Collection map[string]Variable

// Names returns the variable names in sorted order.
func (c Collection) Names() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (c Collection) Clone() Collection {
	out := make(Collection, len(c))
	for k, v := range c {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports observational equality of two collections.
func (c Collection) Equal(o Collection) bool {
	if len(c) != len(o) {
		return false
	}
	for k, v := range c {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// WithoutPlaceholders returns c minus its empty-group entries.
func (c Collection) WithoutPlaceholders() Collection {
	out := make(Collection, len(c))
	for k, v := range c {
		if !v.Placeholder() {
			out[k] = v
		}
	}
	return out
}
