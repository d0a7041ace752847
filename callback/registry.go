package callback

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/marlmesh/logging"
)

var (
	// ErrInvalidComponent is returned when a component list cannot form a
	// registry: nil components, empty or duplicate names.
	ErrInvalidComponent = errors.New("invalid component")

	// ErrUnknownHook is returned when a component declares a hook outside the
	// closed hook set, or outside the family accepted by the registry.
	ErrUnknownHook = errors.New("unknown hook")
)

// HookFunc is the body of one hook slot. It receives the shared state object
// of the orchestrator the component is attached to (a build context, a
// variable server state, an executor).
type HookFunc[S any] func(ctx context.Context, state S) error

// Hooks maps each hook a component fills to its implementation.
type Hooks[S any] map[Hook]HookFunc[S]

// Component is a self-contained unit of behaviour contributing zero or more
// hook slots to an orchestrator.
//
// Components declare exactly the slots they fill through Hooks; the registry
// iterates declared slots only and treats every other hook as a no-op. A
// component is constructed once, attached to one orchestrator and may be
// invoked any number of times per phase. State it wants later phases to see
// must be written to the shared state object, not kept on the component.
type Component[S any] interface {
	// Name identifies the component. It must be unique within a registry and
	// is used in error messages and artifact ownership tracking.
	Name() string

	// Hooks returns the slots this component fills.
	Hooks() Hooks[S]
}

// Info describes the component whose slot is about to run.
type Info struct {
	Name       string
	Index      int
	Hook       Hook
	Overriding bool
}

// Tracker is implemented by state objects that want to know which component
// is currently writing to them. The registry calls Enter before each slot and
// Leave after it returns.
type Tracker interface {
	Enter(info Info)
	Leave()
}

// Overrider is implemented by components that may replace artifacts produced
// by earlier components. See Override.
type Overrider interface {
	Overrides() bool
}

// DispatchError wraps an error returned by a hook slot with the component and
// hook that produced it.
type DispatchError struct {
	Component string
	Hook      Hook
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("component %q failed in %s: %v", e.Component, e.Hook, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Options configures a Registry.
type Options struct {
	// Allowed restricts the hooks components may declare. Empty means the
	// whole known set.
	Allowed []Hook

	// Logger receives one debug entry per executed slot.
	Logger logging.Logger
}

type slot[S any] struct {
	info Info
	fn   HookFunc[S]
}

// Registry dispatches hooks to an ordered list of components.
//
// Component order is significant and preserved: for every hook, slots run in
// registration order and observe the same state object, so side effects of
// earlier slots are visible to later ones. A slot returning an error stops
// the dispatch; later slots for that hook do not run.
//
// A Registry is immutable after construction and safe for concurrent
// Dispatch calls, provided the state objects passed in are not shared.
type Registry[S any] struct {
	names  []string
	slots  map[Hook][]slot[S]
	logger logging.Logger
}

// NewRegistry validates components and indexes their declared slots.
//
// Construction fails fast on configuration errors: nil components, empty or
// duplicate names, and hooks that are unknown or outside Options.Allowed.
func NewRegistry[S any](components []Component[S], optFns ...func(o *Options)) (*Registry[S], error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	var allowed map[Hook]struct{}
	if len(opts.Allowed) > 0 {
		allowed = make(map[Hook]struct{}, len(opts.Allowed))
		for _, h := range opts.Allowed {
			allowed[h] = struct{}{}
		}
	}

	r := &Registry[S]{
		names:  make([]string, 0, len(components)),
		slots:  make(map[Hook][]slot[S]),
		logger: logging.OrNoOp(opts.Logger),
	}

	seen := make(map[string]int, len(components))
	for i, c := range components {
		if c == nil {
			return nil, fmt.Errorf("%w: component at position %d is nil", ErrInvalidComponent, i)
		}
		name := c.Name()
		if name == "" {
			return nil, fmt.Errorf("%w: component at position %d has no name", ErrInvalidComponent, i)
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate component name %q at positions %d and %d", ErrInvalidComponent, name, prev, i)
		}
		seen[name] = i
		r.names = append(r.names, name)

		overriding := false
		if o, ok := c.(Overrider); ok {
			overriding = o.Overrides()
		}

		for h, fn := range c.Hooks() {
			if !Known(h) {
				return nil, fmt.Errorf("%w: component %q declares %q", ErrUnknownHook, name, h)
			}
			if allowed != nil {
				if _, ok := allowed[h]; !ok {
					return nil, fmt.Errorf("%w: component %q declares %q which this orchestrator never dispatches", ErrUnknownHook, name, h)
				}
			}
			if fn == nil {
				continue
			}
			r.slots[h] = append(r.slots[h], slot[S]{
				info: Info{Name: name, Index: i, Hook: h, Overriding: overriding},
				fn:   fn,
			})
		}
	}

	return r, nil
}

// Dispatch runs every slot declared for hook, in registration order.
// Hooks without slots are a no-op.
func (r *Registry[S]) Dispatch(ctx context.Context, hook Hook, state S) error {
	slots := r.slots[hook]
	if len(slots) == 0 {
		return nil
	}

	tracker, _ := any(state).(Tracker)

	for _, s := range slots {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.logger.Debug("dispatching hook", "hook", string(hook), "component", s.info.Name)

		if tracker != nil {
			tracker.Enter(s.info)
		}
		err := s.fn(ctx, state)
		if tracker != nil {
			tracker.Leave()
		}

		if err != nil {
			return &DispatchError{Component: s.info.Name, Hook: hook, Err: err}
		}
	}
	return nil
}

// DispatchAll dispatches hooks one after another, stopping on the first error.
func (r *Registry[S]) DispatchAll(ctx context.Context, state S, hooks ...Hook) error {
	for _, h := range hooks {
		if err := r.Dispatch(ctx, h, state); err != nil {
			return err
		}
	}
	return nil
}

// Components returns the component names in registration order.
func (r *Registry[S]) Components() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Implements reports whether any component fills hook.
func (r *Registry[S]) Implements(hook Hook) bool {
	return len(r.slots[hook]) > 0
}

// Implementers returns the names of components filling hook, in order.
func (r *Registry[S]) Implementers(hook Hook) []string {
	slots := r.slots[hook]
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.info.Name)
	}
	return out
}
