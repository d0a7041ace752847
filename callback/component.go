package callback

// Func adapts a name and a hook map into a Component.
//
// This is a convenience wrapper that allows small, stateless behaviour to be
// registered without declaring a type:
//
//	logPhases := callback.Func("log_phases", callback.Hooks[*builder.Context]{
//	    callback.OnBuildingMakeReplayTableEnd: func(ctx context.Context, b *builder.Context) error {
//	        b.LogInfo("tables ready", "count", len(b.ReplayTables()))
//	        return nil
//	    },
//	})
func Func[S any](name string, hooks Hooks[S]) Component[S] {
	return &funcComponent[S]{name: name, hooks: hooks}
}

type funcComponent[S any] struct {
	name  string
	hooks Hooks[S]
}

func (f *funcComponent[S]) Name() string    { return f.name }
func (f *funcComponent[S]) Hooks() Hooks[S] { return f.hooks }

// Override marks c as explicitly replacing artifacts that earlier components
// produced. Without it, a second write of the same artifact within one phase
// is rejected at build time.
func Override[S any](c Component[S]) Component[S] {
	return &overriding[S]{Component: c}
}

type overriding[S any] struct {
	Component[S]
}

func (o *overriding[S]) Overrides() bool { return true }

// Names returns the names of components in order.
func Names[S any](components []Component[S]) []string {
	out := make([]string, len(components))
	for i, c := range components {
		out[i] = c.Name()
	}
	return out
}
