// Package building provides the standard building components of a
// marlmesh system. Each component fills one or more building hooks of a
// builder.Builder; a system is assembled by listing them in order:
//
//	components := []callback.Component[*builder.Context]{
//		building.SystemSetup{},
//		building.ParallelTransitionAdderSignature{},
//		building.OffPolicyRateLimiter{},
//		building.OffPolicyReplayTables{},
//		building.DatasetIterator{},
//		building.UniformAdderPriority{},
//		building.ParallelNStepTransitionAdder{},
//		building.VariableServer{},
//		building.ExecutorVariableClient{},
//		building.Executor{},
//		building.TrainerVariableClient{},
//		building.Trainer{LearnerFn: newLearner},
//		building.TrainerStatistics{},
//	}
//
// Components keep no state of their own; everything later phases need is
// written to the builder.Context.
package building

import (
	"errors"

	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/callback"
)

// ErrNetworkPartition is returned when the assignment of agents to networks,
// trainers and tables is inconsistent with the environment spec.
var ErrNetworkPartition = errors.New("inconsistent network partition")

// Hooks is shorthand for the hook map of a building component.
type Hooks = callback.Hooks[*builder.Context]
