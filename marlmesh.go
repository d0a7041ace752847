// Package marlmesh provides a high-level façade over the system package for
// training multi-agent policies with distributed executors and trainers.
// Most applications interact with this package by:
//  1. Supplying an environment factory, a network factory and a learner
//  2. Creating a Mesh via New(), optionally adding or replacing components
//  3. Training synchronously (Train) or building a Program to run themselves
//
// The façade picks the standard component list for the configuration and
// delegates building and running to system.System. All defaults are safe for
// local development and testing; production deployments typically enable
// file or SQLite checkpointing and supply a structured logger.
package marlmesh

import (
	"context"
	"errors"

	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/components/building"
	"github.com/hupe1980/marlmesh/config"
	"github.com/hupe1980/marlmesh/logging"
	"github.com/hupe1980/marlmesh/system"
	"github.com/hupe1980/marlmesh/variables"
)

// Options configures the Mesh instance.
type Options struct {
	// Config holds the hyper-parameters (defaults to config.Default).
	Config *config.Config

	// Components are applied over the standard list: a component replaces
	// the standard one of the same name, any other is appended.
	Components []callback.Component[*builder.Context]

	// Logger (defaults to a discarding logger if nil)
	Logger *logging.TrainingLogger
}

// Mesh is the high-level façade over a system.
type Mesh struct {
	system *system.System
}

// New creates a Mesh training with learner.
func New(envs system.EnvironmentFactory, networks system.NetworkFactory, learner building.LearnerFn, optFns ...func(o *Options)) (*Mesh, error) {
	opts := Options{Config: config.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}

	sys := system.New(envs, networks, func(o *system.Options) {
		o.Config = opts.Config
		o.Components = system.DefaultComponents(opts.Config, learner)
		o.Logger = opts.Logger
	})
	for _, c := range opts.Components {
		err := sys.Update(c)
		if errors.Is(err, system.ErrUnknownComponent) {
			err = sys.Add(c)
		}
		if err != nil {
			return nil, err
		}
	}

	return &Mesh{system: sys}, nil
}

// System returns the underlying system for further customisation.
func (m *Mesh) System() *system.System { return m.system }

// Build runs the building lifecycle without starting anything.
func (m *Mesh) Build(ctx context.Context) (*system.Program, error) { return m.system.Build(ctx) }

// Result summarises a finished training run.
type Result struct {
	RunID string
	// TrainerSteps maps trainer ids to their completed steps.
	TrainerSteps map[string]int64
	// Variables is the final content of the variable server.
	Variables variables.Collection
}

// Train builds the system, runs it until its step limits are reached or ctx
// is cancelled, and returns the final variables.
func (m *Mesh) Train(ctx context.Context) (*Result, error) {
	prog, err := m.system.Build(ctx)
	if err != nil {
		return nil, err
	}
	defer prog.Close()

	if err := prog.Run(ctx); err != nil {
		return nil, err
	}

	res := &Result{RunID: prog.RunID, TrainerSteps: make(map[string]int64, len(prog.Trainers))}
	for _, tr := range prog.Trainers {
		res.TrainerSteps[tr.ID()] = tr.Steps()
	}
	res.Variables, err = prog.Variables.GetVariables(context.WithoutCancel(ctx), prog.Variables.Names()...)
	if err != nil {
		return nil, err
	}
	return res, nil
}
