// Package system assembles building components into a runnable distributed
// training system and launches it in-process.
//
// A System starts from an ordered component list. Components can be added
// or swapped by name before building:
//
//	sys := system.New(envFactory, networkFactory, func(o *system.Options) {
//		o.Config = cfg
//		o.Components = system.OffPolicyComponents(learnerFn)
//	})
//	_ = sys.Update(building.ParallelSequenceAdder{})
//	err := sys.Launch(ctx)
package system

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/components/building"
	"github.com/hupe1980/marlmesh/config"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/executor"
	"github.com/hupe1980/marlmesh/logging"
	"github.com/hupe1980/marlmesh/replay"
	"github.com/hupe1980/marlmesh/trainer"
	"github.com/hupe1980/marlmesh/variables"
)

var (
	// ErrDuplicateComponent is returned by Add for a name already present.
	ErrDuplicateComponent = errors.New("component already exists")
	// ErrUnknownComponent is returned by Update for a name not present.
	ErrUnknownComponent = errors.New("component does not exist")
)

// EnvironmentFactory creates the environment of executor index. The
// evaluator, when configured, uses index NumExecutors. Build also calls it
// once with index 0 to read the environment spec.
type EnvironmentFactory func(index int, evaluation bool) (core.Environment, error)

// NetworkFactory creates every network of the system given the network key
// of each agent.
type NetworkFactory func(spec core.EnvironmentSpec, agentNetKeys map[string]string) (map[string]builder.Network, error)

// Options configures a System.
type Options struct {
	// Config holds the hyper-parameters; nil uses config.Default.
	Config *config.Config
	// Components is the initial component list.
	Components []callback.Component[*builder.Context]
	Logger     *logging.TrainingLogger
}

// System is an ordered, named set of building components plus the
// factories for the parts marlmesh does not implement.
type System struct {
	components []callback.Component[*builder.Context]
	envs       EnvironmentFactory
	networks   NetworkFactory
	config     *config.Config
	logger     *logging.TrainingLogger
}

// New creates a system.
func New(envs EnvironmentFactory, networks NetworkFactory, optFns ...func(o *Options)) *System {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &System{
		components: slices.Clone(opts.Components),
		envs:       envs,
		networks:   networks,
		config:     opts.Config,
		logger:     logger,
	}
}

// OffPolicyComponents returns the standard off-policy component list:
// n-step transitions in uniform replay tables.
func OffPolicyComponents(learner building.LearnerFn) []callback.Component[*builder.Context] {
	return []callback.Component[*builder.Context]{
		building.SystemSetup{},
		building.DiscreteToBounded{},
		building.ParallelTransitionAdderSignature{},
		building.OffPolicyRateLimiter{},
		building.OffPolicyReplayTables{},
		building.DatasetIterator{},
		building.UniformAdderPriority{},
		building.ParallelNStepTransitionAdder{},
		building.VariableServer{},
		building.ExecutorVariableClient{},
		building.Executor{},
		building.TrainerVariableClient{},
		building.Trainer{LearnerFn: learner},
		building.TrainerStatistics{},
	}
}

// DefaultComponents returns the standard component list for cfg: the
// on-policy list when replay.on_policy is set, otherwise the off-policy one,
// with the adder and its signature following replay.adder.
func DefaultComponents(cfg *config.Config, learner building.LearnerFn) []callback.Component[*builder.Context] {
	if cfg.Replay.OnPolicy {
		return OnPolicyComponents(learner)
	}
	components := OffPolicyComponents(learner)
	if cfg.Replay.Adder != config.SequenceAdder {
		return components
	}
	for i, c := range components {
		switch c.Name() {
		case "adder_signature":
			components[i] = building.ParallelSequenceAdderSignature{}
		case "adder":
			components[i] = building.ParallelSequenceAdder{}
		}
	}
	return components
}

// OnPolicyComponents returns the standard on-policy component list:
// sequences in queue tables.
func OnPolicyComponents(learner building.LearnerFn) []callback.Component[*builder.Context] {
	return []callback.Component[*builder.Context]{
		building.SystemSetup{},
		building.DiscreteToBounded{},
		building.ParallelSequenceAdderSignature{},
		building.OnPolicyRateLimiter{},
		building.OnPolicyReplayTables{},
		building.DatasetIterator{},
		building.UniformAdderPriority{},
		building.ParallelSequenceAdder{},
		building.VariableServer{},
		building.ExecutorVariableClient{},
		building.Executor{},
		building.TrainerVariableClient{},
		building.Trainer{LearnerFn: learner},
		building.TrainerStatistics{},
	}
}

// Config returns the system configuration.
func (s *System) Config() *config.Config { return s.config }

// Components returns the component names in order.
func (s *System) Components() []string { return callback.Names(s.components) }

func (s *System) index(name string) int {
	return slices.IndexFunc(s.components, func(c callback.Component[*builder.Context]) bool {
		return c.Name() == name
	})
}

// Add appends c. It fails when a component with the same name exists.
func (s *System) Add(c callback.Component[*builder.Context]) error {
	if s.index(c.Name()) >= 0 {
		return fmt.Errorf("%w: %q; use Update to replace it", ErrDuplicateComponent, c.Name())
	}
	s.components = append(s.components, c)
	return nil
}

// Update replaces the component with c's name, keeping its position.
func (s *System) Update(c callback.Component[*builder.Context]) error {
	i := s.index(c.Name())
	if i < 0 {
		return fmt.Errorf("%w: %q; use Add to include it", ErrUnknownComponent, c.Name())
	}
	s.components[i] = c
	return nil
}

// Program is a built system, ready to run.
type Program struct {
	RunID     string
	Config    *config.Config
	Replay    *replay.Server
	Variables *variables.Server
	Executors []*executor.EnvironmentLoop
	// Evaluator is nil unless Config.Evaluator is set.
	Evaluator *executor.EnvironmentLoop
	Trainers  []*trainer.Trainer

	datasets []*replay.Dataset
	clients  []*variables.ExecutorClient
	logger   *logging.TrainingLogger
}

// Build validates the configuration and runs the whole building lifecycle:
// init, replay tables, variable server, one executor per configured
// executor (plus the evaluator) and one trainer per trainer id. Every
// configuration error surfaces here, before anything runs.
func (s *System) Build(ctx context.Context) (*Program, error) {
	cfg := s.config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if s.envs == nil || s.networks == nil {
		return nil, errors.New("system requires environment and network factories")
	}

	sample, err := s.envs(0, false)
	if err != nil {
		return nil, fmt.Errorf("creating environment: %w", err)
	}
	spec := sample.Spec()

	b, err := builder.New(cfg, spec, s.components, func(o *builder.Options) { o.Logger = s.logger })
	if err != nil {
		return nil, err
	}
	c := b.Context()
	logger := s.logger.WithRun(c.RunID)

	if err := b.Init(ctx); err != nil {
		return nil, err
	}
	tables, err := b.MakeReplayTables(ctx, spec)
	if err != nil {
		return nil, err
	}
	rs, err := replay.NewServer(tables, func(o *replay.Options) {
		o.Seed = cfg.Seed
		o.Logger = logger.WithComponent("replay")
	})
	if err != nil {
		return nil, err
	}
	p := &Program{RunID: c.RunID, Config: cfg, Replay: rs, logger: logger}
	fail := func(err error) (*Program, error) {
		p.Close()
		return nil, err
	}

	networks, err := s.networks(spec, c.AgentNetKeys)
	if err != nil {
		return fail(fmt.Errorf("creating networks: %w", err))
	}
	if p.Variables, err = b.MakeVariableServer(ctx, networks); err != nil {
		return fail(err)
	}

	for i := range cfg.NumExecutors {
		adder, err := b.MakeAdder(ctx, rs.LocalClient())
		if err != nil {
			return fail(err)
		}
		loop, err := s.executorLoop(ctx, b, p, networks, i, adder)
		if err != nil {
			return fail(err)
		}
		p.Executors = append(p.Executors, loop)
	}
	if cfg.Evaluator {
		if p.Evaluator, err = s.executorLoop(ctx, b, p, networks, cfg.NumExecutors, nil); err != nil {
			return fail(err)
		}
	}

	for _, id := range slices.Sorted(maps.Keys(c.TrainerNetworks)) {
		table := c.TrainerTables[id]
		ds, err := b.MakeDatasetIterator(ctx, rs.LocalClient(), table)
		if err != nil {
			return fail(err)
		}
		p.datasets = append(p.datasets, ds)
		tr, err := b.MakeTrainer(ctx, networks, ds, p.Variables, id, c.TrainerNetworks[id], table)
		if err != nil {
			return fail(err)
		}
		p.Trainers = append(p.Trainers, tr)
	}

	logger.Info("system built",
		"tables", len(tables),
		"executors", len(p.Executors),
		"evaluator", p.Evaluator != nil,
		"trainers", len(p.Trainers),
	)
	return p, nil
}

func (s *System) executorLoop(
	ctx context.Context,
	b *builder.Builder,
	p *Program,
	networks map[string]builder.Network,
	index int,
	adder core.Adder,
) (*executor.EnvironmentLoop, error) {
	evaluation := adder == nil
	env, err := s.envs(index, evaluation)
	if err != nil {
		return nil, fmt.Errorf("creating environment %d: %w", index, err)
	}
	ex, err := b.MakeExecutor(ctx, networks, nil, adder, p.Variables)
	if err != nil {
		return nil, err
	}
	if vc := b.Context().ExecutorVariableClient(); vc != nil {
		p.clients = append(p.clients, vc)
	}

	label := fmt.Sprintf("executor_%d", index)
	if evaluation {
		label = "evaluator"
	}
	vars := p.Variables
	return executor.NewEnvironmentLoop(env, ex, func(o *executor.LoopOptions) {
		o.Label = label
		o.Logger = p.logger
		if !evaluation {
			o.OnEpisode = func(r executor.EpisodeResult) {
				delta := map[string]variables.Tensor{building.ExecutorStepsKey: {Data: []float64{float64(r.Steps)}}}
				if err := vars.AddToVariables(context.Background(), delta); err != nil {
					p.logger.Warn("counting executor steps failed", "executor", label, "error", err)
				}
			}
		}
	}), nil
}

// Close releases the program's datasets, clients and replay tables.
// Blocked replay calls return ErrTableClosed.
func (p *Program) Close() {
	for _, ds := range p.datasets {
		ds.Close()
	}
	for _, vc := range p.clients {
		vc.Close()
	}
	if p.Replay != nil {
		p.Replay.Close()
	}
}
