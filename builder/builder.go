// Package builder drives the multi-phase construction of a distributed
// training system.
//
// A Builder owns one Context and a registry of building components. Each
// phase stashes its inputs on the Context, dispatches the phase's hooks in
// lifecycle order (start, work hooks, end) and returns the artifact the
// components produced. Components see every artifact of earlier phases
// unmodified; a second write of an artifact within one phase invocation is
// a configuration error unless the writer is marked with callback.Override.
//
//	b, err := builder.New(cfg, env.Spec(), components)
//	if err != nil { ... }
//	if err := b.Init(ctx); err != nil { ... }
//	tables, err := b.MakeReplayTables(ctx, env.Spec())
//
// All configuration errors surface during building, before any process is
// launched.
package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/config"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/executor"
	"github.com/hupe1980/marlmesh/internal/util"
	"github.com/hupe1980/marlmesh/logging"
	"github.com/hupe1980/marlmesh/replay"
	"github.com/hupe1980/marlmesh/trainer"
	"github.com/hupe1980/marlmesh/variables"
)

// Phase names, as reported in logs and errors.
const (
	PhaseInit                = "init"
	PhaseMakeReplayTables    = "make_replay_tables"
	PhaseMakeDatasetIterator = "make_dataset_iterator"
	PhaseMakeAdder           = "make_adder"
	PhaseMakeVariableServer  = "make_variable_server"
	PhaseMakeExecutor        = "make_executor"
	PhaseMakeTrainer         = "make_trainer"
)

// Options configures a Builder.
type Options struct {
	// RunID scopes checkpoints; a fresh id is generated when empty.
	RunID string
	// Logger receives one entry per phase and is shared with components
	// through Context.Logger.
	Logger *logging.TrainingLogger
}

// Builder runs the building lifecycle over an ordered component list.
type Builder struct {
	registry *callback.Registry[*Context]
	ctx      *Context
	logger   *logging.TrainingLogger
}

// New creates a builder for env. A nil cfg uses config.Default.
func New(cfg *config.Config, env core.EnvironmentSpec, components []callback.Component[*Context], optFns ...func(o *Options)) (*Builder, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.RunID == "" {
		opts.RunID = cfg.RunID
	}
	if opts.RunID == "" {
		opts.RunID = util.NewID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithRun(opts.RunID)

	registry, err := callback.NewRegistry(components, func(o *callback.Options) {
		o.Allowed = callback.BuildingHooks
		o.Logger = logger
	})
	if err != nil {
		return nil, err
	}

	return &Builder{
		registry: registry,
		ctx:      newContext(cfg, env, opts.RunID, logger),
		logger:   logger.WithComponent("builder"),
	}, nil
}

// Context returns the build context.
func (b *Builder) Context() *Context { return b.ctx }

// Components returns the component names in registration order.
func (b *Builder) Components() []string { return b.registry.Components() }

func (b *Builder) run(ctx context.Context, phase string, hooks ...callback.Hook) error {
	start := time.Now()
	err := b.registry.DispatchAll(ctx, b.ctx, hooks...)
	b.logger.LogPhase(phase, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%s: %w", phase, err)
	}
	return nil
}

func missing(phase, artifact string) error {
	return fmt.Errorf("%s: %w: no component produced %s", phase, ErrMissingArtifact, artifact)
}

// Init runs the init hooks. Agent ids and types are read from the
// environment spec between the start and init hooks.
func (b *Builder) Init(ctx context.Context) error {
	c := b.ctx
	if err := c.EnvironmentSpec.Validate(); err != nil {
		return fmt.Errorf("%s: %w", PhaseInit, err)
	}
	c.begin(PhaseInit)

	if err := b.run(ctx, PhaseInit, callback.OnBuildingInitStart); err != nil {
		return err
	}
	c.AgentIDs = c.EnvironmentSpec.AgentIDs()
	c.AgentTypes = c.EnvironmentSpec.AgentTypes()
	return b.run(ctx, PhaseInit, callback.OnBuildingInit, callback.OnBuildingInitEnd)
}

// MakeReplayTables builds the replay table specs for env.
func (b *Builder) MakeReplayTables(ctx context.Context, env core.EnvironmentSpec) ([]replay.TableSpec, error) {
	c := b.ctx
	c.EnvironmentSpec = env
	c.begin(PhaseMakeReplayTables, ArtifactAdderSignature, ArtifactRateLimiter, ArtifactReplayTables)
	c.adderSignature, c.rateLimiter, c.replayTables = nil, nil, nil

	err := b.run(ctx, PhaseMakeReplayTables,
		callback.OnBuildingMakeReplayTableStart,
		callback.OnBuildingAdderSignature,
		callback.OnBuildingRateLimiter,
		callback.OnBuildingMakeTables,
		callback.OnBuildingMakeReplayTableEnd,
	)
	if err != nil {
		return nil, err
	}
	if len(c.replayTables) == 0 {
		return nil, missing(PhaseMakeReplayTables, ArtifactReplayTables)
	}
	return c.replayTables, nil
}

// MakeDatasetIterator builds the dataset a trainer samples tableName with.
func (b *Builder) MakeDatasetIterator(ctx context.Context, client replay.Client, tableName string) (*replay.Dataset, error) {
	c := b.ctx
	if client == nil {
		return nil, fmt.Errorf("%s: %w: replay client", PhaseMakeDatasetIterator, ErrMissingArtifact)
	}
	c.ReplayClient, c.TableName = client, tableName
	c.begin(PhaseMakeDatasetIterator, ArtifactDataset)
	c.dataset = nil

	err := b.run(ctx, PhaseMakeDatasetIterator,
		callback.OnBuildingMakeDatasetIteratorStart,
		callback.OnBuildingDataset,
		callback.OnBuildingMakeDatasetIteratorEnd,
	)
	if err != nil {
		return nil, err
	}
	if c.dataset == nil {
		return nil, missing(PhaseMakeDatasetIterator, ArtifactDataset)
	}
	return c.dataset, nil
}

// MakeAdder builds the adder executors record experience with. The result
// may be nil when no component installs an adder. It requires the adder
// signature produced by MakeReplayTables.
func (b *Builder) MakeAdder(ctx context.Context, client replay.Client) (core.Adder, error) {
	c := b.ctx
	if c.adderSignature == nil {
		return nil, fmt.Errorf("%s: %w: %s from %s", PhaseMakeAdder, ErrMissingArtifact, ArtifactAdderSignature, PhaseMakeReplayTables)
	}
	c.ReplayClient = client
	c.begin(PhaseMakeAdder, ArtifactAdderPriority, ArtifactAdder)
	c.adderPriority, c.adder = nil, nil

	err := b.run(ctx, PhaseMakeAdder,
		callback.OnBuildingMakeAdderStart,
		callback.OnBuildingAdderPriority,
		callback.OnBuildingMakeAdder,
		callback.OnBuildingMakeAdderEnd,
	)
	if err != nil {
		return nil, err
	}
	return c.adder, nil
}

// MakeVariableServer builds the variable server holding networks.
func (b *Builder) MakeVariableServer(ctx context.Context, networks map[string]Network) (*variables.Server, error) {
	c := b.ctx
	c.Networks = networks
	c.begin(PhaseMakeVariableServer, ArtifactVariableServer)
	c.variableServer = nil

	err := b.run(ctx, PhaseMakeVariableServer,
		callback.OnBuildingMakeVariableServerStart,
		callback.OnBuildingVariableServer,
		callback.OnBuildingMakeVariableServerEnd,
	)
	if err != nil {
		return nil, err
	}
	if c.variableServer == nil {
		return nil, missing(PhaseMakeVariableServer, ArtifactVariableServer)
	}
	return c.variableServer, nil
}

// MakeExecutor builds one executor. executorNetworks maps the executor's
// agents to networks; nil uses Context.AgentNetKeys. A nil adder builds an
// evaluator.
func (b *Builder) MakeExecutor(
	ctx context.Context,
	networks map[string]Network,
	executorNetworks map[string]string,
	adder core.Adder,
	source variables.Source,
) (*executor.Executor, error) {
	c := b.ctx
	if source == nil {
		return nil, fmt.Errorf("%s: %w: variable source", PhaseMakeExecutor, ErrMissingArtifact)
	}
	if executorNetworks == nil {
		executorNetworks = c.AgentNetKeys
	}
	c.Networks, c.ExecutorNetworks, c.ExecutorAdder, c.VariableSource = networks, executorNetworks, adder, source
	c.begin(PhaseMakeExecutor, ArtifactExecutorVariableClient, ArtifactExecutor)
	c.executorVariableClient, c.executor = nil, nil

	err := b.run(ctx, PhaseMakeExecutor,
		callback.OnBuildingMakeExecutorStart,
		callback.OnBuildingExecutorVariableClient,
		callback.OnBuildingExecutor,
		callback.OnBuildingMakeExecutorEnd,
	)
	if err != nil {
		return nil, err
	}
	if c.executor == nil {
		return nil, missing(PhaseMakeExecutor, ArtifactExecutor)
	}
	return c.executor, nil
}

// MakeTrainer builds trainer id, training trainerNetworks from the table
// tableEntry through dataset. It may be called once per trainer.
func (b *Builder) MakeTrainer(
	ctx context.Context,
	networks map[string]Network,
	dataset *replay.Dataset,
	source variables.Source,
	id string,
	trainerNetworks []string,
	tableEntry string,
) (*trainer.Trainer, error) {
	c := b.ctx
	switch {
	case dataset == nil:
		return nil, fmt.Errorf("%s: %w: dataset", PhaseMakeTrainer, ErrMissingArtifact)
	case source == nil:
		return nil, fmt.Errorf("%s: %w: variable source", PhaseMakeTrainer, ErrMissingArtifact)
	}
	c.Networks, c.VariableSource = networks, source
	c.TrainerID, c.TrainerNetworksSel, c.TrainerTableEntry = id, trainerNetworks, tableEntry
	c.dataset = dataset
	c.begin(PhaseMakeTrainer, ArtifactTrainerVariableClient, ArtifactTrainer, ArtifactTrainerStatistics)
	c.trainerVariableClient, c.trainer, c.trainerStatistics = nil, nil, nil

	err := b.run(ctx, PhaseMakeTrainer,
		callback.OnBuildingMakeTrainerStart,
		callback.OnBuildingTrainerVariableClient,
		callback.OnBuildingTrainer,
		callback.OnBuildingTrainerStatistics,
		callback.OnBuildingMakeTrainerEnd,
	)
	if err != nil {
		return nil, err
	}
	if c.trainer == nil {
		return nil, missing(PhaseMakeTrainer, ArtifactTrainer)
	}
	return c.trainer, nil
}
