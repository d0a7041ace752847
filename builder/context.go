package builder

import (
	"fmt"

	"github.com/hupe1980/marlmesh/adders"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/config"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/executor"
	"github.com/hupe1980/marlmesh/logging"
	"github.com/hupe1980/marlmesh/replay"
	"github.com/hupe1980/marlmesh/trainer"
	"github.com/hupe1980/marlmesh/variables"
)

// Network is one learnable network: its parameters, as stored on the
// variable server, and the policy executors act with. A network without
// parameters is kept on the server as a placeholder.
type Network struct {
	Parameters variables.Variable
	Policy     executor.Policy
}

// RateLimiterFn returns a fresh rate limiter for one table.
type RateLimiterFn func() replay.RateLimiterSpec

// Context is the shared state every building component reads and writes.
//
// Inputs of a phase are plain fields, stashed by the Builder before the
// phase's start hook runs; components are free to refine them (for example
// SystemSetup derives AgentNetKeys during init). Artifacts produced by a
// phase are written through the Set methods, which enforce write-once per
// phase invocation, and read through the accessor of the same name.
type Context struct {
	*core.LoggerAdapter

	Config *config.Config
	RunID  string
	// Logger is the structured logger handed to built objects.
	Logger *logging.TrainingLogger

	EnvironmentSpec core.EnvironmentSpec
	AgentIDs        []string
	AgentTypes      []string

	// AgentNetKeys maps every agent to its network.
	AgentNetKeys map[string]string
	// UniqueNetKeys lists the networks in sorted order.
	UniqueNetKeys []string
	// TrainerNetworks maps trainer ids to the networks they train.
	TrainerNetworks map[string][]string
	// TrainerTables maps trainer ids to the replay table they sample.
	TrainerTables map[string]string
	// TableNetworkConfig maps table names to the agents stored in them.
	TableNetworkConfig map[string][]string
	// ExtraSpecs describes per-agent extras recorded alongside transitions.
	ExtraSpecs map[string]core.ArraySpec

	ReplayClient replay.Client
	TableName    string

	Networks         map[string]Network
	ExecutorNetworks map[string]string
	ExecutorAdder    core.Adder
	VariableSource   variables.Source

	TrainerID          string
	TrainerNetworksSel []string
	TrainerTableEntry  string

	adderSignature         adders.SignatureFn
	rateLimiter            RateLimiterFn
	replayTables           []replay.TableSpec
	dataset                *replay.Dataset
	adderPriority          adders.Priorities
	adder                  core.Adder
	variableServer         *variables.Server
	executorVariableClient *variables.ExecutorClient
	executor               *executor.Executor
	trainerVariableClient  *variables.TrainerClient
	trainer                *trainer.Trainer
	trainerStatistics      *trainer.Statistics

	phase      string
	invocation int
	writers    map[string]writer
	current    *callback.Info
}

type writer struct {
	component  string
	invocation int
}

func newContext(cfg *config.Config, env core.EnvironmentSpec, runID string, logger *logging.TrainingLogger) *Context {
	return &Context{
		LoggerAdapter:   core.NewLoggerAdapter(logger),
		Config:          cfg,
		RunID:           runID,
		Logger:          logger,
		EnvironmentSpec: env,
		writers:         make(map[string]writer),
	}
}

// Enter implements callback.Tracker.
func (c *Context) Enter(info callback.Info) { c.current = &info }

// Leave implements callback.Tracker.
func (c *Context) Leave() { c.current = nil }

// Phase returns the name of the phase being built.
func (c *Context) Phase() string { return c.phase }

// begin starts a new invocation of phase. Artifacts owned by the phase are
// cleared so every invocation produces its own.
func (c *Context) begin(phase string, artifacts ...string) {
	c.phase = phase
	c.invocation++
	for _, name := range artifacts {
		delete(c.writers, name)
	}
}

// claim records the current component as the writer of artifact. Only the
// phase that owns an artifact may write it; later phases see it read-only.
func (c *Context) claim(artifact string) error {
	who := "builder"
	overriding := false
	if c.current != nil {
		who, overriding = c.current.Name, c.current.Overriding
	}
	if owner := artifactPhases[artifact]; owner != c.phase {
		return fmt.Errorf("%w: %s is owned by %s, %q tried to set it in %s",
			ErrArtifactPhase, artifact, owner, who, c.phase)
	}
	if prev, ok := c.writers[artifact]; ok && prev.invocation == c.invocation && !overriding {
		return fmt.Errorf("%w: %s already set by %q in %s; %q must be wrapped with callback.Override to replace it",
			ErrArtifactConflict, artifact, prev.component, c.phase, who)
	}
	c.writers[artifact] = writer{component: who, invocation: c.invocation}
	return nil
}

// Writer returns the component that last set artifact.
func (c *Context) Writer(artifact string) (string, bool) {
	w, ok := c.writers[artifact]
	return w.component, ok
}

// Artifact names, as used in errors and by Writer.
const (
	ArtifactAdderSignature         = "adder_signature"
	ArtifactRateLimiter            = "rate_limiter"
	ArtifactReplayTables           = "replay_tables"
	ArtifactDataset                = "dataset"
	ArtifactAdderPriority          = "adder_priority"
	ArtifactAdder                  = "adder"
	ArtifactVariableServer         = "variable_server"
	ArtifactExecutorVariableClient = "executor_variable_client"
	ArtifactExecutor               = "executor"
	ArtifactTrainerVariableClient  = "trainer_variable_client"
	ArtifactTrainer                = "trainer"
	ArtifactTrainerStatistics      = "trainer_statistics"
)

var artifactPhases = map[string]string{
	ArtifactAdderSignature:         PhaseMakeReplayTables,
	ArtifactRateLimiter:            PhaseMakeReplayTables,
	ArtifactReplayTables:           PhaseMakeReplayTables,
	ArtifactDataset:                PhaseMakeDatasetIterator,
	ArtifactAdderPriority:          PhaseMakeAdder,
	ArtifactAdder:                  PhaseMakeAdder,
	ArtifactVariableServer:         PhaseMakeVariableServer,
	ArtifactExecutorVariableClient: PhaseMakeExecutor,
	ArtifactExecutor:               PhaseMakeExecutor,
	ArtifactTrainerVariableClient:  PhaseMakeTrainer,
	ArtifactTrainer:                PhaseMakeTrainer,
	ArtifactTrainerStatistics:      PhaseMakeTrainer,
}

// SetAdderSignature sets the signature factory used for tables and adders.
func (c *Context) SetAdderSignature(fn adders.SignatureFn) error {
	if err := c.claim(ArtifactAdderSignature); err != nil {
		return err
	}
	c.adderSignature = fn
	return nil
}

// AdderSignature returns the signature factory, or nil.
func (c *Context) AdderSignature() adders.SignatureFn { return c.adderSignature }

// SetRateLimiter sets the rate limiter factory.
func (c *Context) SetRateLimiter(fn RateLimiterFn) error {
	if err := c.claim(ArtifactRateLimiter); err != nil {
		return err
	}
	c.rateLimiter = fn
	return nil
}

// RateLimiter returns the rate limiter factory, or nil.
func (c *Context) RateLimiter() RateLimiterFn { return c.rateLimiter }

// SetReplayTables sets the tables to create.
func (c *Context) SetReplayTables(tables []replay.TableSpec) error {
	if err := c.claim(ArtifactReplayTables); err != nil {
		return err
	}
	c.replayTables = tables
	return nil
}

// ReplayTables returns the table specs.
func (c *Context) ReplayTables() []replay.TableSpec { return c.replayTables }

func (c *Context) SetDataset(d *replay.Dataset) error {
	if err := c.claim(ArtifactDataset); err != nil {
		return err
	}
	c.dataset = d
	return nil
}

func (c *Context) Dataset() *replay.Dataset { return c.dataset }

func (c *Context) SetAdderPriority(p adders.Priorities) error {
	if err := c.claim(ArtifactAdderPriority); err != nil {
		return err
	}
	c.adderPriority = p
	return nil
}

func (c *Context) AdderPriority() adders.Priorities { return c.adderPriority }

func (c *Context) SetAdder(a core.Adder) error {
	if err := c.claim(ArtifactAdder); err != nil {
		return err
	}
	c.adder = a
	return nil
}

func (c *Context) Adder() core.Adder { return c.adder }

func (c *Context) SetVariableServer(s *variables.Server) error {
	if err := c.claim(ArtifactVariableServer); err != nil {
		return err
	}
	c.variableServer = s
	return nil
}

func (c *Context) VariableServer() *variables.Server { return c.variableServer }

func (c *Context) SetExecutorVariableClient(vc *variables.ExecutorClient) error {
	if err := c.claim(ArtifactExecutorVariableClient); err != nil {
		return err
	}
	c.executorVariableClient = vc
	return nil
}

func (c *Context) ExecutorVariableClient() *variables.ExecutorClient {
	return c.executorVariableClient
}

func (c *Context) SetExecutor(e *executor.Executor) error {
	if err := c.claim(ArtifactExecutor); err != nil {
		return err
	}
	c.executor = e
	return nil
}

func (c *Context) Executor() *executor.Executor { return c.executor }

func (c *Context) SetTrainerVariableClient(vc *variables.TrainerClient) error {
	if err := c.claim(ArtifactTrainerVariableClient); err != nil {
		return err
	}
	c.trainerVariableClient = vc
	return nil
}

func (c *Context) TrainerVariableClient() *variables.TrainerClient {
	return c.trainerVariableClient
}

func (c *Context) SetTrainer(t *trainer.Trainer) error {
	if err := c.claim(ArtifactTrainer); err != nil {
		return err
	}
	c.trainer = t
	return nil
}

func (c *Context) Trainer() *trainer.Trainer { return c.trainer }

func (c *Context) SetTrainerStatistics(s *trainer.Statistics) error {
	if err := c.claim(ArtifactTrainerStatistics); err != nil {
		return err
	}
	c.trainerStatistics = s
	return nil
}

func (c *Context) TrainerStatistics() *trainer.Statistics { return c.trainerStatistics }

// TrainerAgents returns the agents whose networks trainer id trains, in
// natural order.
func (c *Context) TrainerAgents(id string) []string {
	nets := make(map[string]bool)
	for _, n := range c.TrainerNetworks[id] {
		nets[n] = true
	}
	var out []string
	for _, agent := range c.AgentIDs {
		if nets[c.AgentNetKeys[agent]] {
			out = append(out, agent)
		}
	}
	return out
}
