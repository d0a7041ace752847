// Package config provides the hyper-parameters of a marlmesh system and
// their loading.
//
// Configuration is loaded from a single file named by:
//   - MARLMESH_CONFIG environment variable, or
//   - --config flag passed to the command
//
// Files ending in .json or .jsonc are parsed as JSON with comments; any
// other extension is parsed as YAML. Values absent from the file keep their
// Default.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/marlmesh/artifact"
)

// EnvVar names the environment variable Load reads the config path from.
const EnvVar = "MARLMESH_CONFIG"

// Network sampling setups.
const (
	// FixedAgentNetworks gives every agent its own network.
	FixedAgentNetworks = "fixed_agent_networks"
	// SharedWeights gives agents of the same type one network.
	SharedWeights = "shared_weights"
)

// Trainer topologies.
const (
	// SingleTrainer trains every network in one trainer.
	SingleTrainer = "single_trainer"
	// OneTrainerPerNetwork starts one trainer per unique network.
	OneTrainerPerNetwork = "one_trainer_per_network"
)

// Adder kinds.
const (
	TransitionAdder = "transition"
	SequenceAdder   = "sequence"
)

// Checkpoint stores.
const (
	MemoryStore = artifact.KindMemory
	FileStore   = artifact.KindFile
	SQLiteStore = artifact.KindSQLite
)

// Config is the full configuration of a system.
type Config struct {
	// RunID scopes checkpoints. Empty means a fresh id per launch.
	RunID string `yaml:"run_id" json:"run_id"`
	// Seed seeds replay samplers and the debug environment. Zero is random.
	Seed int64 `yaml:"seed" json:"seed"`

	// NumExecutors is the number of experience-generating executors.
	NumExecutors int `yaml:"num_executors" json:"num_executors"`
	// Evaluator adds one executor without an adder.
	Evaluator bool `yaml:"evaluator" json:"evaluator"`

	// NetworkSampling is FixedAgentNetworks or SharedWeights.
	NetworkSampling string `yaml:"network_sampling" json:"network_sampling"`
	// TrainerTopology is SingleTrainer or OneTrainerPerNetwork.
	TrainerTopology string `yaml:"trainer_topology" json:"trainer_topology"`
	// AgentNetKeys overrides the network each agent uses.
	AgentNetKeys map[string]string `yaml:"agent_net_keys,omitempty" json:"agent_net_keys,omitempty"`

	Discount                     float64 `yaml:"discount" json:"discount"`
	ExecutorVariableUpdatePeriod int     `yaml:"executor_variable_update_period" json:"executor_variable_update_period"`
	MaxTrainerSteps              int64   `yaml:"max_trainer_steps" json:"max_trainer_steps"`
	MaxExecutorEpisodes          int     `yaml:"max_executor_episodes" json:"max_executor_episodes"`

	Replay     ReplayConfig     `yaml:"replay" json:"replay"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Sockets    SocketsConfig    `yaml:"sockets" json:"sockets"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ReplayConfig configures tables, datasets and adders.
type ReplayConfig struct {
	// TableName prefixes the per-trainer table names.
	TableName string `yaml:"table_name" json:"table_name"`
	// OnPolicy selects queue tables instead of uniform replay.
	OnPolicy      bool `yaml:"on_policy" json:"on_policy"`
	MinReplaySize int  `yaml:"min_replay_size" json:"min_replay_size"`
	MaxReplaySize int  `yaml:"max_replay_size" json:"max_replay_size"`
	// SamplesPerInsert bounds the sample-to-insert ratio; zero only waits
	// for MinReplaySize items.
	SamplesPerInsert float64 `yaml:"samples_per_insert" json:"samples_per_insert"`
	BatchSize        int     `yaml:"batch_size" json:"batch_size"`
	PrefetchSize     int     `yaml:"prefetch_size" json:"prefetch_size"`

	// Adder is TransitionAdder or SequenceAdder.
	Adder          string `yaml:"adder" json:"adder"`
	NStep          int    `yaml:"n_step" json:"n_step"`
	SequenceLength int    `yaml:"sequence_length" json:"sequence_length"`
	Period         int    `yaml:"period" json:"period"`
}

// CheckpointConfig configures variable server persistence.
type CheckpointConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Store is MemoryStore, FileStore or SQLiteStore.
	Store string `yaml:"store" json:"store"`
	// Path is the checkpoint directory (file) or database file (sqlite).
	Path           string `yaml:"path" json:"path"`
	MinuteInterval int    `yaml:"minute_interval" json:"minute_interval"`
	MaxToKeep      int    `yaml:"max_to_keep" json:"max_to_keep"`
	// Compression is "none", "lz4" or "zstd".
	Compression string `yaml:"compression" json:"compression"`
}

// SocketsConfig names the unix sockets of the standalone services.
type SocketsConfig struct {
	Replay    string `yaml:"replay" json:"replay"`
	Variables string `yaml:"variables" json:"variables"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the default configuration, matching the usual MADDPG
// hyper-parameters.
func Default() *Config {
	return &Config{
		NumExecutors:                 1,
		NetworkSampling:              FixedAgentNetworks,
		TrainerTopology:              SingleTrainer,
		Discount:                     0.99,
		ExecutorVariableUpdatePeriod: 1000,
		Replay: ReplayConfig{
			TableName:        "trainer",
			MinReplaySize:    1000,
			MaxReplaySize:    1_000_000,
			SamplesPerInsert: 32,
			BatchSize:        256,
			PrefetchSize:     4,
			Adder:            TransitionAdder,
			NStep:            5,
			SequenceLength:   20,
			Period:           20,
		},
		Checkpoint: CheckpointConfig{
			Enabled:        true,
			Store:          FileStore,
			Path:           "${HOME}/.cache/marlmesh/checkpoints",
			MinuteInterval: 10,
			MaxToKeep:      5,
			Compression:    "zstd",
		},
		Sockets: SocketsConfig{
			Replay:    "${XDG_RUNTIME_DIR:-/tmp}/marlmesh/replay.sock",
			Variables: "${XDG_RUNTIME_DIR:-/tmp}/marlmesh/variables.sock",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load loads configuration from the file named by MARLMESH_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config flag", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over the defaults. ext selects the format as in
// LoadFile.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Checkpoint.Path = expandVars(c.Checkpoint.Path)
	c.Sockets.Replay = expandVars(c.Sockets.Replay)
	c.Sockets.Variables = expandVars(c.Sockets.Variables)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.NumExecutors < 1 {
		errs = append(errs, fmt.Errorf("num_executors must be at least 1, got %d", c.NumExecutors))
	}
	if c.NetworkSampling != FixedAgentNetworks && c.NetworkSampling != SharedWeights {
		errs = append(errs, fmt.Errorf("invalid network_sampling: %q", c.NetworkSampling))
	}
	if c.TrainerTopology != SingleTrainer && c.TrainerTopology != OneTrainerPerNetwork {
		errs = append(errs, fmt.Errorf("invalid trainer_topology: %q", c.TrainerTopology))
	}
	if c.Discount < 0 || c.Discount > 1 {
		errs = append(errs, fmt.Errorf("discount must be in [0, 1], got %v", c.Discount))
	}
	if c.ExecutorVariableUpdatePeriod < 1 {
		errs = append(errs, fmt.Errorf("executor_variable_update_period must be positive"))
	}

	r := c.Replay
	if r.TableName == "" {
		errs = append(errs, fmt.Errorf("replay.table_name is required"))
	}
	if r.MinReplaySize < 1 || r.MaxReplaySize < r.MinReplaySize {
		errs = append(errs, fmt.Errorf("replay sizes must satisfy 1 <= min_replay_size (%d) <= max_replay_size (%d)",
			r.MinReplaySize, r.MaxReplaySize))
	}
	if r.SamplesPerInsert < 0 {
		errs = append(errs, fmt.Errorf("replay.samples_per_insert must not be negative"))
	}
	if r.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("replay.batch_size must be positive"))
	}
	switch r.Adder {
	case TransitionAdder:
		if r.NStep < 1 {
			errs = append(errs, fmt.Errorf("replay.n_step must be positive"))
		}
	case SequenceAdder:
		if r.SequenceLength < 1 || r.Period < 1 || r.Period > r.SequenceLength {
			errs = append(errs, fmt.Errorf("replay.period must be in [1, sequence_length]"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid replay.adder: %q", r.Adder))
	}

	if c.Checkpoint.Enabled {
		switch c.Checkpoint.Store {
		case MemoryStore:
		case FileStore, SQLiteStore:
			if c.Checkpoint.Path == "" {
				errs = append(errs, fmt.Errorf("checkpoint.path is required for the %s store", c.Checkpoint.Store))
			}
		default:
			errs = append(errs, fmt.Errorf("invalid checkpoint.store: %q", c.Checkpoint.Store))
		}
	}
	// The interval also paces the variable server loop when checkpointing
	// is off.
	if c.Checkpoint.MinuteInterval < 1 {
		errs = append(errs, fmt.Errorf("checkpoint.minute_interval must be positive"))
	}

	return errors.Join(errs...)
}
