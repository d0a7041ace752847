package testutil

import "github.com/hupe1980/marlmesh/config"

// SmallConfig returns a valid configuration sized for tests: tiny tables
// and batches, in-memory checkpoints and frequent parameter pulls.
func SmallConfig() *config.Config {
	cfg := config.Default()
	cfg.RunID = "test-run"
	cfg.Seed = 1
	cfg.ExecutorVariableUpdatePeriod = 1
	cfg.Replay.MinReplaySize = 1
	cfg.Replay.MaxReplaySize = 100
	cfg.Replay.SamplesPerInsert = 0
	cfg.Replay.BatchSize = 2
	cfg.Replay.PrefetchSize = 0
	cfg.Replay.NStep = 1
	cfg.Checkpoint.Enabled = false
	cfg.Checkpoint.Store = config.MemoryStore
	cfg.Logging.Level = "error"
	return cfg
}
