package building

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/marlmesh/adders"
	"github.com/hupe1980/marlmesh/builder"
	"github.com/hupe1980/marlmesh/callback"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/replay"
)

// ParallelTransitionAdderSignature installs the n-step transition signature.
type ParallelTransitionAdderSignature struct{}

// Name implements callback.Component.
func (ParallelTransitionAdderSignature) Name() string { return "adder_signature" }

// Hooks implements callback.Component.
func (ParallelTransitionAdderSignature) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingAdderSignature: func(_ context.Context, c *builder.Context) error {
			return c.SetAdderSignature(adders.TransitionSignature)
		},
	}
}

// ParallelSequenceAdderSignature installs the sequence signature. A zero
// SequenceLength uses replay.sequence_length.
type ParallelSequenceAdderSignature struct {
	SequenceLength int
}

// Name implements callback.Component.
func (ParallelSequenceAdderSignature) Name() string { return "adder_signature" }

// Hooks implements callback.Component.
func (s ParallelSequenceAdderSignature) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingAdderSignature: func(_ context.Context, c *builder.Context) error {
			n := s.SequenceLength
			if n == 0 {
				n = c.Config.Replay.SequenceLength
			}
			return c.SetAdderSignature(adders.SequenceSignature(n))
		},
	}
}

// samplesPerInsertTolerance is the fraction of samples_per_insert the
// sample-to-insert ratio may drift by.
const samplesPerInsertTolerance = 0.1

// OffPolicyRateLimiter limits tables to a sample-to-insert ratio once
// min_replay_size items are stored. With samples_per_insert zero it only
// enforces the minimum size.
type OffPolicyRateLimiter struct{}

// Name implements callback.Component.
func (OffPolicyRateLimiter) Name() string { return "rate_limiter" }

// Hooks implements callback.Component.
func (OffPolicyRateLimiter) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingRateLimiter: func(_ context.Context, c *builder.Context) error {
			r := c.Config.Replay
			if r.SamplesPerInsert <= 0 {
				return c.SetRateLimiter(func() replay.RateLimiterSpec { return replay.MinSize(r.MinReplaySize) })
			}
			errorBuffer := float64(r.MinReplaySize) * samplesPerInsertTolerance * r.SamplesPerInsert
			return c.SetRateLimiter(func() replay.RateLimiterSpec {
				return replay.SampleToInsertRatio(r.SamplesPerInsert, r.MinReplaySize, errorBuffer)
			})
		},
	}
}

// OnPolicyRateLimiter turns tables into queues of max_replay_size items.
type OnPolicyRateLimiter struct{}

// Name implements callback.Component.
func (OnPolicyRateLimiter) Name() string { return "rate_limiter" }

// Hooks implements callback.Component.
func (OnPolicyRateLimiter) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingRateLimiter: func(_ context.Context, c *builder.Context) error {
			size := c.Config.Replay.MaxReplaySize
			return c.SetRateLimiter(func() replay.RateLimiterSpec { return replay.Queue(size) })
		},
	}
}

// OffPolicyReplayTables creates one uniform-sampling, FIFO-evicting table
// per trainer.
type OffPolicyReplayTables struct{}

// Name implements callback.Component.
func (OffPolicyReplayTables) Name() string { return "replay_tables" }

// Hooks implements callback.Component.
func (OffPolicyReplayTables) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingMakeTables: func(_ context.Context, c *builder.Context) error {
			tables, err := makeTables(c, func(name string) replay.TableSpec {
				return replay.TableSpec{
					Name:    name,
					Sampler: replay.Uniform,
					Remover: replay.Fifo,
					MaxSize: c.Config.Replay.MaxReplaySize,
				}
			})
			if err != nil {
				return err
			}
			return c.SetReplayTables(tables)
		},
	}
}

// OnPolicyReplayTables creates one queue table per trainer: items are
// sampled once, in insertion order.
type OnPolicyReplayTables struct{}

// Name implements callback.Component.
func (OnPolicyReplayTables) Name() string { return "replay_tables" }

// Hooks implements callback.Component.
func (OnPolicyReplayTables) Hooks() Hooks {
	return Hooks{
		callback.OnBuildingMakeTables: func(_ context.Context, c *builder.Context) error {
			tables, err := makeTables(c, func(name string) replay.TableSpec {
				return replay.TableSpec{
					Name:            name,
					Sampler:         replay.Fifo,
					Remover:         replay.Fifo,
					MaxSize:         c.Config.Replay.MaxReplaySize,
					MaxTimesSampled: 1,
				}
			})
			if err != nil {
				return err
			}
			return c.SetReplayTables(tables)
		},
	}
}

// makeTables builds one table per entry of the table network config, in
// name order. The signature of each table covers only the agents it stores.
func makeTables(c *builder.Context, base func(name string) replay.TableSpec) ([]replay.TableSpec, error) {
	signature, limiter := c.AdderSignature(), c.RateLimiter()
	if signature == nil {
		return nil, fmt.Errorf("%w: %s", builder.ErrMissingArtifact, builder.ArtifactAdderSignature)
	}
	if limiter == nil {
		return nil, fmt.Errorf("%w: %s", builder.ErrMissingArtifact, builder.ArtifactRateLimiter)
	}
	if len(c.TableNetworkConfig) == 0 {
		return nil, fmt.Errorf("%w: no table network config; is SystemSetup registered?", ErrNetworkPartition)
	}

	extras := maps.Clone(c.EnvironmentSpec.Extras)
	if extras == nil {
		extras = map[string]core.ArraySpec{}
	}
	maps.Copy(extras, c.ExtraSpecs)

	var tables []replay.TableSpec
	for _, name := range slices.Sorted(maps.Keys(c.TableNetworkConfig)) {
		spec, err := tableSpec(c.EnvironmentSpec, name, c.TableNetworkConfig[name])
		if err != nil {
			return nil, err
		}
		table := base(name)
		table.RateLimiter = limiter()
		table.Signature = signature(spec, extras)
		if err := table.Validate(); err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

// tableSpec restricts env to agents.
func tableSpec(env core.EnvironmentSpec, table string, agents []string) (core.EnvironmentSpec, error) {
	if len(agents) == 0 {
		return core.EnvironmentSpec{}, fmt.Errorf("%w: table %q stores no agents", ErrNetworkPartition, table)
	}
	out := core.EnvironmentSpec{Agents: make(map[string]core.AgentSpec, len(agents))}
	for _, agent := range agents {
		spec, ok := env.Agents[agent]
		if !ok {
			return core.EnvironmentSpec{}, fmt.Errorf("%w: table %q stores agent %q which the environment does not have",
				ErrNetworkPartition, table, agent)
		}
		out.Agents[agent] = spec.Clone()
	}
	return out, nil
}
