// Package artifact contains concrete implementations of core.ArtifactStore,
// the persistence layer behind variable checkpoints.
//
// The canonical interface lives in the core package to avoid dependency
// cycles. Implementations here (in-memory, directory per run, SQLite) can be
// swapped without touching the checkpointing code.
package artifact
