// Package core provides the foundational domain types and collaborator
// interfaces shared by marlmesh packages:
//
//   - Environment specs (ArraySpec, AgentSpec, EnvironmentSpec)
//   - The Environment collaborator and its joint TimeStep bundle
//   - The Adder contract between executors and replay tables
//   - The ArtifactStore contract behind checkpoint persistence
//   - Small shared helpers (StepCounter, LoggerAdapter)
//
// Implementation concerns (replay storage, variable serving, orchestration)
// live in their own packages and depend on these small interfaces.
package core
