// Package callback defines the closed, totally ordered set of lifecycle hooks
// and the registry that dispatches them to components.
//
// Orchestrators (the builder, the variable server, executors) own a Registry
// over their shared state type and dispatch hooks at fixed points. Components
// are composable and replaceable: the same orchestrator supports different
// algorithms purely by swapping the component list.
package callback
