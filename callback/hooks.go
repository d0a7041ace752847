package callback

// Hook names a specific lifecycle point where components can contribute
// behaviour.
//
// Hooks provide a flexible mechanism for assembling a system without modifying
// orchestration logic. Each constant represents a fixed point in the build,
// variable-server or execution lifecycle. The set is closed: registries reject
// components declaring hooks outside of it, so a typo fails at system
// construction instead of silently never running.
//
// Hook families:
//   - Building: replay tables, dataset, adder, variable server, executor, trainer
//   - Variables: variable server init, get/set/add requests and the run loop
//   - Execution: executor observe/select/update steps
type Hook string

// Building hooks, in lifecycle order.
const (
	OnBuildingInitStart Hook = "on_building_init_start"
	OnBuildingInit      Hook = "on_building_init"
	OnBuildingInitEnd   Hook = "on_building_init_end"

	OnBuildingMakeReplayTableStart Hook = "on_building_make_replay_table_start"
	OnBuildingAdderSignature       Hook = "on_building_adder_signature"
	OnBuildingRateLimiter          Hook = "on_building_rate_limiter"
	OnBuildingMakeTables           Hook = "on_building_make_tables"
	OnBuildingMakeReplayTableEnd   Hook = "on_building_make_replay_table_end"

	OnBuildingMakeDatasetIteratorStart Hook = "on_building_make_dataset_iterator_start"
	OnBuildingDataset                  Hook = "on_building_dataset"
	OnBuildingMakeDatasetIteratorEnd   Hook = "on_building_make_dataset_iterator_end"

	OnBuildingMakeAdderStart Hook = "on_building_make_adder_start"
	OnBuildingAdderPriority  Hook = "on_building_adder_priority"
	OnBuildingMakeAdder      Hook = "on_building_make_adder"
	OnBuildingMakeAdderEnd   Hook = "on_building_make_adder_end"

	OnBuildingMakeVariableServerStart Hook = "on_building_make_variable_server_start"
	OnBuildingVariableServer          Hook = "on_building_variable_server"
	OnBuildingMakeVariableServerEnd   Hook = "on_building_make_variable_server_end"

	OnBuildingMakeExecutorStart      Hook = "on_building_make_executor_start"
	OnBuildingExecutorVariableClient Hook = "on_building_executor_variable_client"
	OnBuildingExecutor               Hook = "on_building_executor"
	OnBuildingMakeExecutorEnd        Hook = "on_building_make_executor_end"

	OnBuildingMakeTrainerStart      Hook = "on_building_make_trainer_start"
	OnBuildingTrainerVariableClient Hook = "on_building_trainer_variable_client"
	OnBuildingTrainer               Hook = "on_building_trainer"
	OnBuildingTrainerStatistics     Hook = "on_building_trainer_statistics"
	OnBuildingMakeTrainerEnd        Hook = "on_building_make_trainer_end"
)

// Variable server hooks, in lifecycle order.
const (
	OnVariablesInitStart  Hook = "on_variables_init_start"
	OnVariablesInit       Hook = "on_variables_init"
	OnVariablesCheckpoint Hook = "on_variables_checkpoint"
	OnVariablesInitEnd    Hook = "on_variables_init_end"

	OnVariablesGetServerVariablesStart Hook = "on_variables_get_server_variables_start"
	OnVariablesGetServerVariables      Hook = "on_variables_get_server_variables"
	OnVariablesGetServerVariablesEnd   Hook = "on_variables_get_server_variables_end"

	OnVariablesSetServerVariablesStart Hook = "on_variables_set_server_variables_start"
	OnVariablesSetServerVariables      Hook = "on_variables_set_server_variables"
	OnVariablesSetServerVariablesEnd   Hook = "on_variables_set_server_variables_end"

	OnVariablesAddToServerVariablesStart Hook = "on_variables_add_to_server_variables_start"
	OnVariablesAddToServerVariables      Hook = "on_variables_add_to_server_variables"
	OnVariablesAddToServerVariablesEnd   Hook = "on_variables_add_to_server_variables_end"

	OnVariablesRunServerStart           Hook = "on_variables_run_server_start"
	OnVariablesRunServerLoopStart       Hook = "on_variables_run_server_loop_start"
	OnVariablesRunServerLoopCheckpoint  Hook = "on_variables_run_server_loop_checkpoint"
	OnVariablesRunServerLoop            Hook = "on_variables_run_server_loop"
	OnVariablesRunServerLoopTermination Hook = "on_variables_run_server_loop_termination"
	OnVariablesRunServerLoopEnd         Hook = "on_variables_run_server_loop_end"
)

// Execution hooks.
const (
	OnExecutionObserveFirst  Hook = "on_execution_observe_first"
	OnExecutionObserve       Hook = "on_execution_observe"
	OnExecutionSelectActions Hook = "on_execution_select_actions"
	OnExecutionUpdate        Hook = "on_execution_update"
)

// BuildingHooks lists every building hook in lifecycle order.
var BuildingHooks = []Hook{
	OnBuildingInitStart, OnBuildingInit, OnBuildingInitEnd,
	OnBuildingMakeReplayTableStart, OnBuildingAdderSignature, OnBuildingRateLimiter,
	OnBuildingMakeTables, OnBuildingMakeReplayTableEnd,
	OnBuildingMakeDatasetIteratorStart, OnBuildingDataset, OnBuildingMakeDatasetIteratorEnd,
	OnBuildingMakeAdderStart, OnBuildingAdderPriority, OnBuildingMakeAdder, OnBuildingMakeAdderEnd,
	OnBuildingMakeVariableServerStart, OnBuildingVariableServer, OnBuildingMakeVariableServerEnd,
	OnBuildingMakeExecutorStart, OnBuildingExecutorVariableClient, OnBuildingExecutor, OnBuildingMakeExecutorEnd,
	OnBuildingMakeTrainerStart, OnBuildingTrainerVariableClient, OnBuildingTrainer,
	OnBuildingTrainerStatistics, OnBuildingMakeTrainerEnd,
}

// VariablesHooks lists every variable server hook in lifecycle order.
var VariablesHooks = []Hook{
	OnVariablesInitStart, OnVariablesInit, OnVariablesCheckpoint, OnVariablesInitEnd,
	OnVariablesGetServerVariablesStart, OnVariablesGetServerVariables, OnVariablesGetServerVariablesEnd,
	OnVariablesSetServerVariablesStart, OnVariablesSetServerVariables, OnVariablesSetServerVariablesEnd,
	OnVariablesAddToServerVariablesStart, OnVariablesAddToServerVariables, OnVariablesAddToServerVariablesEnd,
	OnVariablesRunServerStart, OnVariablesRunServerLoopStart, OnVariablesRunServerLoopCheckpoint,
	OnVariablesRunServerLoop, OnVariablesRunServerLoopTermination, OnVariablesRunServerLoopEnd,
}

// ExecutionHooks lists every execution hook.
var ExecutionHooks = []Hook{
	OnExecutionObserveFirst, OnExecutionObserve, OnExecutionSelectActions, OnExecutionUpdate,
}

var known = func() map[Hook]int {
	m := make(map[Hook]int)
	for _, set := range [][]Hook{BuildingHooks, VariablesHooks, ExecutionHooks} {
		for _, h := range set {
			m[h] = len(m)
		}
	}
	return m
}()

// Known reports whether h is part of the closed hook set.
func Known(h Hook) bool {
	_, ok := known[h]
	return ok
}

// Order returns the position of h in the total hook order, or -1.
func Order(h Hook) int {
	if i, ok := known[h]; ok {
		return i
	}
	return -1
}
