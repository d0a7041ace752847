// Package adders turns the joint timesteps an executor observes into replay
// items.
//
// An adder is parallel: one environment step carries data for every agent,
// and the adder writes one item per replay table containing the fields of
// the agents that table serves. Two packagings are provided:
//
//   - ParallelNStepTransitionAdder writes n-step discounted transitions
//     (o_t, a_t, R_t:t+n, D_t:t+n, o_t+n) for off-policy learners.
//   - ParallelSequenceAdder writes fixed-length, possibly overlapping
//     sequences for recurrent or on-policy learners.
//
// Field paths follow "<kind>/<agent>", for example "observations/agent_0";
// extras use "extras/<key>". TransitionSignature and SequenceSignature derive
// the matching replay.Signature from an environment spec.
package adders
