// Package trainer runs the learning side of a system.
//
// A Trainer owns one dataset and the variables of the networks it trains.
// Each Step samples a batch, hands it to the Learner together with the
// current parameters, pushes the returned parameters to the variable server
// and counts the step there. The loss and optimiser live behind Learner.
package trainer
