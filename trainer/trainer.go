package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/logging"
	"github.com/hupe1980/marlmesh/replay"
	"github.com/hupe1980/marlmesh/variables"
)

// StepsKey is the server variable counting trainer steps across trainers.
const StepsKey = "trainer_steps"

// Learner performs one optimisation step. It returns the updated values of
// the parameters it was given and scalar metrics such as losses.
type Learner interface {
	Step(ctx context.Context, batch replay.Batch, params variables.Collection) (variables.Collection, map[string]float64, error)
}

// LearnerFunc adapts a function to Learner.
type LearnerFunc func(ctx context.Context, batch replay.Batch, params variables.Collection) (variables.Collection, map[string]float64, error)

// Step calls f.
func (f LearnerFunc) Step(ctx context.Context, batch replay.Batch, params variables.Collection) (variables.Collection, map[string]float64, error) {
	return f(ctx, batch, params)
}

// Options configures a Trainer.
type Options struct {
	// Statistics records step metrics; a fresh store is used when nil.
	Statistics *Statistics
	// CountSteps adds every step to StepsKey on the server.
	CountSteps bool
	Logger     *logging.TrainingLogger
}

// Trainer binds a dataset, a learner and a trainer variable client.
type Trainer struct {
	id      string
	dataset *replay.Dataset
	client  *variables.TrainerClient
	learner Learner
	stats   *Statistics
	count   bool
	steps   *core.StepCounter
	logger  *logging.TrainingLogger
}

// New creates a trainer identified by id.
func New(id string, dataset *replay.Dataset, client *variables.TrainerClient, learner Learner, optFns ...func(o *Options)) (*Trainer, error) {
	opts := Options{CountSteps: true}
	for _, fn := range optFns {
		fn(&opts)
	}
	switch {
	case dataset == nil:
		return nil, errors.New("trainer requires a dataset")
	case client == nil:
		return nil, errors.New("trainer requires a variable client")
	case learner == nil:
		return nil, errors.New("trainer requires a learner")
	}
	if opts.Statistics == nil {
		opts.Statistics = NewStatistics(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Trainer{
		id:      id,
		dataset: dataset,
		client:  client,
		learner: learner,
		stats:   opts.Statistics,
		count:   opts.CountSteps,
		steps:   core.NewStepCounter(0),
		logger:  logger.WithComponent("trainer").WithTrainer(id),
	}, nil
}

// ID returns the trainer id.
func (t *Trainer) ID() string { return t.id }

// Statistics returns the trainer's metrics store.
func (t *Trainer) Statistics() *Statistics { return t.stats }

// UseStatistics replaces the metrics store. It must be called before Run.
func (t *Trainer) UseStatistics(s *Statistics) {
	if s != nil {
		t.stats = s
	}
}

// Steps returns the number of completed steps.
func (t *Trainer) Steps() int64 { return t.steps.Count() }

// Step runs one learning step. The first step pulls the current parameters
// from the server.
func (t *Trainer) Step(ctx context.Context) error {
	start := time.Now()

	if len(t.client.Variables()) == 0 {
		if err := t.client.Get(ctx); err != nil {
			return fmt.Errorf("fetching initial parameters: %w", err)
		}
	}

	batch, err := t.dataset.Next(ctx)
	if err != nil {
		return err
	}

	params := t.client.Variables().Clone()
	updated, metrics, err := t.learner.Step(ctx, batch, params)
	if err != nil {
		return fmt.Errorf("learner step: %w", err)
	}
	if len(updated) > 0 {
		if err := t.client.Set(ctx, updated); err != nil {
			return fmt.Errorf("pushing parameters: %w", err)
		}
	}
	if t.count {
		if err := t.client.Add(ctx, map[string]variables.Tensor{StepsKey: {Data: []float64{1}}}); err != nil {
			return fmt.Errorf("counting step: %w", err)
		}
	}

	step, _ := t.steps.Increment()
	t.stats.Record(step, metrics)
	t.logger.LogTrainerStep(step, time.Since(start), metrics)
	return nil
}

// Run steps until ctx is cancelled or, when maxSteps > 0, maxSteps steps
// have completed. Cancellation is not an error.
func (t *Trainer) Run(ctx context.Context, maxSteps int64) error {
	for maxSteps <= 0 || t.steps.Count() < maxSteps {
		if ctx.Err() != nil {
			t.logger.Info("trainer stopped", "steps", t.steps.Count())
			return nil
		}
		if err := t.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.ErrorWithStack(err, "trainer step failed")
			return err
		}
	}
	t.logger.Info("trainer finished", "steps", t.steps.Count())
	return nil
}
