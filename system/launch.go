package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/marlmesh/replay"
)

// Launch builds the system and runs it until it finishes, fails or ctx is
// cancelled.
func (s *System) Launch(ctx context.Context) error {
	p, err := s.Build(ctx)
	if err != nil {
		return err
	}
	return p.Run(ctx)
}

// Run runs every part of the program in its own goroutine: the variable
// server loop, the executor loops, the evaluator and the trainers.
//
// The run finishes when the variable server loop terminates, when every
// trainer reached max_trainer_steps, or, without a trainer step limit, when
// every executor played max_executor_episodes. The first failure cancels
// every other part and is returned. Cancelling ctx is not a failure. The
// program is closed when Run returns.
func (p *Program) Run(ctx context.Context) error {
	defer p.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(part string, err error) {
		once.Do(func() {
			firstErr = fmt.Errorf("%s: %w", part, err)
			p.logger.ErrorWithStack(err, "system part failed, stopping", "part", part)
		})
		cancel()
	}
	run := func(part string, fn func() error, done func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && ctx.Err() == nil && !errors.Is(err, replay.ErrTableClosed) {
				fail(part, err)
				return
			}
			if done != nil {
				done()
			}
		}()
	}

	start := time.Now()
	p.logger.Info("system launching",
		"executors", len(p.Executors),
		"trainers", len(p.Trainers),
	)

	run("variable_server", func() error { return p.Variables.Run(ctx) }, cancel)

	limitTrainers := p.Config.MaxTrainerSteps > 0
	limitExecutors := !limitTrainers && p.Config.MaxExecutorEpisodes > 0

	var executorsLeft atomic.Int32
	executorsLeft.Store(int32(len(p.Executors)))
	for i, loop := range p.Executors {
		run(fmt.Sprintf("executor_%d", i), func() error {
			return loop.Run(ctx, p.Config.MaxExecutorEpisodes)
		}, func() {
			if executorsLeft.Add(-1) == 0 && limitExecutors {
				cancel()
			}
		})
	}
	if p.Evaluator != nil {
		run("evaluator", func() error { return p.Evaluator.Run(ctx, 0) }, nil)
	}

	var trainersLeft atomic.Int32
	trainersLeft.Store(int32(len(p.Trainers)))
	for _, tr := range p.Trainers {
		run(tr.ID(), func() error {
			return tr.Run(ctx, p.Config.MaxTrainerSteps)
		}, func() {
			if trainersLeft.Add(-1) == 0 && limitTrainers {
				cancel()
			}
		})
	}

	wg.Wait()

	if firstErr == nil && p.Config.Checkpoint.Enabled {
		if _, err := p.Variables.Checkpoint(context.Background()); err != nil {
			p.logger.Warn("final checkpoint failed", "error", err)
		}
	}
	p.logger.Info("system stopped", "duration", time.Since(start), "failed", firstErr != nil)
	return firstErr
}
