package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/logging"
)

// EpisodeResult summarises one episode.
type EpisodeResult struct {
	Episode  int
	Steps    int
	Returns  map[string]float64
	Duration time.Duration
}

// LoopOptions configures an EnvironmentLoop.
type LoopOptions struct {
	// Label names the loop in logs, e.g. "executor_0" or "evaluator".
	Label string
	// OnEpisode, when set, receives every finished episode.
	OnEpisode func(EpisodeResult)
	Logger    *logging.TrainingLogger
}

// EnvironmentLoop drives an executor against an environment.
type EnvironmentLoop struct {
	env       core.Environment
	executor  *Executor
	label     string
	onEpisode func(EpisodeResult)
	logger    *logging.TrainingLogger
	steps     *core.StepCounter
}

// NewEnvironmentLoop binds env and executor.
func NewEnvironmentLoop(env core.Environment, executor *Executor, optFns ...func(o *LoopOptions)) *EnvironmentLoop {
	opts := LoopOptions{Label: "executor"}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &EnvironmentLoop{
		env:       env,
		executor:  executor,
		label:     opts.Label,
		onEpisode: opts.OnEpisode,
		logger:    logger.WithComponent(opts.Label),
		steps:     core.NewStepCounter(0),
	}
}

// Steps returns the total number of environment steps taken.
func (l *EnvironmentLoop) Steps() int64 { return l.steps.Count() }

// RunEpisode plays one episode: reset, observe first, then select, step,
// observe and update until the environment ends the episode.
func (l *EnvironmentLoop) RunEpisode(ctx context.Context, episode int) (EpisodeResult, error) {
	start := time.Now()
	res := EpisodeResult{Episode: episode, Returns: map[string]float64{}}

	ts, err := l.env.Reset(ctx)
	if err != nil {
		return res, fmt.Errorf("resetting environment: %w", err)
	}
	if err := l.executor.ObserveFirst(ctx, ts); err != nil {
		return res, err
	}

	for !ts.Done() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		actions, err := l.executor.SelectActions(ctx, ts.Observations)
		if err != nil {
			return res, err
		}
		next, err := l.env.Step(ctx, actions)
		if err != nil {
			return res, fmt.Errorf("stepping environment: %w", err)
		}
		if err := l.executor.Observe(ctx, actions, next, next.Extras); err != nil {
			return res, err
		}
		if err := l.executor.Update(ctx, false); err != nil {
			return res, err
		}

		for agent, r := range next.Rewards {
			res.Returns[agent] += r
		}
		res.Steps++
		_, _ = l.steps.Increment()
		ts = next
	}

	res.Duration = time.Since(start)
	return res, nil
}

// Run plays episodes until ctx is cancelled or, when maxEpisodes > 0,
// maxEpisodes have finished. Cancellation is not an error.
func (l *EnvironmentLoop) Run(ctx context.Context, maxEpisodes int) error {
	for episode := 0; maxEpisodes <= 0 || episode < maxEpisodes; episode++ {
		res, err := l.RunEpisode(ctx, episode)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.ErrorWithStack(err, "episode failed", "episode", episode)
			return err
		}

		l.logger.Info("episode finished",
			"episode", res.Episode,
			"steps", res.Steps,
			"returns", res.Returns,
			"duration_ms", res.Duration.Milliseconds(),
		)
		if l.onEpisode != nil {
			l.onEpisode(res)
		}
	}
	return nil
}
