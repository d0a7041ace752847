package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/environments/debug"
	"github.com/hupe1980/marlmesh/internal/rpc"
	"github.com/hupe1980/marlmesh/logging"
	"github.com/hupe1980/marlmesh/system"
)

func runCommand(ctx context.Context, args []string) error {
	var (
		common       commonFlags
		serve        bool
		executors    int
		trainerSteps int64
		episodes     int
		seed         int64
		discrete     bool
		rate         float64
		noise        float64
	)
	fs := newFlagSet("run", &common)
	fs.BoolVar(&serve, "serve", false, "expose the replay and variable servers on the configured sockets")
	fs.IntVar(&executors, "executors", 0, "override num_executors")
	fs.Int64Var(&trainerSteps, "trainer-steps", 0, "override max_trainer_steps")
	fs.IntVar(&episodes, "episodes", 0, "override max_executor_episodes")
	fs.Int64Var(&seed, "seed", 0, "override the seed")
	fs.BoolVar(&discrete, "discrete", false, "use discrete actions in the debug environment")
	fs.Float64Var(&rate, "learning-rate", 0.1, "step towards the best sampled action")
	fs.Float64Var(&noise, "noise", 0.3, "standard deviation of exploration noise")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := common.load()
	if err != nil {
		return err
	}
	if fs.Changed("executors") {
		cfg.NumExecutors = executors
	}
	if fs.Changed("trainer-steps") {
		cfg.MaxTrainerSteps = trainerSteps
	}
	if fs.Changed("episodes") {
		cfg.MaxExecutorEpisodes = episodes
	}
	if fs.Changed("seed") {
		cfg.Seed = seed
	}
	if cfg.MaxTrainerSteps <= 0 && cfg.MaxExecutorEpisodes <= 0 {
		logger.Warn("no step or episode limit; training runs until interrupted")
	}

	components := system.DefaultComponents(cfg, bestActionLearner(rate))
	envs := func(index int, _ bool) (core.Environment, error) {
		return debug.New(func(o *debug.Options) {
			o.Seed = uint64(cfg.Seed) + uint64(index) + 1
			o.Discrete = discrete
		}), nil
	}
	sys := system.New(envs, toyNetworks(noise), func(o *system.Options) {
		o.Config = cfg
		o.Components = components
		o.Logger = logger
	})

	prog, err := sys.Build(ctx)
	if err != nil {
		return err
	}
	defer prog.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if serve {
		servers, err := services(prog, logger)
		if err != nil {
			return err
		}
		for socket, srv := range servers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := srv.Serve(runCtx); err != nil {
					logger.Error("serving failed", "socket", socket, "error", err)
				}
			}()
		}
	}

	err = prog.Run(runCtx)
	cancel()
	wg.Wait()
	if err != nil {
		return err
	}
	return summarize(ctx, prog)
}

// services creates one rpc server per configured socket.
func services(prog *system.Program, logger *logging.TrainingLogger) (map[string]*rpc.Server, error) {
	sockets := prog.Config.Sockets
	for _, path := range []string{sockets.Replay, sockets.Variables} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating socket directory: %w", err)
		}
	}

	replaySrv := rpc.NewServer(sockets.Replay, logger.WithComponent("replay"))
	prog.Replay.Register(replaySrv)
	variablesSrv := rpc.NewServer(sockets.Variables, logger.WithComponent("variables"))
	prog.Variables.Register(variablesSrv)

	return map[string]*rpc.Server{
		sockets.Replay:    replaySrv,
		sockets.Variables: variablesSrv,
	}, nil
}

func summarize(ctx context.Context, prog *system.Program) error {
	fmt.Printf("run %s finished\n", prog.RunID)
	for _, tr := range prog.Trainers {
		fmt.Printf("  %s: %s steps\n", tr.ID(), humanize.Comma(tr.Steps()))
		stats := tr.Statistics()
		for _, name := range stats.Names() {
			if s, ok := stats.Summary(name); ok {
				fmt.Printf("    %-12s mean %.4f  std %.4f\n", name, s.Mean, s.Std)
			}
		}
	}

	vars, err := prog.Variables.GetVariables(ctx, prog.Variables.Names()...)
	if err != nil {
		return err
	}
	printCollection(vars)
	return nil
}
