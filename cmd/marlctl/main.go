// marlctl runs and inspects marlmesh training systems.
//
// Usage:
//
//	marlctl run [--config path] [--serve] [--executors n] [--trainer-steps n]
//	marlctl variables get [--config path] NAME...
//	marlctl replay info [--config path] TABLE...
//	marlctl checkpoint list|inspect [--config path] [--run-id id] [ID]
//	marlctl version
//
// The configuration file is read from --config or, when the flag is empty,
// from the MARLMESH_CONFIG environment variable. Without either the
// defaults are used.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hupe1980/marlmesh/config"
	"github.com/hupe1980/marlmesh/logging"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("missing command")
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "run":
		return runCommand(ctx, rest)
	case "variables":
		return variablesCommand(ctx, rest)
	case "replay":
		return replayCommand(ctx, rest)
	case "checkpoint":
		return checkpointCommand(ctx, rest)
	case "version", "--version":
		fmt.Printf("marlctl %s\n", version)
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `marlctl runs and inspects marlmesh training systems.

Usage:
  marlctl run [flags]                      train on the debug environment
  marlctl variables get [flags] NAME...    read variables from a serving run
  marlctl replay info [flags] TABLE...     describe replay tables of a serving run
  marlctl checkpoint list [flags]          list checkpoints of a run
  marlctl checkpoint inspect [flags] [ID]  describe a checkpoint (latest by default)
  marlctl version

Every command accepts --config; MARLMESH_CONFIG is used when it is empty.
`)
}

// commonFlags are shared by every command.
type commonFlags struct {
	configPath string
	logLevel   string
}

func newFlagSet(name string, common *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&common.configPath, "config", "c", "", "path to a YAML or JSON config file")
	fs.StringVar(&common.logLevel, "log-level", "", "override the configured log level")
	return fs
}

// load reads the configuration and creates the process logger.
func (f *commonFlags) load() (*config.Config, *logging.TrainingLogger, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case f.configPath != "":
		cfg, err = config.LoadFile(f.configPath)
	case os.Getenv(config.EnvVar) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, nil, err
	}

	levelName := cfg.Logging.Level
	if f.logLevel != "" {
		levelName = f.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.NewSlogLogger(level, cfg.Logging.Format, false), nil
}
