package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/marlmesh/artifact"
	"github.com/hupe1980/marlmesh/config"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/internal/codec"
	"github.com/hupe1980/marlmesh/internal/rpc"
	"github.com/hupe1980/marlmesh/replay"
	"github.com/hupe1980/marlmesh/variables"
)

func variablesCommand(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "get" {
		return fmt.Errorf("usage: marlctl variables get [flags] NAME...")
	}
	var common commonFlags
	fs := newFlagSet("variables get", &common)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	cfg, logger, err := common.load()
	if err != nil {
		return err
	}

	client := rpc.NewClient(cfg.Sockets.Variables, func(o *rpc.ClientOptions) { o.Logger = logger })
	vars, err := variables.NewRemoteSource(client).GetVariables(ctx, fs.Args()...)
	if err != nil {
		return err
	}
	printCollection(vars)
	return nil
}

func replayCommand(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "info" {
		return fmt.Errorf("usage: marlctl replay info [flags] TABLE...")
	}
	var common commonFlags
	fs := newFlagSet("replay info", &common)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("replay info needs at least one table name")
	}
	cfg, logger, err := common.load()
	if err != nil {
		return err
	}

	client := replay.NewRemoteClient(rpc.NewClient(cfg.Sockets.Replay, func(o *rpc.ClientOptions) { o.Logger = logger }))
	for _, table := range fs.Args() {
		info, err := client.Info(ctx, table)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s/%s items, %s inserts, %s samples, %s deletes\n", info.Name,
			humanize.Comma(int64(info.Size)), humanize.Comma(int64(info.MaxSize)),
			humanize.Comma(info.Inserts), humanize.Comma(info.Samples), humanize.Comma(info.Deletes))
	}
	return nil
}

func checkpointCommand(ctx context.Context, args []string) error {
	if len(args) == 0 || (args[0] != "list" && args[0] != "inspect") {
		return fmt.Errorf("usage: marlctl checkpoint list|inspect [flags] [ID]")
	}
	var (
		common commonFlags
		runID  string
		raw    bool
	)
	fs := newFlagSet("checkpoint "+args[0], &common)
	fs.StringVar(&runID, "run-id", "", "run whose checkpoints to read (default: config run_id)")
	fs.BoolVar(&raw, "raw", false, "print the stored CBOR in diagnostic notation")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	cfg, _, err := common.load()
	if err != nil {
		return err
	}
	if runID == "" {
		runID = cfg.RunID
	}
	if runID == "" {
		return fmt.Errorf("no run id; pass --run-id or set run_id in the config")
	}

	store, err := openCheckpointStore(ctx, cfg)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	cp := variables.NewCheckpointer(store, runID)

	if args[0] == "list" {
		ids, err := cp.List(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	id := fs.Arg(0)
	if id == "" {
		if id, err = cp.Latest(ctx); err != nil {
			return err
		}
	}
	if raw {
		data, err := store.Get(ctx, runID, id)
		if err != nil {
			return err
		}
		diag, err := codec.Diagnose(data)
		if err != nil {
			return err
		}
		fmt.Println(diag)
		return nil
	}

	info, err := cp.Inspect(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("checkpoint %s (run %s)\n", info.ID, info.RunID)
	fmt.Printf("  created %s (%s)\n", info.CreatedAt.Format("2006-01-02 15:04:05Z"), humanize.Time(info.CreatedAt))
	fmt.Printf("  size    %s\n", humanize.Bytes(uint64(info.Size)))
	fmt.Printf("  entries %s\n", strings.Join(info.Entries, ", "))

	vars, err := cp.Restore(ctx, id)
	if err != nil {
		return err
	}
	printCollection(vars)
	return nil
}

func openCheckpointStore(ctx context.Context, cfg *config.Config) (core.ArtifactStore, error) {
	if cfg.Checkpoint.Store == config.MemoryStore {
		return nil, fmt.Errorf("the memory checkpoint store does not outlive its process")
	}
	return artifact.Open(ctx, cfg.Checkpoint.Store, cfg.Checkpoint.Path)
}

func printCollection(vars variables.Collection) {
	for _, name := range vars.Names() {
		v := vars[name]
		switch {
		case v.Placeholder():
			fmt.Printf("  %s: placeholder\n", name)
		case v.Kind == variables.KindGroup:
			for i, t := range v.Group {
				fmt.Printf("  %s[%d] %v: %s\n", name, i, t.Shape, formatValues(t.Data))
			}
		default:
			fmt.Printf("  %s %v: %s\n", name, v.Tensor.Shape, formatValues(v.Tensor.Data))
		}
	}
}

func formatValues(data []float64) string {
	const limit = 8
	parts := make([]string, 0, min(len(data), limit)+1)
	for i, v := range data {
		if i == limit {
			parts = append(parts, fmt.Sprintf("... (%d more)", len(data)-limit))
			break
		}
		parts = append(parts, humanize.FtoaWithDigits(v, 4))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
