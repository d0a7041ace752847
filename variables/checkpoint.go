package variables

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/hupe1980/marlmesh/artifact"
	"github.com/hupe1980/marlmesh/core"
	"github.com/hupe1980/marlmesh/internal/clock"
	"github.com/hupe1980/marlmesh/internal/codec"
	"github.com/hupe1980/marlmesh/internal/compress"
	"github.com/hupe1980/marlmesh/internal/util"
	"github.com/hupe1980/marlmesh/logging"
)

const checkpointVersion = 1

// checkpointIDLayout sorts lexicographically in time order. Ids append a
// per-checkpointer sequence number and a random suffix so saves within the
// same instant stay distinct and ordered.
const checkpointIDLayout = "20060102T150405.000000000Z"

// checkpointFile is the persisted form. Entries are compressed one by one so
// a partial restore only decompresses the variables it asks for.
type checkpointFile struct {
	Version   int                       `cbor:"version"`
	RunID     string                    `cbor:"run_id"`
	CreatedAt int64                     `cbor:"created_at"`
	Entries   map[string]compress.Block `cbor:"entries"`
	Digest    []byte                    `cbor:"digest"`
}

// CheckpointInfo describes a stored checkpoint.
type CheckpointInfo struct {
	ID        string
	RunID     string
	CreatedAt time.Time
	Entries   []string
	Size      int
}

// CheckpointerOptions configures a Checkpointer.
type CheckpointerOptions struct {
	Compression compress.Tag
	// MaxToKeep deletes older checkpoints beyond this count. Zero keeps all.
	MaxToKeep int
	Clock     clock.Clock
	Logger    *logging.TrainingLogger
}

// Checkpointer persists variable collections to an artifact store, keyed by
// run identifier.
type Checkpointer struct {
	store       core.ArtifactStore
	runID       string
	compression compress.Tag
	maxToKeep   int
	clock       clock.Clock
	logger      *logging.TrainingLogger
	seq         atomic.Uint64
}

// NewCheckpointer creates a checkpointer writing to store under runID.
func NewCheckpointer(store core.ArtifactStore, runID string, optFns ...func(o *CheckpointerOptions)) *Checkpointer {
	opts := CheckpointerOptions{
		Compression: compress.Zstd,
		MaxToKeep:   5,
		Clock:       clock.Real(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Checkpointer{
		store:       store,
		runID:       runID,
		compression: opts.Compression,
		maxToKeep:   opts.MaxToKeep,
		clock:       opts.Clock,
		logger:      logger.WithComponent("checkpointer").WithRun(runID),
	}
}

// RunID returns the run the checkpointer writes to.
func (c *Checkpointer) RunID() string { return c.runID }

func digest(entries map[string]compress.Block) ([]byte, error) {
	data, err := codec.Marshal(entries)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(data)
	return sum[:], nil
}

// Save writes c, excluding placeholder entries, and returns the checkpoint id.
func (c *Checkpointer) Save(ctx context.Context, vars Collection) (string, error) {
	start := c.clock.Now()
	id := c.newID(start)

	size, n, err := c.save(ctx, id, start, vars)
	c.logger.LogCheckpoint(id, n, size, c.clock.Now().Sub(start), err)
	if err != nil {
		return "", err
	}

	if err := c.prune(ctx); err != nil {
		c.logger.Warn("pruning old checkpoints failed", "error", err.Error())
	}
	return id, nil
}

func (c *Checkpointer) newID(now time.Time) string {
	return fmt.Sprintf("%s-%010d-%s", now.UTC().Format(checkpointIDLayout), c.seq.Add(1), util.ShortID(util.NewID()))
}

func (c *Checkpointer) save(ctx context.Context, id string, now time.Time, vars Collection) (int, int, error) {
	file := checkpointFile{
		Version:   checkpointVersion,
		RunID:     c.runID,
		CreatedAt: now.UnixNano(),
		Entries:   make(map[string]compress.Block),
	}
	for name, v := range vars.WithoutPlaceholders() {
		raw, err := codec.Marshal(v)
		if err != nil {
			return 0, 0, fmt.Errorf("encoding %q: %w", name, err)
		}
		block, err := compress.Compress(raw, c.compression)
		if err != nil {
			return 0, 0, fmt.Errorf("compressing %q: %w", name, err)
		}
		file.Entries[name] = block
	}

	sum, err := digest(file.Entries)
	if err != nil {
		return 0, 0, err
	}
	file.Digest = sum

	data, err := codec.Marshal(file)
	if err != nil {
		return 0, 0, err
	}
	if err := c.store.Save(ctx, c.runID, id, data); err != nil {
		return 0, 0, fmt.Errorf("saving checkpoint %s: %w", id, err)
	}
	return len(data), len(file.Entries), nil
}

func (c *Checkpointer) prune(ctx context.Context) error {
	if c.maxToKeep <= 0 {
		return nil
	}
	ids, err := c.store.List(ctx, c.runID)
	if err != nil {
		return err
	}
	for len(ids) > c.maxToKeep {
		if err := c.store.Delete(ctx, c.runID, ids[0]); err != nil && !errors.Is(err, artifact.ErrNotFound) {
			return err
		}
		ids = ids[1:]
	}
	return nil
}

// List returns the run's checkpoint ids, oldest first.
func (c *Checkpointer) List(ctx context.Context) ([]string, error) {
	return c.store.List(ctx, c.runID)
}

// Latest returns the id of the newest checkpoint or ErrNoCheckpoint.
func (c *Checkpointer) Latest(ctx context.Context) (string, error) {
	ids, err := c.store.List(ctx, c.runID)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("%w for run %q", ErrNoCheckpoint, c.runID)
	}
	return ids[len(ids)-1], nil
}

func (c *Checkpointer) load(ctx context.Context, id string) (checkpointFile, int, error) {
	data, err := c.store.Get(ctx, c.runID, id)
	if errors.Is(err, artifact.ErrNotFound) {
		return checkpointFile{}, 0, fmt.Errorf("%w: %s/%s", ErrNoCheckpoint, c.runID, id)
	}
	if err != nil {
		return checkpointFile{}, 0, err
	}
	var file checkpointFile
	if err := codec.Unmarshal(data, &file); err != nil {
		return checkpointFile{}, 0, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if file.Version != checkpointVersion {
		return checkpointFile{}, 0, fmt.Errorf("%w: unsupported version %d", ErrCorruptCheckpoint, file.Version)
	}
	sum, err := digest(file.Entries)
	if err != nil {
		return checkpointFile{}, 0, err
	}
	if !bytes.Equal(sum, file.Digest) {
		return checkpointFile{}, 0, fmt.Errorf("%w: digest mismatch in %s", ErrCorruptCheckpoint, id)
	}
	return file, len(data), nil
}

// Restore decodes checkpoint id. With names, only those entries are decoded
// and each must be present; without names, every entry is returned.
func (c *Checkpointer) Restore(ctx context.Context, id string, names ...string) (Collection, error) {
	file, _, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		for name := range file.Entries {
			names = append(names, name)
		}
	}

	out := make(Collection, len(names))
	for _, name := range names {
		block, ok := file.Entries[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q not in checkpoint %s", ErrUnknownVariable, name, id)
		}
		raw, err := compress.Decompress(block)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrCorruptCheckpoint, name, err)
		}
		var v Variable
		if err := codec.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrCorruptCheckpoint, name, err)
		}
		out[name] = v
	}
	return out, nil
}

// RestoreLatest restores the newest checkpoint and returns its id.
func (c *Checkpointer) RestoreLatest(ctx context.Context, names ...string) (Collection, string, error) {
	id, err := c.Latest(ctx)
	if err != nil {
		return nil, "", err
	}
	vars, err := c.Restore(ctx, id, names...)
	return vars, id, err
}

// Inspect describes checkpoint id after verifying its digest.
func (c *Checkpointer) Inspect(ctx context.Context, id string) (CheckpointInfo, error) {
	file, size, err := c.load(ctx, id)
	if err != nil {
		return CheckpointInfo{}, err
	}
	entries := make([]string, 0, len(file.Entries))
	for name := range file.Entries {
		entries = append(entries, name)
	}
	sort.Strings(entries)
	return CheckpointInfo{
		ID:        id,
		RunID:     file.RunID,
		CreatedAt: time.Unix(0, file.CreatedAt).UTC(),
		Entries:   entries,
		Size:      size,
	}, nil
}
