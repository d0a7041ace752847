package artifact

import (
	"context"
	"fmt"

	"github.com/hupe1980/marlmesh/core"
)

// Store kinds accepted by Open.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// VariablesSubdir is the per-run directory the file store keeps variable
// checkpoints in.
const VariablesSubdir = "variable_source"

// Open returns a ready store of kind. path is the root directory of a file
// store or the database file of a SQLite store; the memory store ignores
// it. Stores holding resources implement io.Closer.
func Open(ctx context.Context, kind, path string) (core.ArtifactStore, error) {
	switch kind {
	case KindMemory:
		return NewInMemoryStore(), nil
	case KindFile:
		if path == "" {
			return nil, fmt.Errorf("file store requires a path")
		}
		return NewFileStore(path, VariablesSubdir), nil
	case KindSQLite:
		s := NewSQLiteStore(path)
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown artifact store %q", kind)
	}
}
