package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/marlmesh/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.ArtifactStore = (*InMemoryStore)(nil)
	_ core.ArtifactStore = (*FileStore)(nil)
	_ core.ArtifactStore = (*SQLiteStore)(nil)
)

func stores(t *testing.T) map[string]core.ArtifactStore {
	t.Helper()
	dir := t.TempDir()

	sqlite := NewSQLiteStore(filepath.Join(dir, "artifacts.db"))
	require.NoError(t, sqlite.Init(context.Background()))
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]core.ArtifactStore{
		"memory": NewInMemoryStore(),
		"file":   NewFileStore(filepath.Join(dir, "runs"), "variable_source"),
		"sqlite": sqlite,
	}
}

func TestStore_SaveGetIsolation(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("hello")
			require.NoError(t, store.Save(ctx, "run1", "a1", data))

			data[0] = 'H'
			out, err := store.Get(ctx, "run1", "a1")
			require.NoError(t, err)
			assert.Equal(t, "hello", string(out))

			out[0] = 'x'
			out2, err := store.Get(ctx, "run1", "a1")
			require.NoError(t, err)
			assert.Equal(t, "hello", string(out2))
		})
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "run1", "b", []byte("2")))
			require.NoError(t, store.Save(ctx, "run1", "a", []byte("1")))
			require.NoError(t, store.Save(ctx, "run2", "c", []byte("3")))

			ids, err := store.List(ctx, "run1")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids)

			require.NoError(t, store.Delete(ctx, "run1", "a"))
			_, err = store.Get(ctx, "run1", "a")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Delete(ctx, "run1", "a"), ErrNotFound)

			ids, err = store.List(ctx, "run1")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, ids)

			ids, err = store.List(ctx, "unknown")
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestStore_Overwrite(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, "run1", "a", []byte("old")))
			require.NoError(t, store.Save(ctx, "run1", "a", []byte("new")))

			out, err := store.Get(ctx, "run1", "a")
			require.NoError(t, err)
			assert.Equal(t, "new", string(out))
		})
	}
}

func TestStore_RejectsPathLikeIDs(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			assert.ErrorIs(t, store.Save(ctx, "../escape", "a", nil), ErrInvalidID)
			assert.ErrorIs(t, store.Save(ctx, "run", "a/b", nil), ErrInvalidID)
		})
	}
}

func TestInMemoryStore_Concurrency(t *testing.T) {
	svc := NewInMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Save(ctx, "run1", fmt.Sprintf("a%d", i%10), []byte("data")); err != nil {
				t.Errorf("save err: %v", err)
			}
			_, _ = svc.List(ctx, "run1")
		}()
	}
	wg.Wait()

	ids, err := svc.List(ctx, "run1")
	require.NoError(t, err)
	assert.Len(t, ids, 10)
}

func TestFileStoreLayout(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root, "variable_source")
	require.NoError(t, store.Save(context.Background(), "run-7", "ckpt", []byte("x")))

	assert.FileExists(t, filepath.Join(root, "run-7", "variable_source", "ckpt"))
}
