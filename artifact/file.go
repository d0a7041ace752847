package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore keeps artifacts as files under <root>/<runID>/<subdir>/.
// Writes go to a temporary file renamed into place, so readers never see a
// partially written checkpoint.
type FileStore struct {
	root   string
	subdir string
}

// NewFileStore returns a store rooted at root. subdir separates artifact
// families within a run directory (for example "variable_source").
func NewFileStore(root, subdir string) *FileStore {
	return &FileStore{root: root, subdir: subdir}
}

// Root returns the store root directory.
func (f *FileStore) Root() string { return f.root }

func (f *FileStore) dir(runID string) (string, error) {
	if err := validateID("run", runID); err != nil {
		return "", err
	}
	return filepath.Join(f.root, runID, f.subdir), nil
}

func (f *FileStore) path(runID, artifactID string) (string, error) {
	dir, err := f.dir(runID)
	if err != nil {
		return "", err
	}
	if err := validateID("artifact", artifactID); err != nil {
		return "", err
	}
	return filepath.Join(dir, artifactID), nil
}

// Save writes the artifact atomically.
func (f *FileStore) Save(_ context.Context, runID, artifactID string, data []byte) error {
	path, err := f.path(runID, artifactID)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+artifactID+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// Get reads the artifact or returns ErrNotFound.
func (f *FileStore) Get(_ context.Context, runID, artifactID string) ([]byte, error) {
	path, err := f.path(runID, artifactID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// List returns the sorted artifact ids of the run, ignoring temporary files.
func (f *FileStore) List(_ context.Context, runID string) ([]string, error) {
	dir, err := f.dir(runID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the artifact or returns ErrNotFound.
func (f *FileStore) Delete(_ context.Context, runID, artifactID string) error {
	path, err := f.path(runID, artifactID)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
