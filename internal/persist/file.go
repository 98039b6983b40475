package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
	"github.com/ln64-git/dynamic-server-app-template/internal/state"
)

// FileStore keeps the snapshot as a JSON object in a single file.
type FileStore struct {
	path string
	perm fs.FileMode
	log  *zap.Logger

	mu      sync.Mutex
	keys    int
	commits int
}

// NewFileStore returns a store backed by path. The file is created on the
// first commit.
func NewFileStore(path string, log *zap.Logger) *FileStore {
	return &FileStore{path: path, perm: 0o644, log: logger.Or(log, "persist")}
}

// Path returns the backing file.
func (f *FileStore) Path() string { return f.path }

// Load reads the file. A missing or empty file is an empty patch.
func (f *FileStore) Load() (state.Patch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return state.Patch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return state.Patch{}, nil
	}

	var p state.Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if p == nil {
		p = state.Patch{}
	}
	f.keys = len(p)
	f.log.Debug("snapshot loaded", logger.Keys(p.Keys()))
	return p, nil
}

// Commit writes snap atomically.
func (f *FileStore) Commit(snap state.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := atomicWriteFile(f.path, append(raw, '\n'), f.perm); err != nil {
		return err
	}
	f.keys = len(snap)
	f.commits++
	f.log.Debug("snapshot committed", zap.String("path", f.path))
	return nil
}

// Stats returns storage statistics
func (f *FileStore) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{Keys: f.keys, Commits: f.commits}
}

// atomicWriteFile writes data to a temp file in the target directory, syncs
// it and renames it over path.
func atomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	_ = os.Chmod(tmpPath, perm)

	// Rename over a locked destination fails on Windows; retry after removing it.
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename: %v (after remove: %v)", err, err2)
		}
	}
	return nil
}
