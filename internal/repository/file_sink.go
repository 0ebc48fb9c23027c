package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cart-recovery-agent/internal/domain"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600
)

// FileSink stores the snapshot as a JSON document on local disk.
type FileSink struct {
	path string
}

func NewFileSink(path string) (*FileSink, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: snapshot path must not be empty")
	}
	return &FileSink{path: filepath.Clean(path)}, nil
}

func (f *FileSink) Path() string {
	return f.path
}

func (f *FileSink) LoadSnapshot(_ context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	found, err := readJSON(f.path, &snap)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if !found {
		return domain.Snapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

func (f *FileSink) SaveSnapshot(_ context.Context, snap domain.Snapshot) error {
	return writeJSONAtomic(f.path, snap)
}

// readJSON decodes path into out. It reports false without error when the
// file does not exist or is blank.
func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("repository: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ErrSnapshotCorrupt, path, err)
	}
	return true, nil
}

// writeJSONAtomic replaces path with the JSON encoding of v via a synced
// temp file and rename, so readers never observe a partial document.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("repository: encode %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return fmt.Errorf("repository: ensure dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("repository: create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("repository: write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("repository: sync temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		return fmt.Errorf("repository: chmod temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("repository: close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("repository: rename temp for %s: %w", path, err)
	}
	return nil
}
