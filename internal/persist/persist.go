// Package persist implements the durable local state used by the grading
// engine: whole-file JSON documents written atomically under an advisory
// file lock, with corrupt documents moved aside instead of loaded.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrCorrupt wraps a decode failure of a persisted document.
var ErrCorrupt = errors.New("persisted file is corrupt")

// LockTimeout bounds how long a writer waits for another writer of the
// same file.
var LockTimeout = 5 * time.Second

// ReadJSON decodes the document at path into v. It reports found=false
// with a nil error when the file does not exist. Decode failures are
// returned wrapped with ErrCorrupt.
func ReadJSON(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return true, fmt.Errorf("%w: %s is empty", ErrCorrupt, path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return true, nil
}

// WriteJSON replaces the document at path with the JSON encoding of v.
// The new content is written to a temp file in the same directory, synced
// and renamed over the target, so readers see either the old or the new
// document, never a partial one.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFile(path, data)
}

// WriteFile atomically replaces path with data under the file's lock.
func WriteFile(path string, data []byte) error {
	if err := EnsureDir(path); err != nil {
		return err
	}

	unlock, err := lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Remove deletes the file at path. A missing file is not an error.
func Remove(path string) error {
	unlock, err := lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Quarantine moves a corrupt file aside to <path>.corrupt-<unix> and
// returns the new location.
func Quarantine(path string) (string, error) {
	dest := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", path, err)
	}
	return dest, nil
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func lock(path string) (func(), error) {
	if err := EnsureDir(path); err != nil {
		return nil, err
	}
	l := flock.New(path + ".lock")
	deadline := time.Now().Add(LockTimeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire lock for %s: %w", filepath.Base(path), err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("another writer holds %s.lock", path)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
