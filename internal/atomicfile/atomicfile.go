// Package atomicfile publishes files with write-then-rename semantics.
// Every durable artifact of the coordination layer (reservations, mail,
// registry records) goes through Publish so that concurrent readers see
// either the prior contents or the new complete contents, never a torn
// write.
package atomicfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound reports a missing file distinctly from other I/O failures.
var ErrNotFound = errors.New("file not found")

// Publish writes data to dir/name by staging a uniquely named temporary
// sibling and renaming it over the final name. The dotted temp prefix keeps
// partial files invisible to directory scans that skip dotfiles. The temp
// file is removed on every failure path; a crash before the rename leaves
// no visible artifact.
func Publish(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		_ = tmpFile.Close()
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("writing to temp file: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err = os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("publishing file: %w", err)
	}
	return nil
}

// Read returns the file contents. A missing file reports ErrNotFound so
// callers can branch on absence without string matching.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304 - paths come from internal layout helpers
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}
