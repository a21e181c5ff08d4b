// Package atomicio provides the durable file primitives the trading state
// stores are built on: temp-then-rename whole-file writes and fsync'd
// line appends. A crash mid-write must never leave a half-written file
// visible under its final name.
package atomicio

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFile writes data to filename atomically. The payload is written to a
// sibling temp file, flushed to stable storage, and renamed over the target.
func WriteFile(filename string, data []byte, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", filename, err)
	}
	tmp := filename + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("open temp %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filename, err)
	}
	return nil
}

// WriteJSON marshals v and writes it atomically to filename.
func WriteJSON(filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filename, err)
	}
	return WriteFile(filename, append(data, '\n'), 0o644)
}

// AppendLine appends one line to filename, creating parent directories as
// needed, and forces the write to stable storage before returning. Consumers
// of these files tolerate a trailing partial line from a crash.
func AppendLine(filename string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", filename, err)
	}
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open append %s: %w", filename, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", filename, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", filename, err)
	}
	return nil
}

// QuarantineCorrupt renames a file that failed to parse to a timestamped
// backup name so a fresh state can be started without losing evidence.
// The returned path is the backup location.
func QuarantineCorrupt(filename string, unixTS int64) (string, error) {
	backup := fmt.Sprintf("%s.corrupt.%d", filename, unixTS)
	if err := os.Rename(filename, backup); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", filename, err)
	}
	return backup, nil
}
