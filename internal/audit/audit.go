// Package audit appends one JSONL line per dispatched tool call to the
// team's activity trail. The trail is shared by every agent process on the
// team, so appends are flock-guarded and staged through a synced temp file.
// Recording is best-effort by contract: callers log failures and move on.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// Entry is one dispatched tool call.
type Entry struct {
	TS    string `json:"ts"`
	Tool  string `json:"tool"`
	Agent string `json:"agent"`
	WS    string `json:"ws"`
	OK    bool   `json:"ok"`
	MS    int64  `json:"ms"`
}

// Trail appends entries to one team's activity.jsonl.
type Trail struct {
	path string
	mu   sync.Mutex
}

// Open returns the trail for a team, creating the file and its parents.
func Open(base, team string) (*Trail, error) {
	path := filepath.Join(base, team, "activity.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create trail directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("create trail: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close trail: %w", err)
	}
	return &Trail{path: path}, nil
}

// Path returns the trail's file path.
func (t *Trail) Path() string {
	return t.path
}

// Record appends one entry. The line is staged and synced in a private temp
// file first, then copied onto the trail under an exclusive flock, so
// concurrent writers from other processes never interleave bytes.
func (t *Trail) Record(e Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	line = append(line, '\n')

	staged, err := t.stage(line)
	if err != nil {
		return err
	}
	defer os.Remove(staged) //nolint:errcheck // best-effort cleanup

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open trail: %w", err)
	}
	defer f.Close() //nolint:errcheck // sync already happened

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock trail: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck // released on close anyway

	data, err := os.ReadFile(staged)
	if err != nil {
		return fmt.Errorf("read staged entry: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync trail: %w", err)
	}
	return nil
}

// stage writes the line to a synced temp file next to the trail.
func (t *Trail) stage(line []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".stage-*")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	if _, err := tmp.Write(line); err != nil {
		tmp.Close()           //nolint:errcheck // write already failed
		os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		return "", fmt.Errorf("write staging file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()           //nolint:errcheck // sync already failed
		os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		return "", fmt.Errorf("sync staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		return "", fmt.Errorf("close staging file: %w", err)
	}
	return tmp.Name(), nil
}
