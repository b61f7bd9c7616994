// Package reserve implements advisory exclusive locks over workspace paths.
// Each reservation is one JSON file under <ws>/.reservations/ named by the
// short hash of the normalized path. Correctness rides entirely on
// rename-atomic publication plus a verify-after-publish read; no kernel
// locks are taken, so the engine degrades safely on filesystems without
// robust advisory locking.
package reserve

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/beads-village/village/internal/atomicfile"
	"github.com/beads-village/village/internal/isotime"
	"github.com/beads-village/village/internal/paths"
)

// DefaultTTL applies when the caller does not give a lifetime.
const DefaultTTL = 600 * time.Second

// Record is one reservation file: the advisory lock on a single path.
type Record struct {
	Path    string `json:"path"`
	Agent   string `json:"agent"`
	Reason  string `json:"reason"`
	Created string `json:"created"`
	Expires string `json:"expires"`
}

// Conflict names the foreign holder blocking a path.
type Conflict struct {
	Path    string `json:"path"`
	Holder  string `json:"holder"`
	Reason  string `json:"reason"`
	Expires string `json:"expires"`
}

// PathError reports one path's failure inside a batch.
type PathError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result is the outcome of one Reserve batch. Paths succeed and fail
// independently; Expires is set only when something was granted.
type Result struct {
	Granted   []string    `json:"granted"`
	Conflicts []Conflict  `json:"conflicts"`
	Errors    []PathError `json:"errors,omitempty"`
	Expires   string      `json:"expires,omitempty"`
}

// Reserve attempts to acquire every input path for agent. A foreign live
// record is a conflict; the caller's own record is silently refreshed. After
// publishing, each slot is re-read: if another writer won the rename race
// the grant is demoted to a conflict, so the first committer wins. A
// filesystem failure on one path never aborts the batch.
func Reserve(ws, agent string, inputs []string, ttl time.Duration, reason string) Result {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	Sweep(ws)

	dir := paths.ReservationsDir(ws)
	now := time.Now()
	expires := now.Add(ttl)

	res := Result{Granted: []string{}, Conflicts: []Conflict{}}
	for _, input := range inputs {
		norm, err := paths.Normalize(ws, input)
		if err != nil {
			res.Errors = append(res.Errors, PathError{Path: input, Error: err.Error()})
			continue
		}

		name := paths.ShortHash(norm) + ".json"
		if existing, ok := readRecord(filepath.Join(dir, name)); ok && live(existing, now) && existing.Agent != agent {
			res.Conflicts = append(res.Conflicts, conflictOf(existing))
			continue
		}

		rec := Record{
			Path:    norm,
			Agent:   agent,
			Reason:  reason,
			Created: isotime.Format(now),
			Expires: isotime.Format(expires),
		}
		data, err := json.Marshal(rec)
		if err == nil {
			err = atomicfile.Publish(dir, name, data)
		}
		if err != nil {
			res.Errors = append(res.Errors, PathError{Path: norm, Error: "failed to reserve"})
			continue
		}

		// Two writers can both observe an empty slot and both rename; the
		// re-read decides who actually holds the path.
		winner, ok := readRecord(filepath.Join(dir, name))
		if !ok {
			res.Errors = append(res.Errors, PathError{Path: norm, Error: "failed to reserve"})
			continue
		}
		if winner.Agent != agent {
			res.Conflicts = append(res.Conflicts, conflictOf(winner))
			continue
		}
		res.Granted = append(res.Granted, norm)
	}

	if len(res.Granted) > 0 {
		res.Expires = isotime.Format(expires)
	}
	return res
}

// Release removes the records the agent holds for the given paths and
// returns the normalized paths actually released. Foreign records are left
// alone; absent or malformed records are tolerated.
func Release(ws, agent string, inputs []string) []string {
	dir := paths.ReservationsDir(ws)
	released := []string{}

	for _, input := range inputs {
		norm, err := paths.Normalize(ws, input)
		if err != nil {
			// Still try the raw form so stale session entries can be freed.
			norm = input
		}

		file := filepath.Join(dir, paths.ShortHash(norm)+".json")
		rec, ok := readRecord(file)
		if !ok || rec.Agent != agent {
			continue
		}
		if err := os.Remove(file); err == nil {
			released = append(released, norm)
		}
	}
	return released
}

// List sweeps expired records and returns every live reservation.
func List(ws string) []Record {
	Sweep(ws)

	dir := paths.ReservationsDir(ws)
	now := time.Now()
	active := []Record{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return active
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		if rec, ok := readRecord(filepath.Join(dir, e.Name())); ok && live(rec, now) {
			active = append(active, rec)
		}
	}
	return active
}

// Sweep removes records dead at expires <= now and returns how many were
// cleaned. Runs before every enumerating or conflict-checking operation.
func Sweep(ws string) int {
	dir := paths.ReservationsDir(ws)
	now := time.Now()
	cleaned := 0

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		file := filepath.Join(dir, e.Name())
		rec, ok := readRecord(file)
		if !ok || live(rec, now) {
			continue
		}
		if err := os.Remove(file); err == nil {
			cleaned++
		}
	}
	return cleaned
}

func live(rec Record, now time.Time) bool {
	exp, err := isotime.Parse(rec.Expires)
	if err != nil {
		return false
	}
	return exp.After(now)
}

func conflictOf(rec Record) Conflict {
	return Conflict{Path: rec.Path, Holder: rec.Agent, Reason: rec.Reason, Expires: rec.Expires}
}

// readRecord parses one reservation file. Malformed or vanished files read
// as absent: readers never fail on another writer's partial state.
func readRecord(file string) (Record, bool) {
	data, err := atomicfile.Read(file)
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	if rec.Path == "" || rec.Agent == "" || rec.Expires == "" {
		return Record{}, false
	}
	return rec, true
}
