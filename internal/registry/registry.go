// Package registry tracks agent liveness across the workspaces of a team.
// One JSON file per agent lives under <base>/<team>/agents/; each agent is
// the sole writer of its own record, so last-writer-wins is safe by
// convention. Readers discard malformed records silently.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/beads-village/village/internal/atomicfile"
	"github.com/beads-village/village/internal/isotime"
	"github.com/beads-village/village/internal/paths"
)

const (
	// OnlineWindow bounds how stale a heartbeat may be for an agent to
	// count as online.
	OnlineWindow = 5 * time.Minute

	// DefaultActiveWindow is the enumeration window for Active.
	DefaultActiveWindow = 30 * time.Minute
)

// Entry is one agent's registry record.
type Entry struct {
	Agent        string   `json:"agent"`
	WS           string   `json:"ws"`
	Team         string   `json:"team"`
	Capabilities []string `json:"capabilities"`
	Registered   string   `json:"registered"`
	LastSeen     string   `json:"last_seen"`
	CurrentTask  string   `json:"current_task,omitempty"`
}

// WorkspaceGroup is the discovery view: one workspace and the active agents
// inside it.
type WorkspaceGroup struct {
	Workspace string   `json:"workspace"`
	Agents    []string `json:"agents"`
	Count     int      `json:"count"`
}

// Register publishes the agent's record with registered = last_seen = now.
func Register(base, team, agent, ws string, capabilities []string) error {
	if capabilities == nil {
		capabilities = []string{}
	}
	now := isotime.Now()
	e := Entry{
		Agent:        agent,
		WS:           ws,
		Team:         team,
		Capabilities: capabilities,
		Registered:   now,
		LastSeen:     now,
	}
	return publish(base, team, e)
}

// Heartbeat refreshes the record's last_seen. A vanished record is a no-op;
// the agent re-registers on its next init.
func Heartbeat(base, team, agent string) error {
	e, ok := read(base, team, agent)
	if !ok {
		return nil
	}
	e.LastSeen = isotime.Now()
	return publish(base, team, e)
}

// UpdateTask refreshes last_seen and sets or clears the current task.
func UpdateTask(base, team, agent, task string) error {
	e, ok := read(base, team, agent)
	if !ok {
		return nil
	}
	e.LastSeen = isotime.Now()
	e.CurrentTask = task
	return publish(base, team, e)
}

// Active returns the team's records whose last_seen falls within window
// (DefaultActiveWindow when window <= 0), sorted by agent id.
func Active(base, team string, window time.Duration) []Entry {
	if window <= 0 {
		window = DefaultActiveWindow
	}
	now := time.Now()
	active := []Entry{}

	entries, err := os.ReadDir(paths.AgentsDir(base, team))
	if err != nil {
		return active
	}
	for _, de := range entries {
		if !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		e, ok := read(base, team, strings.TrimSuffix(de.Name(), ".json"))
		if !ok {
			continue
		}
		seen, err := isotime.Parse(e.LastSeen)
		if err != nil || now.Sub(seen) >= window {
			continue
		}
		active = append(active, e)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Agent < active[j].Agent })
	return active
}

// DiscoverWorkspaces groups the team's active agents by workspace.
func DiscoverWorkspaces(base, team string, window time.Duration) []WorkspaceGroup {
	byWS := map[string][]string{}
	for _, e := range Active(base, team, window) {
		byWS[e.WS] = append(byWS[e.WS], e.Agent)
	}

	groups := []WorkspaceGroup{}
	for ws, agents := range byWS {
		sort.Strings(agents)
		groups = append(groups, WorkspaceGroup{Workspace: ws, Agents: agents, Count: len(agents)})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Workspace < groups[j].Workspace })
	return groups
}

// Teams lists the team namespaces present under the hub base: directories
// carrying a mail/ or agents/ subdirectory.
func Teams(base string) []string {
	teams := []string{}
	entries, err := os.ReadDir(base)
	if err != nil {
		return teams
	}
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if dirExists(paths.AgentsDir(base, name)) || dirExists(paths.TeamMailDir(base, name)) {
			teams = append(teams, name)
		}
	}
	sort.Strings(teams)
	return teams
}

// Status derives the presentation state of a record: "working" when online
// with a task, "online" when the heartbeat is fresh, else "offline".
func Status(e Entry, now time.Time) string {
	seen, err := isotime.Parse(e.LastSeen)
	if err != nil || now.Sub(seen) >= OnlineWindow {
		return "offline"
	}
	if e.CurrentTask != "" {
		return "working"
	}
	return "online"
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func recordFile(base, team, agent string) string {
	return filepath.Join(paths.AgentsDir(base, team), agent+".json")
}

func read(base, team, agent string) (Entry, bool) {
	data, err := atomicfile.Read(recordFile(base, team, agent))
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false
	}
	if e.Agent == "" {
		return Entry{}, false
	}
	return e, true
}

func publish(base, team string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal registry entry: %w", err)
	}
	if err := atomicfile.Publish(paths.AgentsDir(base, team), e.Agent+".json", data); err != nil {
		return fmt.Errorf("publish registry entry: %w", err)
	}
	return nil
}
