package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/beads-village/village/internal/isotime"
	"github.com/beads-village/village/internal/paths"
)

func readEntry(t *testing.T, base, team, agent string) Entry {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(paths.AgentsDir(base, team), agent+".json"))
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	return e
}

func writeEntry(t *testing.T, base, team string, e Entry) {
	t.Helper()
	dir := paths.AgentsDir(base, team)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, e.Agent+".json"), data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// --- register / heartbeat tests ---

func TestRegister_WritesRecord(t *testing.T) {
	base := t.TempDir()

	if err := Register(base, "default", "alice", "/tmp/ws", []string{"go", "review"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	e := readEntry(t, base, "default", "alice")
	if e.Agent != "alice" || e.WS != "/tmp/ws" || e.Team != "default" {
		t.Fatalf("unexpected identity fields: %+v", e)
	}
	if !reflect.DeepEqual(e.Capabilities, []string{"go", "review"}) {
		t.Fatalf("capabilities = %v", e.Capabilities)
	}
	if e.Registered == "" || e.Registered != e.LastSeen {
		t.Fatalf("expected registered == last_seen, got %q / %q", e.Registered, e.LastSeen)
	}
	if _, err := isotime.Parse(e.LastSeen); err != nil {
		t.Fatalf("last_seen not parseable: %v", err)
	}
	if e.CurrentTask != "" {
		t.Fatalf("fresh record has task %q", e.CurrentTask)
	}
}

func TestRegister_NilCapabilitiesMarshalAsEmptyList(t *testing.T) {
	base := t.TempDir()

	if err := Register(base, "default", "alice", "/tmp/ws", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(paths.AgentsDir(base, "default"), "alice.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	caps, ok := raw["capabilities"].([]any)
	if !ok {
		t.Fatalf("capabilities not a list: %T", raw["capabilities"])
	}
	if len(caps) != 0 {
		t.Fatalf("capabilities = %v", caps)
	}
}

func TestHeartbeat_RefreshesLastSeenOnly(t *testing.T) {
	base := t.TempDir()
	old := isotime.Format(time.Now().Add(-10 * time.Minute))
	writeEntry(t, base, "default", Entry{
		Agent: "alice", WS: "/tmp/ws", Team: "default",
		Capabilities: []string{}, Registered: old, LastSeen: old,
		CurrentTask: "bv-12",
	})

	if err := Heartbeat(base, "default", "alice"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	e := readEntry(t, base, "default", "alice")
	if e.Registered != old {
		t.Fatalf("registered changed: %q", e.Registered)
	}
	if e.LastSeen == old {
		t.Fatal("last_seen not refreshed")
	}
	if e.CurrentTask != "bv-12" {
		t.Fatalf("task lost: %q", e.CurrentTask)
	}
}

func TestHeartbeat_MissingRecordIsNoOp(t *testing.T) {
	base := t.TempDir()
	if err := Heartbeat(base, "default", "ghost"); err != nil {
		t.Fatalf("Heartbeat on missing record: %v", err)
	}
	if _, err := os.Stat(filepath.Join(paths.AgentsDir(base, "default"), "ghost.json")); !os.IsNotExist(err) {
		t.Fatal("heartbeat must not create a record")
	}
}

func TestUpdateTask_SetAndClear(t *testing.T) {
	base := t.TempDir()
	if err := Register(base, "default", "alice", "/tmp/ws", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := UpdateTask(base, "default", "alice", "bv-7"); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if got := readEntry(t, base, "default", "alice").CurrentTask; got != "bv-7" {
		t.Fatalf("task = %q, want bv-7", got)
	}

	if err := UpdateTask(base, "default", "alice", ""); err != nil {
		t.Fatalf("UpdateTask clear: %v", err)
	}
	e := readEntry(t, base, "default", "alice")
	if e.CurrentTask != "" {
		t.Fatalf("task not cleared: %q", e.CurrentTask)
	}

	data, err := os.ReadFile(filepath.Join(paths.AgentsDir(base, "default"), "alice.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := raw["current_task"]; present {
		t.Fatal("cleared task should be omitted from the record")
	}
}

// --- enumeration tests ---

func TestActive_WindowAndSorting(t *testing.T) {
	base := t.TempDir()
	now := time.Now()
	writeEntry(t, base, "default", Entry{
		Agent: "carol", WS: "/w1", Team: "default", Capabilities: []string{},
		Registered: isotime.Format(now), LastSeen: isotime.Format(now),
	})
	writeEntry(t, base, "default", Entry{
		Agent: "alice", WS: "/w1", Team: "default", Capabilities: []string{},
		Registered: isotime.Format(now), LastSeen: isotime.Format(now.Add(-29 * time.Minute)),
	})
	writeEntry(t, base, "default", Entry{
		Agent: "bob", WS: "/w2", Team: "default", Capabilities: []string{},
		Registered: isotime.Format(now), LastSeen: isotime.Format(now.Add(-31 * time.Minute)),
	})

	got := Active(base, "default", 0)
	if len(got) != 2 {
		t.Fatalf("active = %d entries, want 2", len(got))
	}
	if got[0].Agent != "alice" || got[1].Agent != "carol" {
		t.Fatalf("order = %s, %s", got[0].Agent, got[1].Agent)
	}
}

func TestActive_SkipsMalformedRecords(t *testing.T) {
	base := t.TempDir()
	dir := paths.AgentsDir(base, "default")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	now := isotime.Now()
	writeEntry(t, base, "default", Entry{
		Agent: "alice", WS: "/w1", Team: "default", Capabilities: []string{},
		Registered: now, LastSeen: now,
	})

	got := Active(base, "default", 0)
	if len(got) != 1 || got[0].Agent != "alice" {
		t.Fatalf("active = %+v, want only alice", got)
	}
}

func TestActive_MissingDirEmpty(t *testing.T) {
	if got := Active(t.TempDir(), "default", 0); len(got) != 0 {
		t.Fatalf("active = %+v, want empty", got)
	}
}

func TestDiscoverWorkspaces_GroupsByWorkspace(t *testing.T) {
	base := t.TempDir()
	now := isotime.Now()
	for _, pair := range [][2]string{{"alice", "/w1"}, {"bob", "/w2"}, {"carol", "/w1"}} {
		writeEntry(t, base, "default", Entry{
			Agent: pair[0], WS: pair[1], Team: "default", Capabilities: []string{},
			Registered: now, LastSeen: now,
		})
	}

	groups := DiscoverWorkspaces(base, "default", 0)
	if len(groups) != 2 {
		t.Fatalf("groups = %+v, want 2", groups)
	}
	if groups[0].Workspace != "/w1" || groups[0].Count != 2 {
		t.Fatalf("first group = %+v", groups[0])
	}
	if !reflect.DeepEqual(groups[0].Agents, []string{"alice", "carol"}) {
		t.Fatalf("w1 agents = %v", groups[0].Agents)
	}
	if groups[1].Workspace != "/w2" || groups[1].Count != 1 {
		t.Fatalf("second group = %+v", groups[1])
	}
}

func TestTeams_ListsTeamDirs(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "beta", "agents"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(base, "alpha", "mail"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(base, "scratch"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(base, ".hidden", "mail"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "stray.json"), []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := Teams(base); !reflect.DeepEqual(got, []string{"alpha", "beta"}) {
		t.Fatalf("teams = %v", got)
	}
}

func TestTeams_MissingBaseEmpty(t *testing.T) {
	if got := Teams(filepath.Join(t.TempDir(), "nope")); len(got) != 0 {
		t.Fatalf("teams = %v, want empty", got)
	}
}

// --- status derivation tests ---

func TestStatus_Derivation(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		e    Entry
		want string
	}{
		{"fresh idle", Entry{LastSeen: isotime.Format(now.Add(-1 * time.Minute))}, "online"},
		{"fresh with task", Entry{LastSeen: isotime.Format(now.Add(-1 * time.Minute)), CurrentTask: "bv-3"}, "working"},
		{"stale", Entry{LastSeen: isotime.Format(now.Add(-6 * time.Minute))}, "offline"},
		{"stale with task", Entry{LastSeen: isotime.Format(now.Add(-6 * time.Minute)), CurrentTask: "bv-3"}, "offline"},
		{"unparseable", Entry{LastSeen: "never"}, "offline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Status(tt.e, now); got != tt.want {
				t.Fatalf("Status = %q, want %q", got, tt.want)
			}
		})
	}
}
