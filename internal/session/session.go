// Package session holds the process-local state of one agent: identity,
// workspace, team, the task in flight, and the reservation paths it believes
// it holds. Nothing here is persisted; durable truth lives on the
// filesystem. Tool handlers are the only mutators, and the HTTP transport
// dispatches them concurrently, so all access goes through the lock.
package session

import (
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is one agent's in-process session.
type State struct {
	mu sync.Mutex

	agent  string
	ws     string
	team   string
	role   string
	leader bool
	task   string
	start  time.Time
	done   int
	held   map[string]struct{}
}

// New returns session state for an agent rooted at ws in the given team.
func New(agent, ws, team string) *State {
	return &State{
		agent: agent,
		ws:    ws,
		team:  team,
		start: time.Now(),
		held:  make(map[string]struct{}),
	}
}

// Agent returns the agent identifier. Fixed for the process lifetime.
func (s *State) Agent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// Workspace returns the current workspace root.
func (s *State) Workspace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws
}

// SetWorkspace switches the workspace root. Re-init may move an agent
// between codebases mid-process.
func (s *State) SetWorkspace(ws string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws = ws
}

// Team returns the current team.
func (s *State) Team() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.team
}

// SetTeam switches the team namespace.
func (s *State) SetTeam(team string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.team = team
}

// Role returns the agent's role tag, empty when unbound.
func (s *State) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// SetRole records the role tag declared at init.
func (s *State) SetRole(role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

// Leader reports whether this session may assign work to roles.
func (s *State) Leader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leader
}

// SetLeader records the leader flag declared at init.
func (s *State) SetLeader(leader bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = leader
}

// Task returns the currently claimed issue id, empty when idle.
func (s *State) Task() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task
}

// SetTask records the claimed issue id.
func (s *State) SetTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task = id
}

// FinishTask clears the current task, bumps the completion counter, and
// returns the new count.
func (s *State) FinishTask() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task = ""
	s.done++
	return s.done
}

// Done returns how many tasks this session has completed.
func (s *State) Done() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Uptime returns how long the session has been running.
func (s *State) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.start)
}

// Track adds normalized paths to the held-reservation set. Callers do this
// only after the reservation files are published.
func (s *State) Track(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		s.held[p] = struct{}{}
	}
}

// Untrack drops paths from the held set. Unknown paths are tolerated: the
// caller may release with either the raw or the normalized form.
func (s *State) Untrack(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		delete(s.held, p)
	}
}

// ClearHeld empties the held set and returns what it contained.
func (s *State) ClearHeld() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.held))
	for p := range s.held {
		out = append(out, p)
	}
	s.held = make(map[string]struct{})
	sort.Strings(out)
	return out
}

// Held returns a sorted copy of the held-reservation paths.
func (s *State) Held() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.held))
	for p := range s.held {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// HeldCount returns the size of the held set.
func (s *State) HeldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewConnectionID returns a ULID used to correlate one transport connection
// in logs. Format: "con_" + ulid().
func NewConnectionID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return "con_" + ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}
