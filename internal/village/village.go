// Package village implements the tool surface of the coordination server:
// the catalog advertised on tools/list and the dispatcher behind tools/call.
// Handlers return plain JSON-ready values; the dispatcher wraps them into
// MCP results, so transports never look inside a tool.
package village

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"

	"github.com/beads-village/village/internal/audit"
	"github.com/beads-village/village/internal/beads"
	"github.com/beads-village/village/internal/bv"
	"github.com/beads-village/village/internal/config"
	"github.com/beads-village/village/internal/isotime"
	"github.com/beads-village/village/internal/session"
)

// protocolVersion is the MCP revision this server speaks.
const protocolVersion = "2024-11-05"

// ServerName identifies the server in the initialize handshake and /health.
const ServerName = "beads-village"

type handlerFunc func(context.Context, map[string]any) any

type toolEntry struct {
	def *gomcp.Tool
	fn  handlerFunc
}

// Server owns one agent session and dispatches tool calls against it. A
// single Server may serve many connections; session state is shared across
// all of them on purpose, because one process is one agent.
type Server struct {
	cfg     *config.Config
	sess    *session.State
	version string

	mu        sync.RWMutex
	store     *beads.Driver
	analytics *bv.Runner
	trail     *audit.Trail

	entries []toolEntry
	byName  map[string]toolEntry
	names   []string
}

// New wires a server from resolved configuration. The audit trail is
// best-effort: failure to open it logs a warning and disables recording.
func New(cfg *config.Config, version string) *Server {
	s := &Server{
		cfg:       cfg,
		sess:      session.New(cfg.Agent, cfg.WS, cfg.Team),
		version:   version,
		store:     beads.New(cfg.WS, cfg.Agent, cfg.UseDaemon),
		analytics: bv.New(cfg.WS),
		byName:    map[string]toolEntry{},
	}
	trail, err := audit.Open(cfg.Base, cfg.Team)
	if err != nil {
		log.WithField("err", err).Warn("audit trail disabled")
	} else {
		s.trail = trail
	}
	for _, e := range s.catalog() {
		s.entries = append(s.entries, e)
		s.byName[e.def.Name] = e
		s.names = append(s.names, e.def.Name)
	}
	return s
}

// Agent returns the session's agent identity.
func (s *Server) Agent() string { return s.sess.Agent() }

// Workspace returns the current workspace root. Changes when init is called
// with a ws argument.
func (s *Server) Workspace() string { return s.sess.Workspace() }

// Team returns the current team name.
func (s *Server) Team() string { return s.sess.Team() }

// Version returns the build version advertised in the handshake.
func (s *Server) Version() string { return s.version }

// rebind points the issue store and graph analytics at a new workspace.
// Called when init switches workspaces mid-session.
func (s *Server) rebind(ws string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = beads.New(ws, s.sess.Agent(), s.cfg.UseDaemon)
	s.analytics = bv.New(ws)
}

// retarget moves the audit trail when the session joins another team.
func (s *Server) retarget(team string) {
	trail, err := audit.Open(s.cfg.Base, team)
	if err != nil {
		log.WithField("err", err).Warn("audit trail disabled")
		trail = nil
	}
	s.mu.Lock()
	s.trail = trail
	s.mu.Unlock()
}

func (s *Server) driver() *beads.Driver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

func (s *Server) graph() *bv.Runner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analytics
}

// Initialize answers the MCP handshake.
func (s *Server) Initialize() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": ServerName, "version": s.version},
		"instructions":    instructions,
	}
}

// Tools returns the advertised catalog in registration order.
func (s *Server) Tools() []*gomcp.Tool {
	out := make([]*gomcp.Tool, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.def
	}
	return out
}

// UnknownTool renders the error message for a name outside the catalog.
func (s *Server) UnknownTool(name string) string {
	return fmt.Sprintf("Unknown tool: %s. Available tools: %s", name, strings.Join(s.names, ", "))
}

// Call dispatches one tool invocation. The boolean is false when the name
// is not in the catalog, in which case the transport answers with a
// protocol-level error. Handler panics become isError results so a broken
// tool never kills the connection.
func (s *Server) Call(ctx context.Context, name string, args map[string]any) (*gomcp.CallToolResult, bool) {
	e, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	args = coerce(args)

	start := time.Now()
	var out any
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				out = map[string]any{
					"error": fmt.Sprint(r),
					"hint":  fmt.Sprintf("Tool '%s' failed. Try 'doctor' to check workspace health.", name),
				}
			}
		}()
		out = e.fn(ctx, args)
	}()
	elapsed := time.Since(start)

	succeeded := !panicked && !isFailure(out)
	log.WithFields(log.Fields{
		"tool":  name,
		"agent": s.sess.Agent(),
		"ms":    elapsed.Milliseconds(),
		"ok":    succeeded,
	}).Debug("tool call")
	s.record(name, succeeded, elapsed)

	return wrap(out, panicked), true
}

func (s *Server) record(tool string, ok bool, elapsed time.Duration) {
	s.mu.RLock()
	trail := s.trail
	s.mu.RUnlock()
	if trail == nil {
		return
	}
	e := audit.Entry{
		TS:    isotime.Now(),
		Tool:  tool,
		Agent: s.sess.Agent(),
		WS:    s.sess.Workspace(),
		OK:    ok,
		MS:    elapsed.Milliseconds(),
	}
	if err := trail.Record(e); err != nil {
		log.WithField("err", err).Debug("audit write failed")
	}
}

// isFailure reports whether a handler result is an error payload.
func isFailure(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, has := m["error"]
	return has
}

// wrap renders a handler result as MCP text content.
func wrap(v any, isErr bool) *gomcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
		isErr = true
	}
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: string(data)}},
		IsError: isErr,
	}
}
