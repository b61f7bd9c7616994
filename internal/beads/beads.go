// Package beads drives the external issue-store. Two paths exist: a
// long-lived daemon reached over a Unix socket (fast, not always present)
// and the bd CLI run as a short-lived child process. Selection happens per
// call: the daemon is tried when its socket is discoverable, and any daemon
// failure falls back to the CLI for that call only.
//
// Results are JSON values, not Go errors: failures surface as
// {"error": <message>} maps so tool handlers can decorate them with hints
// and return them to the model intact.
package beads

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beads-village/village/internal/paths"
)

// DefaultTimeout bounds every issue-store call, daemon or CLI.
const DefaultTimeout = 30 * time.Second

// probeTTL is how long one socket probe result is trusted before the
// filesystem is consulted again.
const probeTTL = 20 * time.Second

// ErrDaemonUnavailable marks daemon-path failures. Callers fall back to the
// CLI for the current call; the daemon is retried on the next one.
var ErrDaemonUnavailable = errors.New("issue-store daemon unavailable")

// jsonCapable lists the CLI operations that accept --json.
var jsonCapable = map[string]bool{
	"list":    true,
	"ready":   true,
	"show":    true,
	"stats":   true,
	"doctor":  true,
	"cleanup": true,
	"create":  true,
}

// Driver runs issue-store operations for one workspace.
type Driver struct {
	// WS is the workspace whose issue database is addressed. The CLI runs
	// with it as working directory; the daemon receives it verbatim.
	WS string
	// Actor tags daemon requests for the issue-store's audit trail.
	Actor string
	// UseDaemon gates the RPC path entirely.
	UseDaemon bool
	// Timeout bounds each call. DefaultTimeout when zero.
	Timeout time.Duration
	// Binary overrides the CLI command name. Defaults to "bd".
	Binary string
	// SocketPath pins the daemon endpoint instead of probing for one.
	SocketPath string

	mu       sync.Mutex
	probedAt time.Time
	probeOK  bool
}

// New returns a driver for the given workspace.
func New(ws, actor string, useDaemon bool) *Driver {
	return &Driver{WS: ws, Actor: actor, UseDaemon: useDaemon}
}

// Run executes one issue-store command given in CLI argument form, e.g.
// Run(ctx, "show", "bv-12"). The daemon is preferred when enabled and
// reachable; init and unmapped commands always use the CLI.
func (d *Driver) Run(ctx context.Context, args ...string) any {
	if d.daemonReady() {
		if res, err := d.viaDaemon(ctx, args); err == nil {
			return res
		}
	}
	return d.viaCLI(ctx, args)
}

// Err reports the error message carried by a driver result, if any.
func Err(result any) (string, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	v, present := m["error"]
	if !present {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

func (d *Driver) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

func (d *Driver) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "bd"
}

// daemonReady reports whether the RPC path should be attempted. Probe
// results are cached briefly so repeated calls do not re-stat the socket.
func (d *Driver) daemonReady() bool {
	if !d.UseDaemon {
		return false
	}
	if d.SocketPath != "" {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if time.Since(d.probedAt) < probeTTL {
		return d.probeOK
	}
	_, ok := paths.FindBeadsSocket(d.WS)
	d.probedAt = time.Now()
	d.probeOK = ok
	return ok
}

func (d *Driver) socket() (string, bool) {
	if d.SocketPath != "" {
		return d.SocketPath, true
	}
	return paths.FindBeadsSocket(d.WS)
}

// --- daemon path ---

type rpcRequest struct {
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args"`
	Cwd       string         `json:"cwd"`
	Actor     string         `json:"actor,omitempty"`
}

type rpcResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// viaDaemon maps CLI-style arguments onto daemon RPC operations. Commands
// the daemon does not implement return ErrDaemonUnavailable so the caller
// falls back to the CLI.
func (d *Driver) viaDaemon(ctx context.Context, args []string) (any, error) {
	if len(args) == 0 {
		return map[string]any{"error": "no command specified"}, nil
	}

	switch cmd := args[0]; cmd {
	case "init":
		// Database creation stays on the CLI so daemon and child agree on
		// on-disk layout.
		return nil, fmt.Errorf("%w: init must use the CLI", ErrDaemonUnavailable)

	case "ready":
		res, err := d.call(ctx, "ready", map[string]any{"limit": intFlag(args, 5, "--limit")})
		if err != nil {
			return nil, err
		}
		return asList(res), nil

	case "list":
		rpcArgs := map[string]any{}
		if limit := intFlag(args, 10, "--limit"); limit != 0 {
			rpcArgs["limit"] = limit
		}
		if status, ok := flagValue(args, "--status"); ok && status != "" {
			rpcArgs["status"] = status
		}
		res, err := d.call(ctx, "list", rpcArgs)
		if err != nil {
			return nil, err
		}
		return asList(res), nil

	case "show":
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: show needs an id", ErrDaemonUnavailable)
		}
		return d.call(ctx, "show", map[string]any{"id": args[1]})

	case "create":
		return d.call(ctx, "create", createArgs(args))

	case "update":
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: update needs an id", ErrDaemonUnavailable)
		}
		rpcArgs := map[string]any{"id": args[1]}
		if status, ok := flagValue(args, "--status"); ok && status != "" {
			rpcArgs["status"] = status
		}
		if s, ok := flagValue(args, "-p", "--priority"); ok {
			if n, err := strconv.Atoi(s); err == nil {
				rpcArgs["priority"] = n
			}
		}
		if tags, ok := flagValue(args, "--tags"); ok && tags != "" {
			rpcArgs["tags"] = strings.Split(tags, ",")
		}
		return d.call(ctx, "update", rpcArgs)

	case "close":
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: close needs an id", ErrDaemonUnavailable)
		}
		reason := "Completed"
		if r, ok := flagValue(args, "--reason"); ok {
			reason = r
		}
		return d.call(ctx, "close", map[string]any{"id": args[1], "reason": reason})

	case "sync":
		return d.call(ctx, "sync", nil)

	case "stats":
		return d.call(ctx, "stats", nil)

	case "dep":
		if len(args) < 4 || args[1] != "add" {
			return nil, fmt.Errorf("%w: unsupported dep form", ErrDaemonUnavailable)
		}
		depType := "blocks"
		if t, ok := flagValue(args, "--type"); ok {
			depType = t
		}
		rpcArgs := map[string]any{"from_id": args[2], "to_id": args[3], "dep_type": depType}
		if _, err := d.call(ctx, "dep_add", rpcArgs); err != nil {
			return nil, err
		}
		return map[string]any{"ok": 1}, nil

	default:
		return nil, fmt.Errorf("%w: command %q not supported by daemon", ErrDaemonUnavailable, cmd)
	}
}

// createArgs parses `create <title> [-t type] [-p prio] [-d desc] [--deps id]...
// [--tags a,b]` into the daemon's argument shape.
func createArgs(args []string) map[string]any {
	title := ""
	if len(args) > 1 {
		title = args[1]
	}
	issueType, priority, description, tags := "task", 2, "", ""
	var deps []string

	for i := 2; i < len(args); i++ {
		switch args[i] {
		case "-t", "--type":
			if i+1 < len(args) {
				issueType = args[i+1]
				i++
			}
		case "-p", "--priority":
			if i+1 < len(args) {
				if n, err := strconv.Atoi(args[i+1]); err == nil {
					priority = n
				}
				i++
			}
		case "-d", "--description":
			if i+1 < len(args) {
				description = args[i+1]
				i++
			}
		case "--deps":
			if i+1 < len(args) {
				deps = append(deps, args[i+1])
				i++
			}
		case "--tags":
			if i+1 < len(args) {
				tags = args[i+1]
				i++
			}
		}
	}

	rpcArgs := map[string]any{"title": title, "issue_type": issueType, "priority": priority}
	if description != "" {
		rpcArgs["description"] = description
	}
	if len(deps) > 0 {
		rpcArgs["dependencies"] = deps
	}
	if tags != "" {
		rpcArgs["tags"] = strings.Split(tags, ",")
	}
	return rpcArgs
}

// flagValue returns the value following the first matching flag name.
func flagValue(args []string, names ...string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if slices.Contains(names, args[i]) {
			return args[i+1], true
		}
	}
	return "", false
}

// intFlag is flagValue for integer-valued flags, with a default.
func intFlag(args []string, def int, names ...string) int {
	s, ok := flagValue(args, names...)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// call performs one request/response exchange on a fresh connection.
func (d *Driver) call(ctx context.Context, op string, args map[string]any) (any, error) {
	sock, ok := d.socket()
	if !ok {
		return nil, fmt.Errorf("%w: no socket found under %s", ErrDaemonUnavailable, d.WS)
	}
	if args == nil {
		args = map[string]any{}
	}

	dialer := net.Dialer{Timeout: d.timeout()}
	conn, err := dialer.DialContext(ctx, "unix", sock)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrDaemonUnavailable, sock, err)
	}
	defer conn.Close() //nolint:errcheck // read side already consumed

	deadline := time.Now().Add(d.timeout())
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	req := rpcRequest{Operation: op, Args: args, Cwd: d.WS, Actor: d.Actor}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send %s request: %w", op, err)
	}

	// One line per response. A peer that closes without a newline still
	// counts as long as it sent something parseable.
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("daemon %s failed: %s", op, msg)
	}
	return normalize(resp.Data), nil
}

// normalize applies the result contract: arrays and objects pass verbatim,
// strings containing JSON are parsed, anything unparseable is wrapped as
// {"output": <raw>}.
func normalize(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"output": strings.TrimSpace(string(raw))}
	}
	if s, ok := v.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return map[string]any{"output": s}
		}
		return inner
	}
	return v
}

// asList coerces enumeration results into a list: lists pass through, empty
// values become the empty list, a lone object is wrapped.
func asList(v any) any {
	switch t := v.(type) {
	case []any:
		return t
	case nil:
		return []any{}
	case map[string]any:
		if len(t) == 0 {
			return []any{}
		}
		return []any{t}
	default:
		return []any{v}
	}
}

// --- CLI path ---

// viaCLI runs the bd child process in the workspace and normalizes its
// output. Failures come back as {"error": ...} values, never Go errors, so
// the wire shape survives all the way to the model.
func (d *Driver) viaCLI(ctx context.Context, args []string) any {
	argv := slices.Clone(args)
	if len(argv) > 0 && jsonCapable[argv[0]] && !slices.Contains(argv, "--json") {
		argv = append(argv, "--json")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, d.binary(), argv...)
	cmd.Dir = d.WS
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return map[string]any{"error": "timeout"}
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return map[string]any{"error": "bd CLI not found - install beads first"}
		}
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			msg := truncate(strings.TrimSpace(stderr.String()), 200)
			if msg == "" {
				msg = "command failed"
			}
			return map[string]any{"error": msg}
		}
		return map[string]any{"error": truncate(err.Error(), 100)}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return map[string]any{"ok": 1}
	}
	var v any
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		return map[string]any{"output": out}
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
