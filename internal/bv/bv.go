// Package bv runs the beads-viewer graph analytics binary in robot mode.
// bv is optional tooling: every failure, including its absence, comes back
// as an {"error": ...} value rather than a Go error, mirroring the
// issue-store driver contract.
package bv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds each robot invocation.
const DefaultTimeout = 30 * time.Second

// probeTimeout bounds the --version check used to validate candidates.
const probeTimeout = 5 * time.Second

// Runner locates and runs bv for one workspace. The discovery result is
// cached for the life of the runner; bv appearing later needs a new process.
type Runner struct {
	// WS is the workspace bv analyzes and runs in.
	WS string
	// Timeout bounds each robot call. DefaultTimeout when zero.
	Timeout time.Duration
	// Binary pins the bv executable instead of discovering one.
	Binary string

	mu     sync.Mutex
	probed bool
	path   string
}

// New returns a runner for the given workspace.
func New(ws string) *Runner {
	return &Runner{WS: ws}
}

// Insights returns the full graph analysis: PageRank, betweenness, cycles.
func (r *Runner) Insights(ctx context.Context) any {
	return r.robot(ctx, "--robot-insights")
}

// Plan returns the parallel execution plan with independent tracks.
func (r *Runner) Plan(ctx context.Context) any {
	return r.robot(ctx, "--robot-plan")
}

// Priority returns up to limit priority recommendations.
func (r *Runner) Priority(ctx context.Context, limit int) any {
	return r.robot(ctx, "--robot-priority", "--limit", strconv.Itoa(limit))
}

// Diff reports what changed between git revisions of the issue store.
func (r *Runner) Diff(ctx context.Context, since, asOf string) any {
	args := []string{"--robot-diff"}
	if since != "" {
		args = append(args, "--diff-since", since)
	}
	if asOf != "" {
		args = append(args, "--as-of", asOf)
	}
	return r.robot(ctx, args...)
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// robot runs one bv robot-mode command and parses its stdout as JSON.
func (r *Runner) robot(ctx context.Context, args ...string) any {
	bin, ok := r.binary()
	if !ok {
		return map[string]any{
			"error": "bv not available",
			"hint":  "Install bv to enable dependency graph analytics",
		}
	}

	timeout := r.timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = r.WS
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return map[string]any{"error": fmt.Sprintf("bv timed out after %ds", int(timeout.Seconds()))}
	}
	if err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return map[string]any{
				"error":  fmt.Sprintf("bv exited with code %d", exit.ExitCode()),
				"stderr": stderr.String(),
			}
		}
		return map[string]any{"error": err.Error()}
	}

	var v any
	if err := json.Unmarshal(stdout.Bytes(), &v); err != nil {
		return map[string]any{"error": "Invalid JSON output", "stdout": stdout.String()}
	}
	return v
}

// binary resolves the bv executable, validating each candidate so an
// unrelated "bv" on PATH is never mistaken for the viewer.
func (r *Runner) binary() (string, bool) {
	if r.Binary != "" {
		return r.Binary, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probed {
		return r.path, r.path != ""
	}
	r.probed = true

	for _, cand := range candidates(r.WS) {
		if validBV(cand) {
			r.path = cand
			return cand, true
		}
	}
	if p, err := exec.LookPath("bv"); err == nil && validBV(p) {
		r.path = p
		return p, true
	}
	return "", false
}

// candidates lists install locations checked before PATH: Go bin dirs, the
// system dir, then the workspace-local cache.
func candidates(ws string) []string {
	var out []string
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		out = append(out, filepath.Join(gopath, "bin", "bv"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, "go", "bin", "bv"))
	}
	out = append(out,
		filepath.Join("/usr/local/bin", "bv"),
		filepath.Join(ws, ".beads-village", "bin", "bv"),
	)
	return out
}

// validBV reports whether path is the real beads-viewer binary by checking
// its --version banner.
func validBV(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return false
	}
	banner := strings.ToLower(strings.TrimSpace(string(out)))
	if !strings.Contains(banner, "bv") {
		return false
	}
	return strings.Contains(banner, "v0.") || strings.Contains(banner, "v1.") || strings.Contains(banner, "version")
}
