package village

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/beads-village/village/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Agent:    "a-test",
		WS:       t.TempDir(),
		Team:     "default",
		Base:     t.TempDir(),
		LogLevel: "info",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(testConfig(t), "test")
}

// pathBD puts a stub bd CLI on PATH so workspace rebinding keeps working.
func pathBD(t *testing.T, script string) {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "bd")
	if err := os.WriteFile(file, []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func resultText(t *testing.T, res *gomcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(*gomcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}

func callMap(t *testing.T, s *Server, name string, args map[string]any) map[string]any {
	t.Helper()
	res, ok := s.Call(context.Background(), name, args)
	if !ok {
		t.Fatalf("tool %q not in catalog", name)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &m); err != nil {
		t.Fatalf("result is not a JSON object: %v", err)
	}
	return m
}

func asMap(t *testing.T, v any) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", v)
	}
	return m
}

func TestInitializeEnvelope(t *testing.T) {
	s := newTestServer(t)
	got := s.Initialize()

	if got["protocolVersion"] != "2024-11-05" {
		t.Errorf("protocolVersion = %v", got["protocolVersion"])
	}
	info := got["serverInfo"].(map[string]any)
	if info["name"] != "beads-village" || info["version"] != "test" {
		t.Errorf("serverInfo = %v", info)
	}
	caps := got["capabilities"].(map[string]any)
	if _, ok := caps["tools"]; !ok {
		t.Error("capabilities missing tools")
	}
	instr, _ := got["instructions"].(string)
	if !strings.Contains(instr, "init()") || !strings.Contains(instr, "claim()") {
		t.Error("instructions missing workflow steps")
	}
}

func TestCatalogShape(t *testing.T) {
	s := newTestServer(t)
	tools := s.Tools()

	if len(tools) != 23 {
		t.Fatalf("catalog has %d tools", len(tools))
	}
	if tools[0].Name != "init" {
		t.Errorf("first tool = %s", tools[0].Name)
	}
	seen := map[string]bool{}
	for _, tool := range tools {
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
		if tool.InputSchema == nil {
			t.Errorf("tool %s has no input schema", tool.Name)
		}
		if tool.Annotations == nil {
			t.Errorf("tool %s has no annotations", tool.Name)
		}
		if seen[tool.Name] {
			t.Errorf("duplicate tool %s", tool.Name)
		}
		seen[tool.Name] = true
	}
	for _, name := range []string{"claim", "assign", "broadcast", "discover", "bv_insights", "bv_diff"} {
		if !seen[name] {
			t.Errorf("catalog missing %s", name)
		}
	}
}

func TestCatalogRequiredFields(t *testing.T) {
	s := newTestServer(t)
	required := map[string][]string{
		"done":    {"id"},
		"add":     {"title"},
		"assign":  {"id", "role"},
		"show":    {"id"},
		"reserve": {"paths"},
		"msg":     {"subj"},
	}
	for _, tool := range s.Tools() {
		want, ok := required[tool.Name]
		if !ok {
			continue
		}
		schema := tool.InputSchema.(*jsonschema.Schema)
		if !reflect.DeepEqual(schema.Required, want) {
			t.Errorf("%s required = %v, want %v", tool.Name, schema.Required, want)
		}
	}
}

func TestCallUnknownTool(t *testing.T) {
	s := newTestServer(t)
	if _, ok := s.Call(context.Background(), "explode", nil); ok {
		t.Fatal("unknown tool was dispatched")
	}
	msg := s.UnknownTool("explode")
	if !strings.Contains(msg, "Unknown tool: explode") {
		t.Errorf("message = %q", msg)
	}
	if !strings.Contains(msg, "init, claim, done") {
		t.Errorf("message does not list the catalog: %q", msg)
	}
}

func TestCallWrapsResultAsJSONText(t *testing.T) {
	s := newTestServer(t)
	res, ok := s.Call(context.Background(), "reservations", nil)
	if !ok {
		t.Fatal("reservations not dispatched")
	}
	if res.IsError {
		t.Error("unexpected isError")
	}
	var items []any
	if err := json.Unmarshal([]byte(resultText(t, res)), &items); err != nil {
		t.Fatalf("content is not JSON: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty list, got %v", items)
	}
}

func TestCallRecoversPanic(t *testing.T) {
	s := newTestServer(t)
	s.byName["boom"] = toolEntry{
		def: &gomcp.Tool{Name: "boom"},
		fn:  func(context.Context, map[string]any) any { panic("kaboom") },
	}

	res, ok := s.Call(context.Background(), "boom", nil)
	if !ok {
		t.Fatal("boom not dispatched")
	}
	if !res.IsError {
		t.Error("panic did not set isError")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(resultText(t, res)), &m); err != nil {
		t.Fatal(err)
	}
	if m["error"] != "kaboom" {
		t.Errorf("error = %v", m["error"])
	}
	if !strings.Contains(m["hint"].(string), "Tool 'boom' failed") {
		t.Errorf("hint = %v", m["hint"])
	}
}

func TestCallRecordsAudit(t *testing.T) {
	cfg := testConfig(t)
	s := New(cfg, "test")

	if _, ok := s.Call(context.Background(), "reservations", nil); !ok {
		t.Fatal("call failed")
	}

	f, err := os.Open(filepath.Join(cfg.Base, cfg.Team, "activity.jsonl"))
	if err != nil {
		t.Fatalf("audit trail missing: %v", err)
	}
	defer f.Close()

	var found bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		if e["tool"] == "reservations" && e["agent"] == "a-test" && e["ok"] == true {
			found = true
		}
	}
	if !found {
		t.Error("no audit entry for the call")
	}
}

func TestCoerceStringArrays(t *testing.T) {
	got := coerce(map[string]any{
		"paths": `["a.go", "b.go"]`,
		"deps":  `["bd-1"]`,
		"tags":  "not json [",
		"other": `["left alone"]`,
	})

	if !reflect.DeepEqual(got["paths"], []any{"a.go", "b.go"}) {
		t.Errorf("paths = %#v", got["paths"])
	}
	if !reflect.DeepEqual(got["deps"], []any{"bd-1"}) {
		t.Errorf("deps = %#v", got["deps"])
	}
	if got["tags"] != "not json [" {
		t.Errorf("tags = %#v", got["tags"])
	}
	if got["other"] != `["left alone"]` {
		t.Errorf("other keys must not be coerced: %#v", got["other"])
	}
}

func TestCoerceTTL(t *testing.T) {
	cases := []struct {
		in   any
		want any
	}{
		{"600", 600},
		{"30s", 30},
		{"10m", 600},
		{"1h", 3600},
		{"soon", "soon"},
		{float64(45), float64(45)},
	}
	for _, tc := range cases {
		got := coerce(map[string]any{"ttl": tc.in})
		if !reflect.DeepEqual(got["ttl"], tc.want) {
			t.Errorf("coerce ttl %v = %#v, want %#v", tc.in, got["ttl"], tc.want)
		}
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"s":     "value",
		"empty": "",
		"n":     float64(7),
		"ns":    "12",
		"b":     true,
		"list":  []any{"x", float64(1)},
		"one":   "solo",
	}

	if got := strArg(args, "s", "d"); got != "value" {
		t.Errorf("strArg = %q", got)
	}
	if got := strArg(args, "empty", "d"); got != "" {
		t.Errorf("explicit empty string must stay empty, got %q", got)
	}
	if got := strArg(args, "missing", "d"); got != "d" {
		t.Errorf("strArg default = %q", got)
	}
	if got := intArg(args, "n", 0); got != 7 {
		t.Errorf("intArg float = %d", got)
	}
	if got := intArg(args, "ns", 0); got != 12 {
		t.Errorf("intArg string = %d", got)
	}
	if got := intArg(args, "missing", 9); got != 9 {
		t.Errorf("intArg default = %d", got)
	}
	if !boolArg(args, "b", false) {
		t.Error("boolArg true")
	}
	if boolArg(args, "missing", false) {
		t.Error("boolArg default")
	}
	if got := strsArg(args, "list"); !reflect.DeepEqual(got, []string{"x", "1"}) {
		t.Errorf("strsArg list = %v", got)
	}
	if got := strsArg(args, "one"); !reflect.DeepEqual(got, []string{"solo"}) {
		t.Errorf("strsArg singleton = %v", got)
	}
	if got := strsArg(args, "missing"); got != nil {
		t.Errorf("strsArg missing = %v", got)
	}
}

func TestIntValue(t *testing.T) {
	cases := []struct {
		name  string
		args  map[string]any
		want  int
		valid bool
	}{
		{"absent uses default", map[string]any{}, 2, true},
		{"integral float", map[string]any{"pri": float64(3)}, 3, true},
		{"fractional float", map[string]any{"pri": 2.5}, 0, false},
		{"string rejected", map[string]any{"pri": "2"}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := intValue(tc.args, "pri", 2)
			if ok != tc.valid || (ok && got != tc.want) {
				t.Errorf("intValue = (%d, %v), want (%d, %v)", got, ok, tc.want, tc.valid)
			}
		})
	}
}

func TestClipAndSummary(t *testing.T) {
	long := strings.Repeat("x", 120)
	if got := clip(long, 100); len(got) != 100 {
		t.Errorf("clip length = %d", len(got))
	}
	if got := summary(long, 100); !strings.HasSuffix(got, "...") || len(got) != 103 {
		t.Errorf("summary = %d chars", len(got))
	}
	if got := summary("short", 100); got != "short" {
		t.Errorf("summary short = %q", got)
	}
}
