package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Agent != fmt.Sprintf("agent-%d", os.Getpid()) {
		t.Errorf("default agent = %q", cfg.Agent)
	}
	if cfg.Team != "default" {
		t.Errorf("default team = %q", cfg.Team)
	}
	if !cfg.UseDaemon {
		t.Error("daemon path should default on")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default log level = %q", cfg.LogLevel)
	}
	if filepath.Base(cfg.Base) != ".beads-village" {
		t.Errorf("default base = %q", cfg.Base)
	}
}

func TestApplyFile_PartialOverride(t *testing.T) {
	path := writeYAML(t, "team: platform\nlog_level: debug\nuse_daemon: false\n")

	cfg := Defaults()
	if err := cfg.applyFile(path); err != nil {
		t.Fatalf("applyFile failed: %v", err)
	}
	if cfg.Team != "platform" || cfg.LogLevel != "debug" || cfg.UseDaemon {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Agent == "" || cfg.WS == "" {
		t.Error("untouched fields lost their defaults")
	}
}

func TestApplyFile_MissingIsSkipped(t *testing.T) {
	cfg := Defaults()
	if err := cfg.applyFile(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Errorf("missing defaults file must be silent: %v", err)
	}
}

func TestApplyFile_MalformedFails(t *testing.T) {
	path := writeYAML(t, "team: [unclosed\n")
	cfg := Defaults()
	if err := cfg.applyFile(path); err == nil {
		t.Error("malformed defaults file should fail loudly")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BEADS_AGENT", "crow")
	t.Setenv("BEADS_WS", "/work/repo")
	t.Setenv("BEADS_TEAM", "infra")
	t.Setenv("BEADS_VILLAGE_BASE", "/shared/village")
	t.Setenv("BEADS_USE_DAEMON", "0")
	t.Setenv("BEADS_VILLAGE_LOG_LEVEL", "warning")

	cfg := Defaults()
	cfg.applyEnv()

	if cfg.Agent != "crow" || cfg.WS != "/work/repo" || cfg.Team != "infra" {
		t.Errorf("identity vars not applied: %+v", cfg)
	}
	if cfg.Base != "/shared/village" || cfg.UseDaemon || cfg.LogLevel != "warning" {
		t.Errorf("behavior vars not applied: %+v", cfg)
	}
}

func TestApplyEnv_DaemonFlagIsLiteralOne(t *testing.T) {
	t.Setenv("BEADS_USE_DAEMON", "true")
	cfg := Defaults()
	cfg.applyEnv()
	if cfg.UseDaemon {
		t.Error(`only "1" enables the daemon path`)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeYAML(t, "team: platform\nagent: from-file\n")
	t.Setenv("BEADS_VILLAGE_CONFIG", path)
	t.Setenv("BEADS_TEAM", "infra")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Team != "infra" {
		t.Errorf("env should beat file, team = %q", cfg.Team)
	}
	if cfg.Agent != "from-file" {
		t.Errorf("file value without env override should hold, agent = %q", cfg.Agent)
	}
}

func TestDefaultsFilePath(t *testing.T) {
	t.Setenv("BEADS_VILLAGE_CONFIG", "/etc/village.yaml")
	if got := defaultsFilePath("/home/x/.beads-village"); got != "/etc/village.yaml" {
		t.Errorf("explicit config path should win, got %q", got)
	}

	t.Setenv("BEADS_VILLAGE_CONFIG", "")
	t.Setenv("BEADS_VILLAGE_BASE", "/shared/village")
	if got := defaultsFilePath("/home/x/.beads-village"); got != filepath.Join("/shared/village", "config.yaml") {
		t.Errorf("base env should relocate the defaults file, got %q", got)
	}
}
