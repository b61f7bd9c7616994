// Package config resolves the agent's runtime settings. Precedence, lowest
// to highest: built-in defaults, the YAML defaults file, a .env file in the
// launch directory, real environment variables, CLI flags (applied by the
// command layer after Load returns).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved configuration for one server process.
type Config struct {
	// Agent is this agent's identity in mail, reservations and the registry.
	Agent string
	// WS is the workspace root all relative paths resolve against.
	WS string
	// Team namespaces the shared registry and team mailbox under Base.
	Team string
	// Base is the cross-workspace coordination directory.
	Base string
	// UseDaemon gates the issue-store RPC path.
	UseDaemon bool
	// LogLevel is a logrus level name.
	LogLevel string
}

// fileConfig mirrors Config for the YAML defaults file. Pointer fields keep
// "absent" distinct from zero values.
type fileConfig struct {
	Agent     *string `yaml:"agent"`
	WS        *string `yaml:"ws"`
	Team      *string `yaml:"team"`
	Base      *string `yaml:"base"`
	UseDaemon *bool   `yaml:"use_daemon"`
	LogLevel  *string `yaml:"log_level"`
}

// Defaults returns the built-in configuration: a pid-derived agent name, the
// current directory as workspace, and the coordination base in the home
// directory.
func Defaults() *Config {
	ws, err := os.Getwd()
	if err != nil {
		ws = "."
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return &Config{
		Agent:     fmt.Sprintf("agent-%d", os.Getpid()),
		WS:        ws,
		Team:      "default",
		Base:      filepath.Join(home, ".beads-village"),
		UseDaemon: true,
		LogLevel:  "info",
	}
}

// Load resolves configuration from all layers below CLI flags.
func Load() (*Config, error) {
	// Merge .env into the environment first so it can name the defaults
	// file itself. Load never overrides variables already set.
	_ = godotenv.Load()

	cfg := Defaults()
	if err := cfg.applyFile(defaultsFilePath(cfg.Base)); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// defaultsFilePath locates the YAML defaults file. BEADS_VILLAGE_CONFIG wins;
// otherwise config.yaml under the effective base directory.
func defaultsFilePath(defaultBase string) string {
	if path := os.Getenv("BEADS_VILLAGE_CONFIG"); path != "" {
		return path
	}
	base := defaultBase
	if v := os.Getenv("BEADS_VILLAGE_BASE"); v != "" {
		base = v
	}
	return filepath.Join(base, "config.yaml")
}

// applyFile layers the YAML defaults file onto cfg. A missing file is fine;
// an unreadable or malformed one is not.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read defaults file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse defaults file %s: %w", path, err)
	}

	if fc.Agent != nil {
		c.Agent = *fc.Agent
	}
	if fc.WS != nil {
		c.WS = *fc.WS
	}
	if fc.Team != nil {
		c.Team = *fc.Team
	}
	if fc.Base != nil {
		c.Base = *fc.Base
	}
	if fc.UseDaemon != nil {
		c.UseDaemon = *fc.UseDaemon
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	return nil
}

// applyEnv layers environment variables onto cfg. godotenv has already folded
// the .env file in underneath real variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("BEADS_AGENT"); v != "" {
		c.Agent = v
	}
	if v := os.Getenv("BEADS_WS"); v != "" {
		c.WS = v
	}
	if v := os.Getenv("BEADS_TEAM"); v != "" {
		c.Team = v
	}
	if v := os.Getenv("BEADS_VILLAGE_BASE"); v != "" {
		c.Base = v
	}
	if v, ok := os.LookupEnv("BEADS_USE_DAEMON"); ok {
		c.UseDaemon = v == "1"
	}
	if v := os.Getenv("BEADS_VILLAGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
