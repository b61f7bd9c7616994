package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	goruntime "runtime"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/beads-village/village/internal/config"
	"github.com/beads-village/village/internal/transport"
	"github.com/beads-village/village/internal/village"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags. Applied on top of config.Load, which resolves the
	// defaults file, .env and environment layers underneath.
	flagAgent    string
	flagWS       string
	flagTeam     string
	flagBase     string
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "village",
		Short: "Filesystem-based coordination for coding agents",
		Long: `Village is a coordination server for teams of coding agents.

It speaks the MCP tool protocol on stdin/stdout (the default) or over
HTTP with SSE events. Every tool is backed by plain files under a shared
base directory: issue tracking through the bd CLI or daemon, advisory
file reservations, per-agent mailboxes, and a cross-workspace agent
registry. Point several agents at the same base and they can divide
work without stepping on each other.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Bare "village" serves stdio, matching how MCP clients
			// launch the binary.
			return runStdio()
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "", "Agent name (or BEADS_AGENT env var)")
	rootCmd.PersistentFlags().StringVar(&flagWS, "ws", "", "Workspace root (or BEADS_WS env var)")
	rootCmd.PersistentFlags().StringVar(&flagTeam, "team", "", "Team name (or BEADS_TEAM env var)")
	rootCmd.PersistentFlags().StringVar(&flagBase, "base", "", "Coordination base directory (or BEADS_VILLAGE_BASE env var)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	// Set version for --version flag
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("village v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(stdioCmd())
	rootCmd.AddCommand(httpCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func stdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the tool protocol on stdin/stdout",
		Long: `Starts the server on stdin/stdout for MCP clients.

Configure in the client's MCP settings:
  {
    "mcpServers": {
      "village": {
        "type": "stdio",
        "command": "village",
        "args": ["--agent", "a-backend", "--team", "myproject"]
      }
    }
  }`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStdio()
		},
	}
}

func httpCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "http",
		Short: "Serve the tool protocol over HTTP with SSE events",
		Long: `Starts the server on an HTTP port.

POST /mcp carries the same requests the stdio transport reads, GET /mcp
opens an SSE event stream, and GET /health reports server status.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHTTP(host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Interface to bind")
	cmd.Flags().IntVar(&port, "port", 8080, "Port to listen on")
	return cmd
}

func versionCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show village version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut {
				out := map[string]string{
					"version":    Version,
					"build":      Build,
					"go_version": goruntime.Version(),
				}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			}
			fmt.Printf("village v%s (build: %s, %s)\n", Version, Build, goruntime.Version())
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "JSON output for scripting")
	return cmd
}

func runStdio() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	srv := village.New(cfg, Version)

	ctx, cancel := signalContext()
	defer cancel()

	return transport.NewStream(srv, os.Stdin, os.Stdout).Run(ctx)
}

func runHTTP(host string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	srv := village.New(cfg, Version)

	ctx, cancel := signalContext()
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return transport.NewHTTP(srv, addr).Run(ctx)
}

// loadConfig resolves configuration and layers CLI flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagAgent != "" {
		cfg.Agent = flagAgent
	}
	if flagWS != "" {
		cfg.WS = flagWS
	}
	if flagTeam != "" {
		cfg.Team = flagTeam
	}
	if flagBase != "" {
		cfg.Base = flagBase
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

// setupLogging routes logs to stderr at the configured level. Stdout stays
// clean: on the stream transport it carries the protocol.
func setupLogging(cfg *config.Config) error {
	log.SetOutput(os.Stderr)
	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("unrecognized log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(lvl)
	return nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
