package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/coms/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View coms configuration",
	Long: `View coms configuration.

Without arguments, displays the current configuration.
Use subcommands to locate or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/coms/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "bus:")
	fmt.Fprintf(out, "  capture_stacks: %v\n", cfg.Bus.CaptureStacks)

	fmt.Fprintln(out, "logging:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Logging.Enabled)
	fmt.Fprintf(out, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  dir: %s\n", cfg.Logging.ResolveDir())

	fmt.Fprintln(out, "trace:")
	fmt.Fprintf(out, "  filter: %s\n", cfg.Trace.Filter)
	fmt.Fprintf(out, "  color: %s\n", cfg.Trace.Color)
	fmt.Fprintf(out, "  show_payload: %v\n", cfg.Trace.ShowPayload)

	fmt.Fprintln(out, "playback:")
	fmt.Fprintf(out, "  realtime: %v\n", cfg.Playback.Realtime)
	fmt.Fprintf(out, "  speed: %g\n", cfg.Playback.Speed)

	fmt.Fprintln(out, "metrics:")
	fmt.Fprintf(out, "  enabled: %v\n", cfg.Metrics.Enabled)

	return nil
}

// defaultConfigContent is written by "coms config init".
const defaultConfigContent = `# coms configuration

# Signal bus settings
bus:
  # Attach a goroutine stack to every handler failure
  capture_stacks: true

# Debug logging (JSON lines in coms.log)
logging:
  enabled: true
  # Options: debug, info, warn, error
  level: info
  # Empty means <config dir>/logs; ~ is expanded
  dir: ""

# Timeline output
trace:
  # Topic glob; "." separates segments, "*" matches one, "**" matches any
  filter: "**"
  # Options: auto, always, never
  color: auto
  show_payload: true

# Scenario playback
playback:
  # Play against the wall clock instead of virtual time
  realtime: false
  # Realtime speed multiplier
  speed: 1.0

# Prometheus collector
metrics:
  # Print a metrics snapshot after each run
  enabled: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize coms output and playback.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: COMS_* (e.g., COMS_PLAYBACK_SPEED)")

	return nil
}
