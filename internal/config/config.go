package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete coms configuration
type Config struct {
	Bus      BusConfig      `mapstructure:"bus"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Trace    TraceConfig    `mapstructure:"trace"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// BusConfig controls signal bus behavior
type BusConfig struct {
	// CaptureStacks attaches a goroutine stack to every handler failure (default: true)
	CaptureStacks bool `mapstructure:"capture_stacks"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where coms.log is written.
	// If empty, defaults to "logs" under the config directory.
	// Supports ~ for home directory expansion.
	Dir string `mapstructure:"dir"`
}

// TraceConfig controls how dispatch traces are printed
type TraceConfig struct {
	// Filter is a topic glob; "." separates segments and "**" matches everything (default: "**")
	Filter string `mapstructure:"filter"`
	// Color is "auto", "always", or "never" (default: "auto")
	Color string `mapstructure:"color"`
	// ShowPayload prints payloads of send records (default: true)
	ShowPayload bool `mapstructure:"show_payload"`
}

// PlaybackConfig controls scenario playback
type PlaybackConfig struct {
	// Realtime plays scenarios against the wall clock instead of virtual time (default: false)
	Realtime bool `mapstructure:"realtime"`
	// Speed divides step offsets and delays in realtime playback (default: 1.0)
	Speed float64 `mapstructure:"speed"`
}

// MetricsConfig controls the prometheus collector
type MetricsConfig struct {
	// Enabled prints a metrics snapshot after each run (default: false)
	Enabled bool `mapstructure:"enabled"`
}

// ResolveDir returns the resolved log directory path.
// If Dir is empty, it returns "logs" under ConfigDir.
// If Dir starts with ~, it expands to the user's home directory.
func (l *LoggingConfig) ResolveDir() string {
	if l.Dir == "" {
		return filepath.Join(ConfigDir(), "logs")
	}

	path := l.Dir

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			CaptureStacks: true,
		},
		Logging: LoggingConfig{
			Enabled: true,
			Level:   "info",
			Dir:     "", // Empty means use default: <config dir>/logs
		},
		Trace: TraceConfig{
			Filter:      "**",
			Color:       "auto",
			ShowPayload: true,
		},
		Playback: PlaybackConfig{
			Realtime: false,
			Speed:    1.0,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Bus defaults
	viper.SetDefault("bus.capture_stacks", defaults.Bus.CaptureStacks)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	// Trace defaults
	viper.SetDefault("trace.filter", defaults.Trace.Filter)
	viper.SetDefault("trace.color", defaults.Trace.Color)
	viper.SetDefault("trace.show_payload", defaults.Trace.ShowPayload)

	// Playback defaults
	viper.SetDefault("playback.realtime", defaults.Playback.Realtime)
	viper.SetDefault("playback.speed", defaults.Playback.Speed)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coms")
	}
	// Fall back to ~/.config/coms
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coms"
	}
	return filepath.Join(home, ".config", "coms")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidColorModes returns the list of valid trace color modes
func ValidColorModes() []string {
	return []string{"auto", "always", "never"}
}
