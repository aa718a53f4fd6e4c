package cmd

import (
	"context"
	"strings"

	"github.com/Iron-Ham/coms/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "coms",
	Short: "Play and trace signal bus scenarios",
	Long: `coms drives an in-process publish/subscribe signal bus.

Scenarios describe subscriptions, sends, and owner scope teardown as YAML
steps. coms plays them in virtual or real time and prints the dispatch
timeline: every send, delivery, handler failure, and unsubscription.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx available to subcommands.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/coms/config.yaml)")
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()
	bindFlags()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("COMS")
	// Replace dots with underscores for nested keys in env vars
	// e.g., COMS_PLAYBACK_SPEED for playback.speed
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// bindFlags connects flags that override configuration keys. Binding is
// repeated on every execution so a viper.Reset between runs keeps working.
func bindFlags() {
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	flags := runCmd.Flags()
	_ = viper.BindPFlag("trace.filter", flags.Lookup("filter"))
	_ = viper.BindPFlag("trace.color", flags.Lookup("color"))
	_ = viper.BindPFlag("trace.show_payload", flags.Lookup("payload"))
	_ = viper.BindPFlag("playback.realtime", flags.Lookup("realtime"))
	_ = viper.BindPFlag("playback.speed", flags.Lookup("speed"))
	_ = viper.BindPFlag("metrics.enabled", flags.Lookup("metrics"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
}
