package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Iron-Ham/coms/internal/config"
	"github.com/Iron-Ham/coms/internal/logging"
	"github.com/Iron-Ham/coms/internal/metrics"
	"github.com/Iron-Ham/coms/internal/scenario"
	"github.com/Iron-Ham/coms/internal/trace"
	"github.com/Iron-Ham/coms/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Play a scenario and print its dispatch timeline",
	Long: `Play a scenario against a fresh signal bus and print every send,
delivery, failure, and unsubscription as it happens.

By default playback runs in virtual time: timers fire instantly and the
output is identical on every run. Use --realtime to play against the wall
clock, optionally faster with --speed.

Examples:
  # Play a scenario in virtual time
  coms run panel.yaml

  # Only show ui.* topics, without payloads
  coms run panel.yaml --filter 'ui.*' --payload=false

  # Watch a live view at ten times real speed
  coms run panel.yaml --realtime --speed 10 --live

  # Replay whenever the file changes
  coms run panel.yaml --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runLive  bool
	runWatch bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	defaults := config.Default()
	runCmd.Flags().String("filter", defaults.Trace.Filter, "Only print records whose topic matches this glob")
	runCmd.Flags().String("color", defaults.Trace.Color, "Color output: auto, always, or never")
	runCmd.Flags().Bool("payload", defaults.Trace.ShowPayload, "Print payloads of send records")
	runCmd.Flags().Bool("realtime", defaults.Playback.Realtime, "Play against the wall clock instead of virtual time")
	runCmd.Flags().Float64("speed", defaults.Playback.Speed, "Realtime speed multiplier")
	runCmd.Flags().Bool("metrics", defaults.Metrics.Enabled, "Print a metrics snapshot after the run")
	runCmd.Flags().String("log-level", defaults.Logging.Level, "Log level: debug, info, warn, error")
	runCmd.Flags().BoolVar(&runLive, "live", false, "Show an interactive timeline (terminal only)")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "Replay the scenario whenever the file changes")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := args[0]
	out := cmd.OutOrStdout()
	if !runWatch {
		return playFile(ctx, out, path, cfg, logger)
	}

	return watchFile(ctx, path, logger, func() {
		fmt.Fprintf(out, "\n--- playing %s ---\n", path)
		if err := playFile(ctx, out, path, cfg, logger); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	})
}

// newLogger opens the log file configured in cfg, or a no-op logger when
// logging is disabled.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewLogger(cfg.Logging.ResolveDir(), cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// playFile loads and plays one scenario, streaming matching records to out
// and finishing with a summary.
func playFile(ctx context.Context, out io.Writer, path string, cfg *config.Config, logger *logging.Logger) error {
	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}

	filter, err := trace.NewFilter(cfg.Trace.Filter)
	if err != nil {
		return err
	}
	mode, err := trace.ParseColorMode(cfg.Trace.Color)
	if err != nil {
		return err
	}
	renderer := trace.NewRenderer(out, mode, cfg.Trace.ShowPayload)

	opts := scenario.Options{
		Realtime:      cfg.Playback.Realtime,
		Speed:         cfg.Playback.Speed,
		Logger:        logger,
		CaptureStacks: cfg.Bus.CaptureStacks,
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		opts.Hooks = append(opts.Hooks, collector.Hooks())
	}

	var result *scenario.Result
	if runLive && isTerminal(out) {
		result, err = tui.Run(ctx, sc, opts, renderer, filter)
	} else {
		opts.Sink = func(rec trace.Record) {
			if filter.Match(rec) {
				fmt.Fprintln(out, renderer.Render(rec))
			}
		}
		result, err = scenario.Run(ctx, sc, opts)
	}

	if result != nil {
		printSummary(out, result)
	}
	if collector != nil {
		if merr := printMetrics(out, collector); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}

func printSummary(out io.Writer, result *scenario.Result) {
	total := 0
	ids := make([]string, 0, len(result.Deliveries))
	for id, n := range result.Deliveries {
		ids = append(ids, id)
		total += n
	}
	sort.Strings(ids)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s: %d records, %d deliveries, %d failures in %s\n",
		result.Name, len(result.Records), total, result.Failures, result.Elapsed)
	for _, id := range ids {
		fmt.Fprintf(out, "  %-16s %d\n", id, result.Deliveries[id])
	}

	if len(result.Live) == 0 {
		return
	}
	topics := make([]string, 0, len(result.Live))
	for topic := range result.Live {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	fmt.Fprintln(out, "still subscribed at end:")
	for _, topic := range topics {
		fmt.Fprintf(out, "  %-16s %d\n", topic, result.Live[topic])
	}
}

func printMetrics(out io.Writer, collector *metrics.Collector) error {
	snapshot, err := collector.Snapshot()
	if err != nil {
		return fmt.Errorf("reading metrics: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "metrics:")
	for _, key := range metrics.SortedKeys(snapshot) {
		fmt.Fprintf(out, "  %-48s %g\n", key, snapshot[key])
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
