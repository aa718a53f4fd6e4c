// Package tui shows a scenario playback as a live, scrolling timeline.
package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/coms/internal/errors"
	"github.com/Iron-Ham/coms/internal/scenario"
	"github.com/Iron-Ham/coms/internal/trace"
)

// Run plays sc while a bubbletea program shows each record that passes
// filter. Any Sink already set in opts still receives every record.
// Closing the view cancels the playback.
func Run(ctx context.Context, sc *scenario.Scenario, opts scenario.Options, renderer *trace.Renderer, filter *trace.Filter, progOpts ...tea.ProgramOption) (*scenario.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(
		NewModel(sc.Name, renderer),
		append([]tea.ProgramOption{tea.WithContext(ctx)}, progOpts...)...,
	)

	prev := opts.Sink
	opts.Sink = func(rec trace.Record) {
		if prev != nil {
			prev(rec)
		}
		if filter.Match(rec) {
			program.Send(recordMsg{rec: rec})
		}
	}

	var (
		result *scenario.Result
		runErr error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		result, runErr = scenario.Run(runCtx, sc, opts)
		program.Send(doneMsg{result: result, err: runErr})
	}()

	final, err := program.Run()
	cancel()
	<-finished

	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return result, fmt.Errorf("live view: %w", err)
	}
	if m, ok := final.(Model); ok && m.Quitting() && !m.Done() {
		return result, context.Canceled
	}
	return result, runErr
}
