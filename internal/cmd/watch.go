package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/coms/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events an editor save produces.
const watchDebounce = 100 * time.Millisecond

// watchFile calls play once, then again each time path is written or
// recreated, until ctx is done.
func watchFile(ctx context.Context, path string, logger *logging.Logger, play func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors often replace the file, so watch its directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	play()
	return watchLoop(ctx, watcher, path, watchDebounce, logger, play)
}

// watchLoop runs onChange after each debounced change to path.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, debounce time.Duration, logger *logging.Logger, onChange func()) error {
	target := filepath.Clean(path)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Debug("scenario file changed", "path", event.Name, "op", event.Op.String())
			debounceTimer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", "error", err.Error())

		case <-debounceTimer.C:
			onChange()
		}
	}
}
