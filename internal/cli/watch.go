package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// settle is how long the schema file must stay quiet before a rerun.
// Editors often write a file in several steps.
const settle = 200 * time.Millisecond

// watchSchema runs fn now and again after every change to the schema file,
// until the command context is cancelled. Failures of fn are reported and
// do not stop the watch.
func watchSchema(cmd *cobra.Command, fn func() error) error {
	ctx := cmd.Context()
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}
	logger := getLogger(ctx)
	if cfg.Catalog.Schema == "" {
		return fmt.Errorf("no schema file configured (set catalog.schema or pass --schema)")
	}
	schema, err := filepath.Abs(cfg.Catalog.Schema)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory; editors replace files rather than writing in place.
	if err := watcher.Add(filepath.Dir(schema)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(schema), err)
	}

	run := func() {
		if err := fn(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}
	run()
	logger.Info("watching schema", slog.String("path", schema))

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != schema {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("schema changed", slog.String("op", event.Op.String()))
			timer.Reset(settle)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", slog.String("error", err.Error()))
		case <-timer.C:
			fmt.Fprintf(cmd.ErrOrStderr(), "schema changed, validating again\n")
			run()
		}
	}
}
