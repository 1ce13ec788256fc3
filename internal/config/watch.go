package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events an editor save produces.
var reloadDelay = 100 * time.Millisecond

// Watch reloads the file at path whenever it changes and hands the new
// Config to onChange. It blocks until ctx is cancelled.
//
// The parent directory is watched so atomic saves (write temp, rename) are
// seen. A reload that fails to load or validate is logged and skipped, as
// is one identical to the config in effect. Changes to settings that are
// only read at startup are reported with a warning; onChange still
// receives the full Config.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	path = filepath.Clean(path)
	current, err := Load(path)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}
	slog.Info("watching config for changes", "path", path)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				reload = time.After(reloadDelay)
			}

		case <-reload:
			reload = nil
			next, err := Load(path)
			if err != nil {
				slog.Error("config reload failed, keeping previous config", "path", path, "error", err)
				continue
			}
			if *next == *current {
				slog.Debug("config unchanged", "path", path)
				continue
			}
			if stale := restartRequired(current, next); len(stale) > 0 {
				slog.Warn("config changes take effect after restart", "path", path, "settings", stale)
			}
			slog.Info("config reloaded", "path", path)
			current = next
			onChange(next)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

// restartRequired names the settings that differ between prev and next but
// are only read at startup. The decision threshold and log level apply live.
func restartRequired(prev, next *Config) []string {
	var out []string
	if prev.Server != next.Server {
		out = append(out, "server")
	}
	a, b := prev.Engine, next.Engine
	a.Threshold, b.Threshold = 0, 0
	if a != b {
		out = append(out, "engine")
	}
	if prev.Telemetry != next.Telemetry {
		out = append(out, "telemetry")
	}
	if prev.Monitor != next.Monitor {
		out = append(out, "monitor")
	}
	if prev.Output != next.Output {
		out = append(out, "output")
	}
	if prev.Logging.JSON != next.Logging.JSON {
		out = append(out, "logging.json")
	}
	return out
}
