package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leapstack-labs/leapbatch/pkg/core"
)

// watchSet tells which file system events concern the watched paths.
type watchSet struct {
	files map[string]bool
	dirs  map[string]bool
}

// relevant reports whether a change to name should trigger a run.
func (s watchSet) relevant(name string) bool {
	name = filepath.Clean(name)
	return s.files[name] || s.dirs[filepath.Dir(name)]
}

// addPaths registers paths with w. Files are watched through their parent
// directory so that editors replacing the file are noticed.
func addPaths(w *fsnotify.Watcher, paths []string) (watchSet, error) {
	set := watchSet{files: map[string]bool{}, dirs: map[string]bool{}}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return set, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return set, core.Classify(core.ExitFileIO, fmt.Errorf("cannot watch %s: %w", p, err))
		}
		dir := abs
		if info.IsDir() {
			set.dirs[abs] = true
		} else {
			set.files[abs] = true
			dir = filepath.Dir(abs)
		}
		if err := w.Add(dir); err != nil {
			return set, core.Classify(core.ExitFileIO, fmt.Errorf("cannot watch %s: %w", dir, err))
		}
	}
	return set, nil
}

// watch calls run once, then again each time one of paths changes and the
// changes have settled for debounce, until ctx is done. Runs never overlap.
func watch(ctx context.Context, paths []string, debounce time.Duration, logger *slog.Logger, run func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return core.Classify(core.ExitUnexpected, fmt.Errorf("failed to create watcher: %w", err))
	}
	defer watcher.Close()

	set, err := addPaths(watcher, paths)
	if err != nil {
		return err
	}

	run()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !set.relevant(event.Name) {
				continue
			}
			logger.Debug("change detected", slog.String("path", event.Name), slog.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if ctx.Err() != nil {
				return nil
			}
			run()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}
