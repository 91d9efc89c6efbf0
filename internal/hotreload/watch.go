package hotreload

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchFile runs an fsnotify watch on path's parent directory (watching the
// directory, not the file, survives editors that replace the file instead
// of writing it in place) and calls ctrl.Trigger(FileChanged) whenever path
// itself is written or renamed into place. Blocks until ctx is cancelled.
func WatchFile[T any](ctx context.Context, path string, ctrl *Controller[T]) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)
	log := slog.With("component", "hotreload.watch")

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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			ctrl.Trigger(ReloadEvent{Kind: FileChanged, Path: path})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)
		}
	}
}
