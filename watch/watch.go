// Package watch rebuilds when audience files change on disk.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// IsAudienceFile reports whether path names a YAML audience file.
func IsAudienceFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Watch calls build whenever a YAML file in one of paths is written or
// created. A path naming a file watches its directory. Missing paths are
// skipped. Watch returns when ctx is done.
func Watch(ctx context.Context, paths []string, build func() error, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := map[string]bool{}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			logger.Debug("not watching missing path", "path", p)
			continue
		}
		dir := p
		if !info.IsDir() {
			dir = filepath.Dir(p)
		}
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
		watched[dir] = true
		logger.Debug("watching", "dir", dir)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsAudienceFile(event.Name) || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			logger.Info("file changed", "file", event.Name)
			if err := build(); err != nil {
				logger.Error("rebuild failed", "error", err)
			} else {
				logger.Info("rebuild complete")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}
