package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"brandforge/internal/logging"
)

// pollInterval backstops filesystems that drop or batch events.
const pollInterval = 250 * time.Millisecond

// WaitStable blocks until the file at path exists, is at least minSize bytes,
// and has gone one quiet window without writes or size changes. The layout
// application streams exports, so the moment of creation is not the moment
// the PDF is complete.
func WaitStable(ctx context.Context, path string, minSize int64, quiet time.Duration) error {
	log := logging.Get(logging.CategoryWorker)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: the export may not exist yet, and
	// some writers replace the file via rename.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var lastSize int64 = -1
	lastChange := time.Now()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if fi, err := os.Stat(path); err == nil {
			if fi.Size() != lastSize {
				lastSize = fi.Size()
				lastChange = time.Now()
			} else if fi.Size() >= minSize && time.Since(lastChange) >= quiet {
				log.Debugw("export stable", "path", path, "bytes", fi.Size())
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("waiting for %s: watcher closed", path)
			}
			if event.Name == path && event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				lastChange = time.Now()
			}
		case werr, ok := <-watcher.Errors:
			if ok && werr != nil {
				log.Warnw("export watcher error", "path", path, "err", werr)
			}
		case <-ticker.C:
		}
	}
}
