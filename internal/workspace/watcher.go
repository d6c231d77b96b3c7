package workspace

import (
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watcher wraps an fsnotify watcher over a workspace root. External
// edits only invalidate index entries; rehashing happens lazily on the
// next listing.
type watcher struct {
	fsw  *fsnotify.Watcher
	root string
}

// newWatcher starts watching root and every existing subdirectory.
// Watch failures degrade gracefully: without a watcher the index falls
// back to size+mtime comparison alone.
func newWatcher(root string, onDirty func(rel string)) *watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("workspace watcher unavailable", "root", root, "error", err)
		return nil
	}
	w := &watcher{fsw: fsw, root: root}

	addAll := func(dir string) {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			rel, _ := filepath.Rel(root, path)
			if rel != "." && ignored(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
			_ = fsw.Add(path)
			return nil
		})
	}
	addAll(root)

	go func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				rel, err := filepath.Rel(root, event.Name)
				if err != nil {
					continue
				}
				rel = filepath.ToSlash(rel)
				if ignored(rel) {
					continue
				}
				if event.Has(fsnotify.Create) {
					// New directories need their own watch.
					addAll(event.Name)
				}
				onDirty(rel)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("workspace watcher error", "root", root, "error", err)
			}
		}
	}()
	return w
}

func (w *watcher) Close() {
	if w == nil || w.fsw == nil {
		return
	}
	_ = w.fsw.Close()
}
