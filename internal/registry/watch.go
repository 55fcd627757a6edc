package registry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the local listing cache whenever the models directory
// changes on disk. It blocks until ctx is done.
func (r *DirRegistry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := addTree(w, r.dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", r.dir, err)
	}
	r.watchOnce.Do(func() { close(r.watching) })
	r.log.Debug().Str("dir", r.dir).Msg("watching models dir")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.HasSuffix(ev.Name, ".part") {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := addTree(w, ev.Name); err != nil {
						r.log.Warn().Err(err).Str("dir", ev.Name).Msg("watch subdir")
					}
				}
			}
			r.invalidate()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("models dir watcher")
		}
	}
}

// fsnotify watches are not recursive; nested model ids need one per directory.
func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
