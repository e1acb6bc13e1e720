package roster

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Directory whenever one of its roster files changes.
type Watcher struct {
	dir      *Directory
	onReload func(path string)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a watcher for d. onReload, if set, is called after each
// reload with the changed path.
func NewWatcher(d *Directory, onReload func(path string)) *Watcher {
	return &Watcher{
		dir:      d,
		onReload: onReload,
		done:     make(chan struct{}),
	}
}

// Start begins watching. The directory must exist (Directory.Load creates
// it). Call Stop to clean up.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir.Dir()); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw

	go w.loop()
	w.dir.logger.Info("watching roster directory", "dir", w.dir.Dir())
	return nil
}

// Stop shuts down the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	_ = w.watcher.Close()
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isRosterFile(evt.Name) {
				continue
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			path := filepath.Clean(evt.Name)
			w.dir.reloadFile(path)
			if w.onReload != nil {
				w.onReload(path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.dir.logger.Warn("roster watcher error", "error", err)
		}
	}
}
