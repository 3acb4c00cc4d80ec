package configstore

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher nudges a callback whenever settings.json or curves.json changes
// on disk, letting the daemon pick up edits made outside the IPC
// ReloadConfig request (e.g. a hand-edited file, or the out-of-scope UI
// writing directly). ReloadConfig remains the authoritative, synchronous
// reload path; this is a convenience trigger for it.
type Watcher struct {
	fsw      *fsnotify.Watcher
	onChange func()
	done     chan struct{}
}

// NewWatcher watches the directories containing settingsPath and
// curvesPath (fsnotify watches directories, not files, to survive
// editors that replace-via-rename) and invokes onChange after any write or
// rename touching either filename.
func NewWatcher(settingsPath, curvesPath string, onChange func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dirs := map[string]bool{filepath.Dir(settingsPath): true, filepath.Dir(curvesPath): true}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &Watcher{fsw: fsw, onChange: onChange, done: make(chan struct{})}
	names := map[string]bool{filepath.Base(settingsPath): true, filepath.Base(curvesPath): true}
	go w.run(names)
	return w, nil
}

func (w *Watcher) run(names map[string]bool) {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !names[filepath.Base(ev.Name)] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.onChange()
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine and releases its inotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
