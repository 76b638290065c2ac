package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches the deployment model file and flags drift. Changes are
// not applied live; the watcher logs and invokes the callback (which flips
// a gauge) so the operator knows a restart is needed.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onDrift func()
	logger  zerolog.Logger
	done    chan struct{}
}

// NewWatcher creates a watcher for the model file at path. onDrift is
// called once per observed modification.
func NewWatcher(path string, onDrift func(), logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors replace files instead of writing in
	// place, which would drop a watch on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fsw,
		onDrift: onDrift,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Warn().
				Str("model", w.path).
				Msg("deployment model changed on disk; restart required to apply")
			if w.onDrift != nil {
				w.onDrift()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("model watcher error")
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
