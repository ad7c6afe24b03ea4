package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// WatchFile reloads the rule list whenever the config file changes on disk.
// Editors replace files rather than writing in place, so the watch is on the
// directory and events are debounced.
//
// Only the rule list is hot-swapped; endpoint changes require a client restart
// to take effect and are left to the explicit admin operations.
func WatchFile(path string, store *Store) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var pending <-chan time.Time
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(250 * time.Millisecond)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("config watch: %v", err)
			case <-pending:
				pending = nil
				cfg, err := Load(path)
				if err != nil {
					log.Warnf("config reload skipped: %v", err)
					continue
				}
				if err := store.ReplaceRules(cfg.Routes); err != nil {
					log.Warnf("config reload rejected: %v", err)
					continue
				}
				log.WithField("routes", len(cfg.Routes)).Info("config reloaded")
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
