package store

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/rundeck/internal/logging"
	"github.com/dshills/rundeck/internal/schedule"
)

// Watcher reloads a Catalog when its backing file changes on disk.
//
// The parent directory is watched rather than the file, because atomic
// saves replace the file and drop a watch placed on it.
type Watcher struct {
	fsw     *fsnotify.Watcher
	name    string
	reload  *schedule.Debouncer
	log     *logging.Logger
	done    chan struct{}
	wg      sync.WaitGroup
	closeMu sync.Once
}

// Watch starts watching path and calls catalog.Reload after changes
// settle for delay.
func Watch(catalog *Catalog, path string, delay time.Duration, log *logging.Logger) (*Watcher, error) {
	return watchFunc(path, delay, log, func() error { return catalog.Reload() })
}

func watchFunc(path string, delay time.Duration, log *logging.Logger, reload func() error) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:  fsw,
		name: filepath.Base(abs),
		log:  logging.OrNop(log).WithComponent("store-watcher"),
		done: make(chan struct{}),
	}
	w.reload = schedule.NewDebouncer(delay, func() {
		if err := reload(); err != nil {
			w.log.Warn("reload failed", "path", abs, "error", err)
		}
	})

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.reload.Call()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.closeMu.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
		w.reload.Cancel()
	})
	return err
}
