package permission

import (
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/minmaxflow/mini-kode/internal/event"
	"github.com/minmaxflow/mini-kode/internal/logging"
)

// GrantWatcher publishes grants.changed whenever the project grant file
// under a working directory changes on disk, whoever wrote it.
type GrantWatcher struct {
	watcher    *fsnotify.Watcher
	cwd        string
	projectDir string
	file       string
	grants     GrantStore
	bus        *event.Bus
	log        zerolog.Logger

	mu      sync.Mutex
	current []string
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewGrantWatcher watches cwd for the project directory and, once it
// exists, the grant file inside it.
func NewGrantWatcher(cwd string, grants GrantStore, bus *event.Bus) (*GrantWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cwd = filepath.Clean(cwd)
	if err := w.Add(cwd); err != nil {
		w.Close()
		return nil, err
	}

	gw := &GrantWatcher{
		watcher:    w,
		cwd:        cwd,
		projectDir: filepath.Join(cwd, ProjectDirName),
		file:       GrantsFile(cwd),
		grants:     grants,
		bus:        bus,
		log:        logging.Component("grant-watcher"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	if info, err := os.Stat(gw.projectDir); err == nil && info.IsDir() {
		if err := w.Add(gw.projectDir); err != nil {
			w.Close()
			return nil, err
		}
	}
	gw.current = grantKeys(grants.ProjectGrants(cwd))
	return gw, nil
}

// Start begins watching. It is a no-op after the first call.
func (w *GrantWatcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *GrantWatcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watch error")
		}
	}
}

func (w *GrantWatcher) handle(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)
	if name == w.projectDir && ev.Op&fsnotify.Create != 0 {
		// The directory appeared after we started; the file may already be in it.
		if err := w.watcher.Add(w.projectDir); err != nil {
			w.log.Warn().Err(err).Str("dir", w.projectDir).Msg("cannot watch project directory")
			return
		}
		w.refresh()
		return
	}
	if name == w.file || name == w.projectDir {
		w.refresh()
	}
}

// refresh rereads the grant file and publishes when its grants changed.
func (w *GrantWatcher) refresh() {
	grants := w.grants.ProjectGrants(w.cwd)
	keys := grantKeys(grants)

	w.mu.Lock()
	changed := !slices.Equal(keys, w.current)
	if changed {
		w.current = keys
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	w.log.Info().Str("file", w.file).Int("grants", len(grants)).Msg("project grants changed")
	w.bus.Publish(event.Event{
		Type: event.GrantsChanged,
		Data: event.GrantsChangedData{File: w.file, Grants: keys},
	})
}

// Stop stops the watcher and waits for it to exit.
func (w *GrantWatcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}

func grantKeys(grants []Grant) []string {
	keys := make([]string, len(grants))
	for i, g := range grants {
		keys[i] = g.String()
	}
	return keys
}
