package compliance

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fleetctl/orchestrator/log"
)

// Watcher watches the rules document for changes and re-runs the
// extractor, debouncing bursts of writes within debounce (§4.8's 2 s
// default). Grounded on the pack's fsnotify watch-a-single-file-via-its-
// parent-directory pattern, since most editors replace a file rather than
// writing it in place, which a direct file watch would miss.
type Watcher struct {
	watcher   *fsnotify.Watcher
	path      string
	debounce  time.Duration
	extractor *Extractor
	onReload  func(generation int)

	stopCh chan struct{}
	doneCh chan struct{}
	mu     sync.Mutex
	timer  *time.Timer
}

// NewWatcher returns a Watcher for path, watching its parent directory so
// atomic-rename saves (the common editor save pattern) are still observed.
func NewWatcher(extractor *Extractor, path string, debounce time.Duration, onReload func(generation int)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{
		watcher:   fw,
		path:      path,
		debounce:  debounce,
		extractor: extractor,
		onReload:  onReload,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	base := filepath.Base(w.path)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("compliance: rules watcher error: %v", err)
		}
	}
}

// scheduleReload resets a single debounce timer per burst of events,
// matching §4.8's "debounces bursts ≤ 2s" requirement.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	generation, err := w.extractor.Run()
	if err != nil {
		log.Warnf("compliance: rules document reload failed: %v", err)
		return
	}
	log.Infof("compliance: rules document reloaded, generation %d", generation)
	if w.onReload != nil {
		w.onReload(generation)
	}
}

// Stop stops the watcher and releases its fsnotify handle.
func (w *Watcher) Stop() error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.doneCh
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
